package validate_test

import (
	"context"
	"testing"
	"time"

	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/migrate"
	"atelier/internal/queue"
	"atelier/internal/validate"
)

func newTestQueue(t *testing.T) queue.Queue {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	q := queue.New(conn)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	q.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return q
}

func claimedItem(t *testing.T, q queue.Queue) domain.WorkItem {
	t.Helper()
	ctx := context.Background()
	_, err := q.EmitNew(ctx, queue.NewItemOptions{
		Domain:  "diagrams",
		Spec:    domain.WorkSpec{Title: "converge"},
		JobSize: 1,
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	w, err := q.Claim(ctx, "diagrams", "tester")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.DepositArtifact(ctx, domain.Artifact{ItemID: w.ID, Code: "<svg/>", Format: domain.FormatSVG}, "tester"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return w
}

func TestAdvanceApproved(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	w := claimedItem(t, q)
	c := validate.Controller{Queue: q, MaxIterations: 3}

	vr := domain.ValidationResult{ItemID: w.ID, Iteration: w.Iteration, WeightedScore: 0.9, Approved: true}
	outcome, successor, err := c.Advance(ctx, w, vr, "tester")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if outcome != validate.OutcomeApproved || successor != nil {
		t.Fatalf("outcome %s, successor %v", outcome, successor)
	}
	got, err := q.Repo.GetWorkItem(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("status: %s", got.Status)
	}
	records, err := q.Repo.ListValidationsByItem(ctx, w.ID)
	if err != nil || len(records) != 1 {
		t.Fatalf("validations: %v, %v", records, err)
	}
	if records[0].Forced {
		t.Fatal("plain approval must not be marked forced")
	}
}

func TestAdvanceIterates(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	w := claimedItem(t, q)
	c := validate.Controller{Queue: q, MaxIterations: 3}

	vr := domain.ValidationResult{ItemID: w.ID, Iteration: w.Iteration, WeightedScore: 0.4, Feedback: "fix the legend"}
	outcome, successor, err := c.Advance(ctx, w, vr, "tester")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if outcome != validate.OutcomeIterated {
		t.Fatalf("outcome: %s", outcome)
	}
	if successor == nil {
		t.Fatal("expected a successor attempt")
	}
	if successor.Iteration != 1 || successor.Status != domain.StatusPending {
		t.Fatalf("successor shape: %+v", successor)
	}
	if len(successor.Spec.Feedback) != 1 || successor.Spec.Feedback[0] != "fix the legend" {
		t.Fatalf("successor feedback: %v", successor.Spec.Feedback)
	}
	got, err := q.Repo.GetWorkItem(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusIterating {
		t.Fatalf("predecessor status: %s", got.Status)
	}
}

func TestAdvanceForceApprovesAtBudget(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	w := claimedItem(t, q)
	c := validate.Controller{Queue: q, MaxIterations: 1}

	vr := domain.ValidationResult{ItemID: w.ID, Iteration: w.Iteration, WeightedScore: 0.4, Feedback: "still rough"}
	outcome, successor, err := c.Advance(ctx, w, vr, "tester")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if outcome != validate.OutcomeForceApproved || successor != nil {
		t.Fatalf("outcome %s, successor %v", outcome, successor)
	}
	got, err := q.Repo.GetWorkItem(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("status: %s", got.Status)
	}
	records, err := q.Repo.ListValidationsByItem(ctx, w.ID)
	if err != nil || len(records) != 1 {
		t.Fatalf("validations: %v, %v", records, err)
	}
	if !records[0].Forced {
		t.Fatal("exhausted budget must record forced=true")
	}
	if records[0].Feedback != "still rough" {
		t.Fatalf("feedback kept in record: %q", records[0].Feedback)
	}
	events, err := q.Repo.LatestEvents(ctx, 10, "diagrams", "item.force_approved", "work_item", w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("force approval event: got %d", len(events))
	}
}

func TestAdvanceMidLineageBudget(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	w := claimedItem(t, q)
	c := validate.Controller{Queue: q, MaxIterations: 2}

	// attempt 0 iterates, attempt 1 is the last and force-approves
	vr := domain.ValidationResult{ItemID: w.ID, Iteration: 0, WeightedScore: 0.3, Feedback: "a"}
	outcome, successor, err := c.Advance(ctx, w, vr, "tester")
	if err != nil || outcome != validate.OutcomeIterated {
		t.Fatalf("first advance: %s, %v", outcome, err)
	}
	next, err := q.Claim(ctx, "diagrams", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != successor.ID {
		t.Fatalf("claimed %s, want successor %s", next.ID, successor.ID)
	}
	if err := q.DepositArtifact(ctx, domain.Artifact{ItemID: next.ID, Code: "<svg/>", Format: domain.FormatSVG}, "tester"); err != nil {
		t.Fatalf("deposit successor: %v", err)
	}
	vr2 := domain.ValidationResult{ItemID: next.ID, Iteration: next.Iteration, WeightedScore: 0.3, Feedback: "b"}
	outcome, _, err = c.Advance(ctx, next, vr2, "tester")
	if err != nil || outcome != validate.OutcomeForceApproved {
		t.Fatalf("second advance: %s, %v", outcome, err)
	}
}
