package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/migrate"
	"atelier/internal/queue"
	"atelier/internal/repo"
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

func TestListWorkItemsPagination(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.EmitNew(ctx, queue.NewItemOptions{
			Domain:  "diagrams",
			Spec:    domain.WorkSpec{Title: fmt.Sprintf("item %d", i)},
			JobSize: 1,
			ActorID: "tester",
		})
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	first, err := q.Repo.ListWorkItems(ctx, repo.WorkItemFilters{Domain: "diagrams", Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first page size: %d", len(first))
	}
	// newest first
	if first[0].Spec.Title != "item 4" || first[1].Spec.Title != "item 3" {
		t.Fatalf("order: %s, %s", first[0].Spec.Title, first[1].Spec.Title)
	}
	last := first[len(first)-1]
	second, err := q.Repo.ListWorkItems(ctx, repo.WorkItemFilters{
		Domain:          "diagrams",
		Limit:           2,
		CursorCreatedAt: last.CreatedAt,
		CursorID:        last.ID,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 || second[0].Spec.Title != "item 2" {
		t.Fatalf("second page: %+v", second)
	}
}

func TestListWorkItemsFilters(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for _, dom := range []string{"east", "east", "west"} {
		if _, err := q.EmitNew(ctx, queue.NewItemOptions{
			Domain:  dom,
			Spec:    domain.WorkSpec{Title: dom},
			JobSize: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}
	east, err := q.Repo.ListWorkItems(ctx, repo.WorkItemFilters{Domain: "east"})
	if err != nil {
		t.Fatal(err)
	}
	if len(east) != 2 {
		t.Fatalf("east items: %d", len(east))
	}
	doms, err := q.Repo.Domains(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(doms) != 2 {
		t.Fatalf("domains: %v", doms)
	}
}

func TestCountByStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := q.EmitNew(ctx, queue.NewItemOptions{
			Domain: "diagrams", Spec: domain.WorkSpec{Title: "x"}, JobSize: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := q.Claim(ctx, "diagrams", "tester"); err != nil {
		t.Fatal(err)
	}
	counts, err := q.Repo.CountByStatus(ctx, "diagrams")
	if err != nil {
		t.Fatal(err)
	}
	if counts["pending"] != 2 || counts["in_progress"] != 1 {
		t.Fatalf("counts: %v", counts)
	}
	pending, err := q.Repo.PendingCount(ctx, []string{"diagrams"})
	if err != nil {
		t.Fatal(err)
	}
	if pending != 2 {
		t.Fatalf("pending: %d", pending)
	}
}

func TestAPIKeyRoundtrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	hash := repo.HashAPIKey("atk_secret")
	if hash == "" || hash == "atk_secret" {
		t.Fatalf("hash: %q", hash)
	}
	record := domain.APIKey{ID: "k1", ActorID: "robot", Name: "ci", KeyHash: hash}
	if err := q.Repo.InsertAPIKey(ctx, nil, record); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := q.Repo.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ActorID != "robot" || got.CreatedAt == "" {
		t.Fatalf("roundtrip: %+v", got)
	}
	if _, err := q.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey("other")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown hash: %v", err)
	}
	if err := q.Repo.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := q.Repo.GetAPIKeyByHash(ctx, hash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}

func TestEventCursorPaging(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := q.EmitNew(ctx, queue.NewItemOptions{
			Domain: "diagrams", Spec: domain.WorkSpec{Title: "x"}, JobSize: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := q.Repo.LatestEventsFrom(ctx, 2, 0, "diagrams", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID <= page[1].ID {
		t.Fatalf("newest first: %+v", page)
	}
	older, err := q.Repo.LatestEventsFrom(ctx, 10, page[1].ID, "diagrams", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 {
		t.Fatalf("older page: %d", len(older))
	}
	forward, err := q.Repo.EventsAfter(ctx, 10, older[len(older)-1].ID, "diagrams")
	if err != nil {
		t.Fatal(err)
	}
	if len(forward) != 3 {
		t.Fatalf("forward page: %d", len(forward))
	}
}
