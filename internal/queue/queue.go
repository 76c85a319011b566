package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/repo"
)

// Queue is the durable work-item store. Every mutation runs in a transaction
// together with its audit event, so state survives restarts and no partial
// writes are observable.
type Queue struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Queue {
	return Queue{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (q Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// NewItemOptions are parameters for creating the first attempt of a lineage.
type NewItemOptions struct {
	Domain      string
	Kind        string
	Spec        domain.WorkSpec
	Priority    string
	CostOfDelay float64
	JobSize     float64
	ActorID     string
}

// EmitNew creates iteration 0 of a new lineage, status pending.
func (q Queue) EmitNew(ctx context.Context, opts NewItemOptions) (domain.WorkItem, error) {
	if opts.Domain == "" {
		return domain.WorkItem{}, fmt.Errorf("%w: domain is required", ErrInvalidSpec)
	}
	if opts.Spec.Title == "" {
		return domain.WorkItem{}, fmt.Errorf("%w: spec title is required", ErrInvalidSpec)
	}
	if opts.JobSize <= 0 {
		return domain.WorkItem{}, fmt.Errorf("%w: job_size must be > 0, got %g", ErrInvalidSpec, opts.JobSize)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	switch opts.Priority {
	case domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow:
	default:
		return domain.WorkItem{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidSpec, opts.Priority)
	}
	now := q.now().UTC().Format(time.RFC3339)
	w := domain.WorkItem{
		ID:          uuid.New().String(),
		Domain:      opts.Domain,
		Kind:        opts.Kind,
		Spec:        opts.Spec,
		Priority:    opts.Priority,
		CostOfDelay: opts.CostOfDelay,
		JobSize:     opts.JobSize,
		Iteration:   0,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	if err := q.Repo.InsertWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := q.Events.Append(ctx, tx, events.TypeItemCreated, w.Domain, "work_item", w.ID, opts.ActorID, events.EventPayload{
		"kind": w.Kind, "priority": w.Priority, "title": w.Spec.Title,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

// EmitIteration creates the successor attempt for a superseded item, carrying
// the predecessor's spec with the consolidated feedback appended. The
// predecessor must already be iterating.
func (q Queue) EmitIteration(ctx context.Context, pred domain.WorkItem, feedback, actorID string) (domain.WorkItem, error) {
	cur, err := q.Repo.GetWorkItem(ctx, pred.ID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if cur.Status != domain.StatusIterating {
		return domain.WorkItem{}, fmt.Errorf("%w: predecessor %s is %s, want iterating", ErrInvalidTransition, cur.ID, cur.Status)
	}
	spec := cur.Spec
	if feedback != "" {
		spec.Feedback = append(append([]string(nil), spec.Feedback...), feedback)
	}
	now := q.now().UTC().Format(time.RFC3339)
	parentID := cur.ID
	w := domain.WorkItem{
		ID:          uuid.New().String(),
		Domain:      cur.Domain,
		Kind:        cur.Kind,
		Spec:        spec,
		Priority:    cur.Priority,
		CostOfDelay: cur.CostOfDelay,
		JobSize:     cur.JobSize,
		Iteration:   cur.Iteration + 1,
		ParentID:    &parentID,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	// One live item per lineage: refuse a second successor.
	exists, err := q.Repo.HasSuccessorTx(ctx, tx, cur.ID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if exists {
		return domain.WorkItem{}, fmt.Errorf("%w: item %s already has a successor", ErrInvalidTransition, cur.ID)
	}
	if err := q.Repo.InsertWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := q.Events.Append(ctx, tx, events.TypeItemIterated, w.Domain, "work_item", w.ID, actorID, events.EventPayload{
		"parent_id": cur.ID, "iteration": w.Iteration,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

// NextPending returns the highest-urgency pending item for a domain without
// claiming it. repo.ErrNotFound means the domain queue is empty.
func (q Queue) NextPending(ctx context.Context, dom string) (domain.WorkItem, error) {
	return q.Repo.NextPending(ctx, dom)
}

// Claim atomically selects the highest-urgency pending item and moves it to
// in_progress. The select and the guarded update share one transaction, so two
// workers can never claim the same item.
func (q Queue) Claim(ctx context.Context, dom, actorID string) (domain.WorkItem, error) {
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	w, err := q.Repo.NextPendingTx(ctx, tx, dom)
	if err != nil {
		return domain.WorkItem{}, err
	}
	now := q.now().UTC().Format(time.RFC3339)
	if err := q.Repo.SetStatusTx(ctx, tx, w.ID, domain.StatusPending, domain.StatusInProgress, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.WorkItem{}, fmt.Errorf("%w: item %s claimed concurrently", ErrInvalidTransition, w.ID)
		}
		return domain.WorkItem{}, err
	}
	if err := q.Events.Append(ctx, tx, events.TypeItemClaimed, w.Domain, "work_item", w.ID, actorID, nil); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	w.Status = domain.StatusInProgress
	w.UpdatedAt = now
	return w, nil
}

// allowedFrom maps each target status to the single status it may leave.
var allowedFrom = map[string]string{
	domain.StatusInProgress: domain.StatusPending,
	domain.StatusIterating:  domain.StatusInProgress,
	domain.StatusApproved:   domain.StatusInProgress,
	domain.StatusFailed:     domain.StatusInProgress,
}

func (q Queue) markStatus(ctx context.Context, id, target, evtType, actorID string, payload events.EventPayload) error {
	from, ok := allowedFrom[target]
	if !ok {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, target)
	}
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := q.now().UTC().Format(time.RFC3339)
	if err := q.Repo.SetStatusTx(ctx, tx, id, from, target, now); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		cur, getErr := q.Repo.GetWorkItemTx(ctx, tx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s for item %s", ErrInvalidTransition, cur.Status, target, id)
	}
	w, err := q.Repo.GetWorkItemTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := q.Events.Append(ctx, tx, evtType, w.Domain, "work_item", id, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (q Queue) MarkInProgress(ctx context.Context, id, actorID string) error {
	return q.markStatus(ctx, id, domain.StatusInProgress, events.TypeItemClaimed, actorID, nil)
}

func (q Queue) MarkIterating(ctx context.Context, id, actorID string) error {
	return q.markStatus(ctx, id, domain.StatusIterating, events.TypeItemIterated, actorID, nil)
}

func (q Queue) MarkApproved(ctx context.Context, id, actorID string) error {
	return q.markStatus(ctx, id, domain.StatusApproved, events.TypeItemApproved, actorID, nil)
}

// MarkForceApproved approves an item whose retry budget is exhausted; the
// distinct event type keeps forced terminations visible downstream.
func (q Queue) MarkForceApproved(ctx context.Context, id, actorID string) error {
	return q.markStatus(ctx, id, domain.StatusApproved, events.TypeItemForceApproved, actorID, events.EventPayload{"forced": true})
}

func (q Queue) MarkFailed(ctx context.Context, id, actorID, reason string) error {
	var payload events.EventPayload
	if reason != "" {
		payload = events.EventPayload{"reason": reason}
	}
	return q.markStatus(ctx, id, domain.StatusFailed, events.TypeItemFailed, actorID, payload)
}

// DepositArtifact associates the produced output with an item. The artifact is
// overwritable until the item reaches a terminal status.
func (q Queue) DepositArtifact(ctx context.Context, a domain.Artifact, actorID string) error {
	if a.ItemID == "" {
		return fmt.Errorf("%w: artifact item_id required", ErrInvalidSpec)
	}
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	w, err := q.Repo.GetWorkItemTx(ctx, tx, a.ItemID)
	if err != nil {
		return err
	}
	if w.Terminal() {
		return fmt.Errorf("%w: item %s is %s", ErrArtifactSealed, w.ID, w.Status)
	}
	a.UpdatedAt = q.now().UTC().Format(time.RFC3339)
	if err := q.Repo.UpsertArtifactTx(ctx, tx, a); err != nil {
		return err
	}
	if err := q.Events.Append(ctx, tx, events.TypeArtifactDeposited, w.Domain, "artifact", w.ID, actorID, events.EventPayload{
		"format": a.Format,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadArtifact retrieves the deposited artifact for an item id.
// repo.ErrNotFound means nothing was deposited.
func (q Queue) LoadArtifact(ctx context.Context, itemID string) (domain.Artifact, error) {
	return q.Repo.GetArtifact(ctx, itemID)
}

// RecordValidation persists one iteration's aggregate decision.
func (q Queue) RecordValidation(ctx context.Context, v domain.ValidationResult, actorID string) error {
	v.CreatedAt = q.now().UTC().Format(time.RFC3339)
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	w, err := q.Repo.GetWorkItemTx(ctx, tx, v.ItemID)
	if err != nil {
		return err
	}
	deposited, err := q.Repo.HasArtifactTx(ctx, tx, v.ItemID)
	if err != nil {
		return err
	}
	if !deposited {
		return fmt.Errorf("%w: no artifact deposited for item %s", ErrArtifactMissing, v.ItemID)
	}
	if err := q.Repo.InsertValidationTx(ctx, tx, v); err != nil {
		return err
	}
	if err := q.Events.Append(ctx, tx, events.TypeValidationScored, w.Domain, "validation", v.ItemID, actorID, events.EventPayload{
		"iteration": v.Iteration, "weighted_score": v.WeightedScore, "approved": v.Approved, "forced": v.Forced,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
