package validate

import (
	"context"
	"fmt"

	"atelier/internal/domain"
	"atelier/internal/queue"
)

// Outcome is the convergence decision for one attempt.
type Outcome string

const (
	OutcomeApproved      Outcome = "approved"
	OutcomeIterated      Outcome = "iterated"
	OutcomeForceApproved Outcome = "force_approved"
)

// Controller is the per-lineage retry state machine. Given an attempt's
// aggregate decision it approves the item, emits a successor attempt, or
// force-approves once the retry budget is exhausted. Forced approval trades
// guaranteed consensus for bounded latency: no lineage runs more than
// MaxIterations attempts.
type Controller struct {
	Queue         queue.Queue
	MaxIterations int
}

// Advance records the validation, applies the status transition, and returns
// the outcome plus the successor item when one was emitted.
func (c Controller) Advance(ctx context.Context, item domain.WorkItem, vr domain.ValidationResult, actorID string) (Outcome, *domain.WorkItem, error) {
	if c.MaxIterations < 1 {
		return "", nil, fmt.Errorf("max iterations must be at least 1")
	}
	switch {
	case vr.Approved:
		if err := c.Queue.RecordValidation(ctx, vr, actorID); err != nil {
			return "", nil, err
		}
		if err := c.Queue.MarkApproved(ctx, item.ID, actorID); err != nil {
			return "", nil, err
		}
		return OutcomeApproved, nil, nil

	case item.Iteration < c.MaxIterations-1:
		if err := c.Queue.RecordValidation(ctx, vr, actorID); err != nil {
			return "", nil, err
		}
		if err := c.Queue.MarkIterating(ctx, item.ID, actorID); err != nil {
			return "", nil, err
		}
		successor, err := c.Queue.EmitIteration(ctx, item, vr.Feedback, actorID)
		if err != nil {
			return "", nil, err
		}
		return OutcomeIterated, &successor, nil

	default:
		// Retry budget exhausted: ship approved-with-notes, feedback kept in
		// the record so consumers can see it lacked full consensus.
		vr.Forced = true
		if err := c.Queue.RecordValidation(ctx, vr, actorID); err != nil {
			return "", nil, err
		}
		if err := c.Queue.MarkForceApproved(ctx, item.ID, actorID); err != nil {
			return "", nil, err
		}
		return OutcomeForceApproved, nil, nil
	}
}
