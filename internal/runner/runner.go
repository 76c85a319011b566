package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"atelier/internal/config"
	"atelier/internal/critic"
	"atelier/internal/domain"
	"atelier/internal/queue"
	"atelier/internal/repo"
	"atelier/internal/validate"
)

// KindVisualRefinement routes an item through the vision critic loop instead
// of the panel/master pipeline.
const KindVisualRefinement = "visual_refinement"

// Generator is the external artifact producer boundary. The core treats it as
// an opaque call with bounded latency.
type Generator interface {
	Produce(ctx context.Context, spec domain.WorkSpec) (domain.Artifact, error)
}

// Runner pulls the highest-priority pending item, executes one attempt through
// the generator and critics, and drives the convergence controller.
type Runner struct {
	Queue     queue.Queue
	Config    *config.Config
	Generator Generator
	Backend   critic.Invoker
	Renderer  validate.Renderer
	Logger    *log.Logger
	ActorID   string

	// ValidatorFor overrides critic construction from config; tests use it to
	// inject stub validators.
	ValidatorFor func(dom string, item domain.WorkItem) validate.Validator
}

// Report summarizes a run for the invoking layer.
type Report struct {
	Processed     int           `json:"processed"`
	Approved      int           `json:"approved"`
	ForceApproved int           `json:"force_approved"`
	Iterated      int           `json:"iterated"`
	Failed        int           `json:"failed"`
	Elapsed       time.Duration `json:"elapsed"`
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r *Runner) actor() string {
	if r.ActorID != "" {
		return r.ActorID
	}
	return "runner"
}

func (r *Runner) evalTimeout() time.Duration {
	if r.Config != nil && r.Config.Runner.EvalTimeoutSeconds > 0 {
		return time.Duration(r.Config.Runner.EvalTimeoutSeconds) * time.Second
	}
	return 0
}

func (r *Runner) genTimeout() time.Duration {
	if r.Config != nil && r.Config.Runner.GenTimeoutSeconds > 0 {
		return time.Duration(r.Config.Runner.GenTimeoutSeconds) * time.Second
	}
	return 0
}

// validatorFor builds the validator for an item from the domain policy:
// panel + master for ordinary items, the vision critic for visual refinement.
func (r *Runner) validatorFor(dom string, item domain.WorkItem) validate.Validator {
	if r.ValidatorFor != nil {
		return r.ValidatorFor(dom, item)
	}
	policy := r.Config.Policy(dom)
	timeout := r.evalTimeout()
	if item.Kind == KindVisualRefinement && policy.Vision != nil {
		return validate.Vision{
			Critic: critic.VisionCritic{
				CriticName: policy.Vision.Name,
				Threshold:  policy.Vision.Threshold,
				Dimensions: policy.Vision.Dimensions,
				Backend:    r.Backend,
				Timeout:    timeout,
			},
			Renderer:  r.Renderer,
			Threshold: policy.Vision.Threshold,
		}
	}
	panel := make([]critic.Critic, 0, len(policy.Panel))
	for _, c := range policy.Panel {
		panel = append(panel, critic.PanelCritic{
			CriticName: c.Name,
			Aspect:     c.Aspect,
			Threshold:  c.Threshold,
			Backend:    r.Backend,
			Timeout:    timeout,
		})
	}
	return validate.Panel{
		Critics: panel,
		Master: critic.MasterCritic{
			CriticName: policy.Master.Name,
			Threshold:  policy.Master.Threshold,
			Backend:    r.Backend,
			Timeout:    timeout,
		},
		Policy: policy,
	}
}

func (r *Runner) maxIterations(dom string, item domain.WorkItem) int {
	policy := r.Config.Policy(dom)
	if item.Kind == KindVisualRefinement && policy.Vision != nil {
		return policy.Vision.MaxIterations
	}
	if policy.MaxIterations < 1 {
		return 1
	}
	return policy.MaxIterations
}

// RunOnce claims and processes a single item from the domain. It returns
// repo.ErrNotFound (wrapped) when the domain queue is empty.
func (r *Runner) RunOnce(ctx context.Context, dom string) (validate.Outcome, error) {
	item, err := r.Queue.Claim(ctx, dom, r.actor())
	if err != nil {
		return "", err
	}
	return r.process(ctx, item)
}

// process runs one attempt end to end: generate, deposit, validate, converge.
func (r *Runner) process(ctx context.Context, item domain.WorkItem) (validate.Outcome, error) {
	genCtx := ctx
	if t := r.genTimeout(); t > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	artifact, err := r.Generator.Produce(genCtx, item.Spec)
	if err != nil {
		// Generation failed entirely: the item fails rather than looping.
		if markErr := r.Queue.MarkFailed(ctx, item.ID, r.actor(), err.Error()); markErr != nil {
			return "", fmt.Errorf("mark failed after generation error: %w", markErr)
		}
		return "", fmt.Errorf("generation failure for item %s: %w", item.ID, err)
	}
	artifact.ItemID = item.ID
	if err := r.Queue.DepositArtifact(ctx, artifact, r.actor()); err != nil {
		return "", err
	}

	validator := r.validatorFor(item.Domain, item)
	vr := validator.Validate(ctx, item, artifact)

	controller := validate.Controller{Queue: r.Queue, MaxIterations: r.maxIterations(item.Domain, item)}
	outcome, _, err := controller.Advance(ctx, item, vr, r.actor())
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// Drain repeatedly pulls and processes until every watched domain is empty.
// Item errors are counted and logged, not fatal.
func (r *Runner) Drain(ctx context.Context, domains []string) (Report, error) {
	start := time.Now()
	var report Report
	for {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}
		processed := false
		for _, dom := range r.watchedDomains(ctx, domains) {
			outcome, err := r.RunOnce(ctx, dom)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			processed = true
			report.count(outcome, err)
			if err != nil {
				r.logger().Printf("runner: item error in domain %s: %v", dom, err)
			}
		}
		if !processed {
			report.Elapsed = time.Since(start)
			return report, nil
		}
	}
}

// Daemon polls the watched domains at a fixed interval with the configured
// number of workers, exiting cleanly once no pending items have been seen for
// the max idle window.
func (r *Runner) Daemon(ctx context.Context, domains []string) (Report, error) {
	start := time.Now()
	interval := 5 * time.Second
	if r.Config != nil && r.Config.Runner.PollIntervalSeconds > 0 {
		interval = time.Duration(r.Config.Runner.PollIntervalSeconds) * time.Second
	}
	maxIdle := 60 * time.Second
	if r.Config != nil && r.Config.Runner.MaxIdleSeconds > 0 {
		maxIdle = time.Duration(r.Config.Runner.MaxIdleSeconds) * time.Second
	}
	workers := 1
	if r.Config != nil && r.Config.Runner.Workers > 1 {
		workers = r.Config.Runner.Workers
	}

	var mu sync.Mutex
	var report Report
	lastWork := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				processed := false
				for _, dom := range r.watchedDomains(gctx, domains) {
					outcome, err := r.RunOnce(gctx, dom)
					if errors.Is(err, repo.ErrNotFound) {
						continue
					}
					if gctx.Err() != nil {
						return gctx.Err()
					}
					processed = true
					mu.Lock()
					report.count(outcome, err)
					lastWork = time.Now()
					mu.Unlock()
					if err != nil {
						// A single item's failure never stops the daemon.
						r.logger().Printf("runner: item error in domain %s: %v", dom, err)
					}
				}
				if processed {
					continue
				}
				mu.Lock()
				idle := time.Since(lastWork)
				mu.Unlock()
				if idle >= maxIdle {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(interval):
				}
			}
		})
	}
	err := g.Wait()
	mu.Lock()
	report.Elapsed = time.Since(start)
	out := report
	mu.Unlock()
	if err != nil && errors.Is(err, context.Canceled) {
		// Cancellation is a normal shutdown path for the daemon.
		return out, nil
	}
	return out, err
}

// watchedDomains resolves which domains to poll: the explicit list, else the
// union of configured domains and domains present in the store.
func (r *Runner) watchedDomains(ctx context.Context, domains []string) []string {
	if len(domains) > 0 {
		return domains
	}
	seen := map[string]bool{}
	var out []string
	if r.Config != nil {
		for dom := range r.Config.Domains {
			if !seen[dom] {
				seen[dom] = true
				out = append(out, dom)
			}
		}
	}
	stored, err := r.Queue.Repo.Domains(ctx)
	if err != nil {
		r.logger().Printf("runner: list domains: %v", err)
	}
	for _, dom := range stored {
		if !seen[dom] {
			seen[dom] = true
			out = append(out, dom)
		}
	}
	sort.Strings(out)
	return out
}

func (rep *Report) count(outcome validate.Outcome, err error) {
	rep.Processed++
	if err != nil {
		rep.Failed++
		return
	}
	switch outcome {
	case validate.OutcomeApproved:
		rep.Approved++
	case validate.OutcomeForceApproved:
		rep.ForceApproved++
	case validate.OutcomeIterated:
		rep.Iterated++
	}
}
