package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"atelier/internal/config"
	"atelier/internal/critic"
	"atelier/internal/domain"
)

// Validator turns one attempt's artifact into an aggregate decision. The panel
// pipeline and the visual refinement loop both implement it, so one
// convergence controller drives either.
type Validator interface {
	Validate(ctx context.Context, item domain.WorkItem, artifact domain.Artifact) domain.ValidationResult
}

// Panel combines independent panel critics with a master critic that holds
// veto authority.
type Panel struct {
	Critics []critic.Critic
	Master  critic.Critic
	Policy  config.DomainPolicy
}

func (p Panel) Validate(ctx context.Context, item domain.WorkItem, artifact domain.Artifact) domain.ValidationResult {
	req := critic.Request{Artifact: artifact, Brief: item.Spec}

	// Panel critics are independent; each writes only its own slot.
	results := make([]domain.CriticResult, len(p.Critics))
	var wg sync.WaitGroup
	for i, c := range p.Critics {
		wg.Add(1)
		go func(i int, c critic.Critic) {
			defer wg.Done()
			results[i] = c.Evaluate(ctx, req)
		}(i, c)
	}
	wg.Wait()

	masterReq := req
	masterReq.Panel = results
	master := p.Master.Evaluate(ctx, masterReq)

	all := append(append([]domain.CriticResult(nil), results...), master)
	weighted := weightedScore(results, master, p.Policy.MasterWeight)

	// A master veto overrides consensus regardless of the weighted score.
	approved := weighted >= p.Policy.ApprovalThreshold
	if !master.Passed() || master.Score < p.Policy.MasterVetoThreshold {
		approved = false
	}

	return domain.ValidationResult{
		ItemID:        item.ID,
		Iteration:     item.Iteration,
		Results:       all,
		MasterScore:   master.Score,
		WeightedScore: weighted,
		Approved:      approved,
		Feedback:      consolidateFeedback(all),
	}
}

// weightedScore blends the panel mean with the master score. masterWeight is
// the master's share; with no panel the master score stands alone.
func weightedScore(panel []domain.CriticResult, master domain.CriticResult, masterWeight float64) float64 {
	if len(panel) == 0 {
		return master.Score
	}
	var sum float64
	for _, r := range panel {
		sum += r.Score
	}
	mean := sum / float64(len(panel))
	return (1-masterWeight)*mean + masterWeight*master.Score
}

// consolidateFeedback concatenates failing critics' feedback worst-score-first
// for use as the next attempt's revision brief.
func consolidateFeedback(results []domain.CriticResult) string {
	var failing []domain.CriticResult
	for _, r := range results {
		if !r.Passed() && r.Feedback != "" {
			failing = append(failing, r)
		}
	}
	sort.SliceStable(failing, func(i, j int) bool { return failing[i].Score < failing[j].Score })
	var lines []string
	for _, r := range failing {
		label := r.AgentName
		if r.Aspect != "" {
			label = fmt.Sprintf("%s (%s)", r.AgentName, r.Aspect)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, r.Feedback))
	}
	return strings.Join(lines, "\n")
}

// Renderer turns an artifact into an image the vision critic can look at.
// Rendering itself (tracing, rasterization) lives outside the core.
type Renderer interface {
	Render(ctx context.Context, artifact domain.Artifact) (imagePath string, err error)
}

// Vision drives the visual refinement variant: one vision critic judging a
// rendered image, no panel and no separate veto.
type Vision struct {
	Critic    critic.Critic
	Renderer  Renderer
	Threshold float64
}

func (v Vision) Validate(ctx context.Context, item domain.WorkItem, artifact domain.Artifact) domain.ValidationResult {
	req := critic.Request{Artifact: artifact, Brief: item.Spec}
	if v.Renderer != nil {
		path, err := v.Renderer.Render(ctx, artifact)
		if err != nil {
			// A render failure degrades like an unparsable critic response.
			res := critic.Degraded(v.Critic.Name(), "visual", fmt.Errorf("render: %w", err))
			return domain.ValidationResult{
				ItemID:        item.ID,
				Iteration:     item.Iteration,
				Results:       []domain.CriticResult{res},
				MasterScore:   res.Score,
				WeightedScore: res.Score,
				Approved:      false,
				Feedback:      res.Feedback,
			}
		}
		req.ImagePath = path
	}
	res := v.Critic.Evaluate(ctx, req)
	approved := res.Passed() && res.Score >= v.Threshold
	feedback := ""
	if !approved {
		feedback = consolidateFeedback([]domain.CriticResult{res})
	}
	return domain.ValidationResult{
		ItemID:        item.ID,
		Iteration:     item.Iteration,
		Results:       []domain.CriticResult{res},
		MasterScore:   res.Score,
		WeightedScore: res.Score,
		Approved:      approved,
		Feedback:      feedback,
	}
}
