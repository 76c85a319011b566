package critic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"atelier/internal/domain"
)

// Invoker is the evaluation channel boundary (a chat or vision model caller).
// The returned text is expected to contain a fenced JSON block with the
// critic's structured result; anything else triggers the degraded-result
// policy.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, attachments []string) (string, error)
}

// Request carries everything a critic may need for one evaluation.
type Request struct {
	Artifact domain.Artifact
	Brief    domain.WorkSpec
	// Panel holds earlier panel results; only the master critic receives it.
	Panel []domain.CriticResult
	// ImagePath points at a rendered artifact; only the vision critic uses it.
	ImagePath string
}

// Critic scores an artifact against a brief. Evaluate never fails past this
// boundary: unparsable or erroring backends degrade to a conservative
// fail-scored result so one flaky upstream call cannot abort the pipeline.
type Critic interface {
	Name() string
	Evaluate(ctx context.Context, req Request) domain.CriticResult
}

// PanelCritic scores one narrow aspect of an artifact, independently of other
// critics.
type PanelCritic struct {
	CriticName string
	Aspect     string
	Threshold  float64
	Backend    Invoker
	Timeout    time.Duration
}

func (c PanelCritic) Name() string { return c.CriticName }

func (c PanelCritic) Evaluate(ctx context.Context, req Request) domain.CriticResult {
	prompt := buildPrompt(req, fmt.Sprintf("Assess only this aspect: %s.", c.Aspect))
	text, err := invoke(ctx, c.Backend, c.Timeout, prompt, nil)
	if err != nil {
		return Degraded(c.CriticName, c.Aspect, err)
	}
	payload, err := parseResult(text)
	if err != nil {
		return Degraded(c.CriticName, c.Aspect, err)
	}
	score := clamp01(payload.Score)
	return domain.CriticResult{
		AgentName: c.CriticName,
		Aspect:    c.Aspect,
		Score:     score,
		Verdict:   verdictFor(score, c.Threshold),
		Feedback:  payload.Feedback,
	}
}

// MasterCritic scores overall fitness and holds veto authority. It receives
// the panel's results as additional context.
type MasterCritic struct {
	CriticName string
	Threshold  float64
	Backend    Invoker
	Timeout    time.Duration
}

func (c MasterCritic) Name() string { return c.CriticName }

func (c MasterCritic) Evaluate(ctx context.Context, req Request) domain.CriticResult {
	var b strings.Builder
	b.WriteString("Assess overall fitness for purpose.\n")
	if len(req.Panel) > 0 {
		b.WriteString("Panel findings so far:\n")
		for _, r := range req.Panel {
			fmt.Fprintf(&b, "- %s (%s): %.2f %s: %s\n", r.AgentName, r.Aspect, r.Score, r.Verdict, r.Feedback)
		}
	}
	prompt := buildPrompt(req, b.String())
	text, err := invoke(ctx, c.Backend, c.Timeout, prompt, nil)
	if err != nil {
		return Degraded(c.CriticName, "overall", err)
	}
	payload, err := parseResult(text)
	if err != nil {
		return Degraded(c.CriticName, "overall", err)
	}
	score := clamp01(payload.Score)
	return domain.CriticResult{
		AgentName: c.CriticName,
		Aspect:    "overall",
		Score:     score,
		Verdict:   verdictFor(score, c.Threshold),
		Feedback:  payload.Feedback,
	}
}

// VisionCritic scores a rendered image against the brief across named
// dimensions and returns an ordered list of requested changes as feedback.
type VisionCritic struct {
	CriticName string
	Threshold  float64
	Dimensions []string
	Backend    Invoker
	Timeout    time.Duration
}

func (c VisionCritic) Name() string { return c.CriticName }

func (c VisionCritic) Evaluate(ctx context.Context, req Request) domain.CriticResult {
	dims := "your judgment"
	if len(c.Dimensions) > 0 {
		dims = strings.Join(c.Dimensions, ", ")
	}
	prompt := buildPrompt(req, fmt.Sprintf("Score the rendered image across: %s. List requested changes in priority order.", dims))
	var attachments []string
	if req.ImagePath != "" {
		attachments = []string{req.ImagePath}
	}
	text, err := invoke(ctx, c.Backend, c.Timeout, prompt, attachments)
	if err != nil {
		return Degraded(c.CriticName, "visual", err)
	}
	payload, err := parseResult(text)
	if err != nil {
		return Degraded(c.CriticName, "visual", err)
	}
	score := payload.Score
	if len(payload.Scores) > 0 {
		// Per-dimension scores average into the overall score.
		var sum float64
		for _, v := range payload.Scores {
			sum += clamp01(v)
		}
		score = sum / float64(len(payload.Scores))
	}
	score = clamp01(score)
	feedback := payload.Feedback
	if len(payload.Changes) > 0 {
		var b strings.Builder
		if feedback != "" {
			b.WriteString(feedback)
			b.WriteString("\n")
		}
		for i, change := range payload.Changes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, change)
		}
		feedback = strings.TrimRight(b.String(), "\n")
	}
	return domain.CriticResult{
		AgentName: c.CriticName,
		Aspect:    "visual",
		Score:     score,
		Verdict:   verdictFor(score, c.Threshold),
		Feedback:  feedback,
	}
}

// Degraded is the fixed conservative result used when a backend errors, times
// out, or returns unparsable output.
func Degraded(name, aspect string, cause error) domain.CriticResult {
	return domain.CriticResult{
		AgentName: name,
		Aspect:    aspect,
		Score:     0.5,
		Verdict:   domain.VerdictFail,
		Feedback:  fmt.Sprintf("evaluation degraded: %v", cause),
		Degraded:  true,
	}
}

func invoke(ctx context.Context, backend Invoker, timeout time.Duration, prompt string, attachments []string) (string, error) {
	if backend == nil {
		return "", fmt.Errorf("no backend configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return backend.Invoke(ctx, prompt, attachments)
}

func buildPrompt(req Request, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brief: %s\n", req.Brief.Title)
	if req.Brief.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Brief.Description)
	}
	for _, c := range req.Brief.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	if len(req.Brief.Feedback) > 0 {
		b.WriteString("Earlier feedback:\n")
		for _, f := range req.Brief.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if req.Artifact.Code != "" {
		fmt.Fprintf(&b, "Artifact (%s):\n%s\n", req.Artifact.Format, req.Artifact.Code)
	}
	b.WriteString(instructions)
	b.WriteString("\nReply with a fenced json block: {\"score\": 0..1, \"feedback\": \"...\"}.")
	return b.String()
}

func verdictFor(score, threshold float64) string {
	if score >= threshold {
		return domain.VerdictPass
	}
	return domain.VerdictFail
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
