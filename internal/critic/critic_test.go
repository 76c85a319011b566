package critic_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"atelier/internal/critic"
	"atelier/internal/domain"
)

type stubBackend struct {
	reply       string
	err         error
	prompt      string
	attachments []string
}

func (s *stubBackend) Invoke(ctx context.Context, prompt string, attachments []string) (string, error) {
	s.prompt = prompt
	s.attachments = attachments
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func TestPanelCriticScoresFromFencedJSON(t *testing.T) {
	backend := &stubBackend{reply: "Looks good overall.\n```json\n{\"score\": 0.87, \"feedback\": \"tidy\"}\n```\n"}
	c := critic.PanelCritic{CriticName: "clarity-critic", Aspect: "clarity", Threshold: 0.7, Backend: backend}

	res := c.Evaluate(context.Background(), critic.Request{
		Brief:    domain.WorkSpec{Title: "auth flow", AcceptanceCriteria: []string{"show the token exchange"}},
		Artifact: domain.Artifact{Code: "<svg/>", Format: domain.FormatSVG},
	})
	if res.Degraded {
		t.Fatalf("unexpected degrade: %+v", res)
	}
	if res.Score != 0.87 || res.Verdict != domain.VerdictPass || res.Feedback != "tidy" {
		t.Fatalf("result: %+v", res)
	}
	if res.AgentName != "clarity-critic" || res.Aspect != "clarity" {
		t.Fatalf("identity: %+v", res)
	}
	if !strings.Contains(backend.prompt, "auth flow") || !strings.Contains(backend.prompt, "show the token exchange") {
		t.Fatalf("prompt missing brief: %q", backend.prompt)
	}
	if !strings.Contains(backend.prompt, "clarity") {
		t.Fatalf("prompt missing aspect: %q", backend.prompt)
	}
}

func TestPanelCriticFailVerdictBelowThreshold(t *testing.T) {
	backend := &stubBackend{reply: "```json\n{\"score\": 0.5, \"feedback\": \"labels unreadable\"}\n```"}
	c := critic.PanelCritic{CriticName: "c", Aspect: "clarity", Threshold: 0.7, Backend: backend}
	res := c.Evaluate(context.Background(), critic.Request{})
	if res.Verdict != domain.VerdictFail || res.Degraded {
		t.Fatalf("result: %+v", res)
	}
}

func TestDegradedOnBackendError(t *testing.T) {
	backend := &stubBackend{err: errors.New("connection refused")}
	c := critic.PanelCritic{CriticName: "c", Aspect: "clarity", Threshold: 0.7, Backend: backend}
	res := c.Evaluate(context.Background(), critic.Request{})
	if !res.Degraded || res.Score != 0.5 || res.Verdict != domain.VerdictFail {
		t.Fatalf("degraded shape: %+v", res)
	}
	if !strings.Contains(res.Feedback, "connection refused") {
		t.Fatalf("cause missing: %q", res.Feedback)
	}
}

func TestDegradedOnUnparsableReply(t *testing.T) {
	for _, reply := range []string{
		"I think it is fine.",
		"```json\nnot json\n```",
		"```json\n{\"feedback\": \"no score\"}\n```",
		"",
	} {
		backend := &stubBackend{reply: reply}
		c := critic.MasterCritic{CriticName: "master", Threshold: 0.7, Backend: backend}
		res := c.Evaluate(context.Background(), critic.Request{})
		if !res.Degraded {
			t.Errorf("reply %q: expected degrade, got %+v", reply, res)
		}
	}
}

func TestDegradedOnMissingBackend(t *testing.T) {
	c := critic.PanelCritic{CriticName: "c", Aspect: "x", Threshold: 0.5}
	res := c.Evaluate(context.Background(), critic.Request{})
	if !res.Degraded {
		t.Fatalf("nil backend must degrade: %+v", res)
	}
}

func TestScoreClamped(t *testing.T) {
	backend := &stubBackend{reply: "{\"score\": 1.4}"}
	c := critic.PanelCritic{CriticName: "c", Aspect: "x", Threshold: 0.5, Backend: backend}
	if res := c.Evaluate(context.Background(), critic.Request{}); res.Score != 1 {
		t.Fatalf("clamp high: %g", res.Score)
	}
	backend.reply = "{\"score\": -0.2}"
	if res := c.Evaluate(context.Background(), critic.Request{}); res.Score != 0 {
		t.Fatalf("clamp low: %g", res.Score)
	}
}

func TestMasterPromptIncludesPanelFindings(t *testing.T) {
	backend := &stubBackend{reply: "{\"score\": 0.9}"}
	c := critic.MasterCritic{CriticName: "master", Threshold: 0.7, Backend: backend}
	res := c.Evaluate(context.Background(), critic.Request{
		Panel: []domain.CriticResult{
			{AgentName: "clarity-critic", Aspect: "clarity", Score: 0.4, Verdict: domain.VerdictFail, Feedback: "crowded"},
		},
	})
	if res.Aspect != "overall" {
		t.Fatalf("aspect: %s", res.Aspect)
	}
	if !strings.Contains(backend.prompt, "clarity-critic") || !strings.Contains(backend.prompt, "crowded") {
		t.Fatalf("panel findings missing from prompt: %q", backend.prompt)
	}
}

func TestVisionCriticAveragesDimensions(t *testing.T) {
	backend := &stubBackend{reply: "```json\n{\"scores\": {\"layout\": 0.8, \"legibility\": 0.6}, \"changes\": [\"thicken arrows\", \"move legend\"]}\n```"}
	c := critic.VisionCritic{
		CriticName: "vision",
		Threshold:  0.65,
		Dimensions: []string{"layout", "legibility"},
		Backend:    backend,
	}
	res := c.Evaluate(context.Background(), critic.Request{ImagePath: "/tmp/render.png"})
	if math.Abs(res.Score-0.7) > 1e-9 {
		t.Fatalf("averaged score: %g", res.Score)
	}
	if res.Verdict != domain.VerdictPass {
		t.Fatalf("verdict: %s", res.Verdict)
	}
	if len(backend.attachments) != 1 || backend.attachments[0] != "/tmp/render.png" {
		t.Fatalf("attachments: %v", backend.attachments)
	}
	if !strings.Contains(res.Feedback, "1. thicken arrows") || !strings.Contains(res.Feedback, "2. move legend") {
		t.Fatalf("changes not numbered in feedback: %q", res.Feedback)
	}
	if !strings.Contains(backend.prompt, "layout, legibility") {
		t.Fatalf("dimensions missing from prompt: %q", backend.prompt)
	}
}

func TestVisionCriticSingleScore(t *testing.T) {
	backend := &stubBackend{reply: "{\"score\": 0.4, \"feedback\": \"cluttered\"}"}
	c := critic.VisionCritic{CriticName: "vision", Threshold: 0.8, Backend: backend}
	res := c.Evaluate(context.Background(), critic.Request{})
	if res.Score != 0.4 || res.Verdict != domain.VerdictFail || res.Feedback != "cluttered" {
		t.Fatalf("result: %+v", res)
	}
	if len(backend.attachments) != 0 {
		t.Fatalf("no image expected: %v", backend.attachments)
	}
}
