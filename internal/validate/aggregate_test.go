package validate_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"atelier/internal/config"
	"atelier/internal/critic"
	"atelier/internal/domain"
	"atelier/internal/validate"
)

type stubCritic struct {
	name string
	res  domain.CriticResult
}

func (s stubCritic) Name() string { return s.name }

func (s stubCritic) Evaluate(ctx context.Context, req critic.Request) domain.CriticResult {
	r := s.res
	r.AgentName = s.name
	return r
}

func pass(name string, score float64) stubCritic {
	return stubCritic{name: name, res: domain.CriticResult{Score: score, Verdict: domain.VerdictPass}}
}

func fail(name string, score float64, feedback string) stubCritic {
	return stubCritic{name: name, res: domain.CriticResult{Score: score, Verdict: domain.VerdictFail, Feedback: feedback}}
}

func testPolicy() config.DomainPolicy {
	return config.DomainPolicy{
		ApprovalThreshold:   0.8,
		MasterVetoThreshold: 0.6,
		MasterWeight:        0.4,
		MaxIterations:       3,
	}
}

func TestPanelWeightedScore(t *testing.T) {
	p := validate.Panel{
		Critics: []critic.Critic{pass("a", 0.8), pass("b", 0.6)},
		Master:  pass("master", 0.9),
		Policy:  testPolicy(),
	}
	vr := p.Validate(context.Background(), domain.WorkItem{ID: "i1"}, domain.Artifact{Code: "x"})

	// panel mean 0.7, blended 0.6*0.7 + 0.4*0.9 = 0.78
	if math.Abs(vr.WeightedScore-0.78) > 1e-9 {
		t.Fatalf("weighted score: got %g", vr.WeightedScore)
	}
	if vr.MasterScore != 0.9 {
		t.Fatalf("master score: got %g", vr.MasterScore)
	}
	if vr.Approved {
		t.Fatal("0.78 is below the 0.8 threshold, must not approve")
	}
	if len(vr.Results) != 3 {
		t.Fatalf("results: got %d, want panel plus master", len(vr.Results))
	}
}

func TestPanelApproves(t *testing.T) {
	p := validate.Panel{
		Critics: []critic.Critic{pass("a", 0.9), pass("b", 0.85)},
		Master:  pass("master", 0.9),
		Policy:  testPolicy(),
	}
	vr := p.Validate(context.Background(), domain.WorkItem{ID: "i1"}, domain.Artifact{Code: "x"})
	if !vr.Approved {
		t.Fatalf("expected approval at weighted %g", vr.WeightedScore)
	}
	if vr.Feedback != "" {
		t.Fatalf("no failing critics, feedback should be empty: %q", vr.Feedback)
	}
}

func TestMasterVetoOnFailVerdict(t *testing.T) {
	p := validate.Panel{
		Critics: []critic.Critic{pass("a", 1), pass("b", 1)},
		Master:  fail("master", 0.95, "cohesion is off"),
		Policy:  testPolicy(),
	}
	vr := p.Validate(context.Background(), domain.WorkItem{ID: "i1"}, domain.Artifact{Code: "x"})
	if vr.Approved {
		t.Fatal("master fail verdict must veto despite high scores")
	}
	if !strings.Contains(vr.Feedback, "cohesion is off") {
		t.Fatalf("veto feedback missing: %q", vr.Feedback)
	}
}

func TestMasterVetoOnRawScore(t *testing.T) {
	// Master passes its own threshold but sits below the veto floor. Panel is
	// strong enough that the weighted score still clears approval.
	p := validate.Panel{
		Critics: []critic.Critic{pass("a", 1), pass("b", 1)},
		Master:  pass("master", 0.55),
		Policy:  testPolicy(),
	}
	vr := p.Validate(context.Background(), domain.WorkItem{ID: "i1"}, domain.Artifact{Code: "x"})
	if vr.WeightedScore < 0.8 {
		t.Fatalf("test setup: weighted %g should clear approval threshold", vr.WeightedScore)
	}
	if vr.Approved {
		t.Fatal("raw master score below veto floor must reject")
	}
}

func TestFeedbackOrderedWorstFirst(t *testing.T) {
	p := validate.Panel{
		Critics: []critic.Critic{
			stubCritic{name: "mild", res: domain.CriticResult{Aspect: "layout", Score: 0.7, Verdict: domain.VerdictFail, Feedback: "minor spacing issues"}},
			fail("harsh", 0.2, "labels are wrong"),
			pass("fine", 0.9),
		},
		Master: fail("master", 0.5, "not ready"),
		Policy: testPolicy(),
	}
	vr := p.Validate(context.Background(), domain.WorkItem{ID: "i1"}, domain.Artifact{Code: "x"})

	lines := strings.Split(vr.Feedback, "\n")
	if len(lines) != 3 {
		t.Fatalf("feedback lines: %d (%q)", len(lines), vr.Feedback)
	}
	if !strings.HasPrefix(lines[0], "harsh:") {
		t.Fatalf("worst score first: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "master:") {
		t.Fatalf("second worst: %q", lines[1])
	}
	if lines[2] != "mild (layout): minor spacing issues" {
		t.Fatalf("aspect label: %q", lines[2])
	}
}

type stubRenderer struct {
	path string
	err  error
}

func (s stubRenderer) Render(ctx context.Context, a domain.Artifact) (string, error) {
	return s.path, s.err
}

func TestVisionApproves(t *testing.T) {
	var seenImage string
	c := stubCritic{name: "vision", res: domain.CriticResult{Score: 0.92, Verdict: domain.VerdictPass}}
	v := validate.Vision{
		Critic:    criticFunc{c, func(req critic.Request) { seenImage = req.ImagePath }},
		Renderer:  stubRenderer{path: "/tmp/out.png"},
		Threshold: 0.85,
	}
	vr := v.Validate(context.Background(), domain.WorkItem{ID: "i1", Iteration: 2}, domain.Artifact{Code: "<svg/>"})
	if !vr.Approved {
		t.Fatalf("expected approval: %+v", vr)
	}
	if seenImage != "/tmp/out.png" {
		t.Fatalf("rendered image not passed to critic: %q", seenImage)
	}
	if vr.Iteration != 2 || vr.WeightedScore != 0.92 {
		t.Fatalf("result shape: %+v", vr)
	}
}

// criticFunc wraps a stub with a request observer.
type criticFunc struct {
	inner stubCritic
	spy   func(critic.Request)
}

func (c criticFunc) Name() string { return c.inner.Name() }

func (c criticFunc) Evaluate(ctx context.Context, req critic.Request) domain.CriticResult {
	c.spy(req)
	return c.inner.Evaluate(ctx, req)
}

func TestVisionBelowThreshold(t *testing.T) {
	v := validate.Vision{
		Critic:    fail("vision", 0.6, "arrows overlap"),
		Renderer:  stubRenderer{path: "/tmp/out.png"},
		Threshold: 0.85,
	}
	vr := v.Validate(context.Background(), domain.WorkItem{ID: "i1"}, domain.Artifact{Code: "<svg/>"})
	if vr.Approved {
		t.Fatal("below threshold must iterate")
	}
	if !strings.Contains(vr.Feedback, "arrows overlap") {
		t.Fatalf("feedback: %q", vr.Feedback)
	}
}

func TestVisionRenderFailureDegrades(t *testing.T) {
	v := validate.Vision{
		Critic:    pass("vision", 1),
		Renderer:  stubRenderer{err: errors.New("rsvg exited 1")},
		Threshold: 0.85,
	}
	vr := v.Validate(context.Background(), domain.WorkItem{ID: "i1"}, domain.Artifact{Code: "<svg/>"})
	if vr.Approved {
		t.Fatal("render failure must not approve")
	}
	if len(vr.Results) != 1 || !vr.Results[0].Degraded {
		t.Fatalf("expected a degraded result: %+v", vr.Results)
	}
	if vr.Results[0].Score != 0.5 || vr.Results[0].Verdict != domain.VerdictFail {
		t.Fatalf("degraded shape: %+v", vr.Results[0])
	}
}
