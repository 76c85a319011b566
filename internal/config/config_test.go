package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"atelier/internal/config"
)

func validConfig() *config.Config {
	return config.Default("studio-1")
}

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("studio-1")))
	if err != nil {
		t.Fatalf("default template must validate: %v", err)
	}
	if cfg.Studio.ID != "studio-1" {
		t.Fatalf("studio id: %s", cfg.Studio.ID)
	}
	p, ok := cfg.Domains["diagrams"]
	if !ok {
		t.Fatal("default template missing diagrams domain")
	}
	if p.Vision == nil || p.Vision.MaxIterations != 4 {
		t.Fatalf("vision block: %+v", p.Vision)
	}
	if len(p.Panel) != 2 || p.Master.Name != "master-critic" {
		t.Fatalf("panel shape: %+v", p)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			"missing studio id",
			func(c *config.Config) { c.Studio.ID = "" },
			"studio.id",
		},
		{
			"approval threshold out of range",
			func(c *config.Config) { c.Defaults.ApprovalThreshold = 1.2 },
			"approval_threshold",
		},
		{
			"veto threshold negative",
			func(c *config.Config) { c.Defaults.MasterVetoThreshold = -0.1 },
			"master_veto_threshold",
		},
		{
			"master weight below per-panel share",
			func(c *config.Config) { c.Defaults.MasterWeight = 0.2 },
			"per-panel share",
		},
		{
			"zero max iterations",
			func(c *config.Config) { c.Defaults.MaxIterations = 0 },
			"max_iterations",
		},
		{
			"unnamed panel critic",
			func(c *config.Config) { c.Defaults.Panel[0].Name = "" },
			"panel[0].name",
		},
		{
			"unnamed master",
			func(c *config.Config) { c.Defaults.Master.Name = "" },
			"master.name",
		},
		{
			"domain policy checked too",
			func(c *config.Config) {
				p := c.Domains["diagrams"]
				p.Vision.MaxIterations = 0
				c.Domains["diagrams"] = p
			},
			"domains.diagrams.vision.max_iterations",
		},
		{
			"negative workers",
			func(c *config.Config) { c.Runner.Workers = -1 },
			"runner.workers",
		},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestMasterWeightAbovePanelShare(t *testing.T) {
	// Two panel critics at master_weight 0.34 leaves 0.33 per panel critic,
	// so the master still outweighs any single one.
	cfg := validConfig()
	cfg.Defaults.MasterWeight = 0.34
	if err := cfg.Validate(); err != nil {
		t.Fatalf("weight above per-panel share must pass: %v", err)
	}
}

func TestPolicyFallback(t *testing.T) {
	cfg := validConfig()
	p := cfg.Policy("unknown-domain")
	if p.Master.Name != cfg.Defaults.Master.Name {
		t.Fatalf("unknown domain must use defaults: %+v", p)
	}
	d := cfg.Policy("diagrams")
	if d.Vision == nil {
		t.Fatal("configured domain lost its own policy")
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "atelier init") {
		t.Fatalf("missing config should point at init: %v", err)
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("optional load: %v", err)
	}
	if cfg.Studio.ID != "atelier" {
		t.Fatalf("optional default studio: %s", cfg.Studio.ID)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	if err := os.WriteFile(path, []byte(config.GenerateDefault("ws-studio")), 0o644); err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "atelier.yml" {
		t.Fatalf("config path: %s", path)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Studio.ID != "ws-studio" {
		t.Fatalf("studio id: %s", cfg.Studio.ID)
	}
}

func TestFromYAMLRejectsBadSyntax(t *testing.T) {
	if _, err := config.FromYAML([]byte("studio: [unclosed")); err == nil {
		t.Fatal("expected yaml error")
	}
}
