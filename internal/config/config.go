package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models atelier.yml.
type Config struct {
	Studio struct {
		ID string `yaml:"id"`
	} `yaml:"studio"`
	Domains  map[string]DomainPolicy `yaml:"domains"`
	Defaults DomainPolicy            `yaml:"defaults"`
	Runner   RunnerConfig            `yaml:"runner"`
	Webhooks []WebhookConfig         `yaml:"webhooks"`
}

// DomainPolicy holds the approval parameters for one queue domain.
type DomainPolicy struct {
	ApprovalThreshold   float64        `yaml:"approval_threshold"`
	MasterVetoThreshold float64        `yaml:"master_veto_threshold"`
	// MasterWeight is the master critic's share of the weighted score; the
	// remainder is split equally across the panel.
	MasterWeight  float64        `yaml:"master_weight"`
	MaxIterations int            `yaml:"max_iterations"`
	Panel         []CriticConfig `yaml:"panel"`
	Master        CriticConfig   `yaml:"master"`
	Vision        *VisionConfig  `yaml:"vision,omitempty"`
}

// CriticConfig names one critic and the score at which its own verdict
// flips to pass.
type CriticConfig struct {
	Name      string  `yaml:"name"`
	Aspect    string  `yaml:"aspect,omitempty"`
	Threshold float64 `yaml:"threshold"`
}

// VisionConfig parameterizes the visual refinement loop. Its iteration cap is
// independent of the validation loop's.
type VisionConfig struct {
	Name          string   `yaml:"name"`
	Threshold     float64  `yaml:"threshold"`
	MaxIterations int      `yaml:"max_iterations"`
	Dimensions    []string `yaml:"dimensions,omitempty"`
}

// RunnerConfig tunes the scheduler loop.
type RunnerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxIdleSeconds      int `yaml:"max_idle_seconds"`
	Workers             int `yaml:"workers"`
	GenTimeoutSeconds   int `yaml:"gen_timeout_seconds"`
	EvalTimeoutSeconds  int `yaml:"eval_timeout_seconds"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Policy returns the effective policy for a domain, falling back to defaults
// for unknown domains.
func (c *Config) Policy(domain string) DomainPolicy {
	if p, ok := c.Domains[domain]; ok {
		return p
	}
	return c.Defaults
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with atelier init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("atelier"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Studio.ID == "" {
		return fmt.Errorf("config.studio.id is required")
	}
	if err := validatePolicy("defaults", c.Defaults); err != nil {
		return err
	}
	for name, p := range c.Domains {
		if name == "" {
			return fmt.Errorf("config.domains contains an empty domain name")
		}
		if err := validatePolicy("domains."+name, p); err != nil {
			return err
		}
	}
	if c.Runner.Workers < 0 {
		return fmt.Errorf("config.runner.workers must not be negative")
	}
	return nil
}

func validatePolicy(path string, p DomainPolicy) error {
	if p.ApprovalThreshold < 0 || p.ApprovalThreshold > 1 {
		return fmt.Errorf("%s.approval_threshold must be in [0,1]", path)
	}
	if p.MasterVetoThreshold < 0 || p.MasterVetoThreshold > 1 {
		return fmt.Errorf("%s.master_veto_threshold must be in [0,1]", path)
	}
	if p.MasterWeight < 0 || p.MasterWeight > 1 {
		return fmt.Errorf("%s.master_weight must be in [0,1]", path)
	}
	// The master must carry at least as much weight as any single panel critic.
	if n := len(p.Panel); n > 0 && p.MasterWeight < (1-p.MasterWeight)/float64(n) {
		return fmt.Errorf("%s.master_weight must be at least the per-panel share", path)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("%s.max_iterations must be at least 1", path)
	}
	for i, critic := range p.Panel {
		if critic.Name == "" {
			return fmt.Errorf("%s.panel[%d].name is required", path, i)
		}
		if critic.Threshold < 0 || critic.Threshold > 1 {
			return fmt.Errorf("%s.panel[%d].threshold must be in [0,1]", path, i)
		}
	}
	if p.Master.Name == "" {
		return fmt.Errorf("%s.master.name is required", path)
	}
	if p.Master.Threshold < 0 || p.Master.Threshold > 1 {
		return fmt.Errorf("%s.master.threshold must be in [0,1]", path)
	}
	if v := p.Vision; v != nil {
		if v.Name == "" {
			return fmt.Errorf("%s.vision.name is required", path)
		}
		if v.Threshold < 0 || v.Threshold > 1 {
			return fmt.Errorf("%s.vision.threshold must be in [0,1]", path)
		}
		if v.MaxIterations < 1 {
			return fmt.Errorf("%s.vision.max_iterations must be at least 1", path)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "atelier.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(studioID string) string {
	return fmt.Sprintf(defaultTemplate, studioID)
}

// Default returns the default Config struct for a studio.
func Default(studioID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, studioID)), &cfg)
	cfg.Studio.ID = studioID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `studio:
  id: %s

defaults:
  approval_threshold: 0.75
  master_veto_threshold: 0.6
  master_weight: 0.5
  max_iterations: 3
  panel:
    - name: accuracy-critic
      aspect: technical accuracy
      threshold: 0.7
    - name: clarity-critic
      aspect: clarity and layout
      threshold: 0.7
  master:
    name: master-critic
    threshold: 0.75

domains:
  diagrams:
    approval_threshold: 0.75
    master_veto_threshold: 0.6
    master_weight: 0.5
    max_iterations: 3
    panel:
      - name: accuracy-critic
        aspect: technical accuracy
        threshold: 0.7
      - name: composition-critic
        aspect: visual composition
        threshold: 0.7
    master:
      name: master-critic
      threshold: 0.75
    vision:
      name: vision-critic
      threshold: 0.8
      max_iterations: 4
      dimensions: [legibility, balance, color, fidelity]

runner:
  poll_interval_seconds: 5
  max_idle_seconds: 60
  workers: 1
  gen_timeout_seconds: 120
  eval_timeout_seconds: 60
`
