package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models assetline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"service" json:"service"`
	Planner struct {
		BaseSteps       []string `yaml:"base_steps" json:"base_steps"`
		HoursPerStep    int      `yaml:"hours_per_step" json:"hours_per_step"`
		DefaultSLAHours int      `yaml:"default_sla_hours" json:"default_sla_hours"`
	} `yaml:"planner" json:"planner"`
	Scoring struct {
		Engine     int `yaml:"engine" json:"engine"`
		Style      int `yaml:"style" json:"style"`
		Topology   int `yaml:"topology" json:"topology"`
		Priority   int `yaml:"priority" json:"priority"`
		Alternates int `yaml:"alternates" json:"alternates"`
	} `yaml:"scoring" json:"scoring"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig describes one event sink endpoint.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with al config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if len(c.Planner.BaseSteps) == 0 {
		return fmt.Errorf("config.planner.base_steps is required")
	}
	seen := map[string]bool{}
	for _, step := range c.Planner.BaseSteps {
		if step == "" {
			return fmt.Errorf("config.planner.base_steps contains an empty step")
		}
		if seen[step] {
			return fmt.Errorf("config.planner.base_steps contains duplicate step %s", step)
		}
		seen[step] = true
	}
	if c.Planner.HoursPerStep <= 0 {
		return fmt.Errorf("config.planner.hours_per_step must be positive")
	}
	if c.Planner.DefaultSLAHours <= 0 {
		return fmt.Errorf("config.planner.default_sla_hours must be positive")
	}
	for _, w := range []struct {
		name  string
		value int
	}{
		{"engine", c.Scoring.Engine},
		{"style", c.Scoring.Style},
		{"topology", c.Scoring.Topology},
		{"priority", c.Scoring.Priority},
		{"alternates", c.Scoring.Alternates},
	} {
		if w.value < 0 {
			return fmt.Errorf("config.scoring.%s must not be negative", w.name)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "assetline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceName string) string {
	return fmt.Sprintf(defaultTemplate, serviceName)
}

// Default returns the default Config struct for a service.
func Default(serviceName string) *Config {
	var cfg Config
	cfg.Service.Name = serviceName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, serviceName))).Decode(&cfg)
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

const defaultTemplate = `service:
  name: %s

planner:
  base_steps:
    - initial_review
    - modeling
    - texturing
    - qa_check
    - delivery
  hours_per_step: 2
  default_sla_hours: 72

scoring:
  engine: 5
  style: 5
  topology: 5
  priority: 2
  alternates: 2
`
