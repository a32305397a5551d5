package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"battlelog/internal/domain"
)

// Config models battlelog.yml.
type Config struct {
	Rules    domain.Rules      `yaml:"rules"`
	Roster   []domain.UnitSpec `yaml:"roster"`
	Webhooks []WebhookConfig   `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled treats a missing enabled flag as true.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

const (
	WebhookEventAppended = "event.appended"
	WebhookRevertApplied = "revert.applied"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	r := c.Rules
	if len(r.Phases) == 0 {
		return fmt.Errorf("config.rules.phases is required")
	}
	if err := unique("config.rules.phases", r.Phases); err != nil {
		return err
	}
	if r.MaxRounds < 1 {
		return fmt.Errorf("config.rules.max_rounds must be at least 1")
	}
	if r.StartingCommandPoints < 0 {
		return fmt.Errorf("config.rules.starting_command_points must not be negative")
	}
	if err := unique("config.rules.objectives", r.Objectives); err != nil {
		return err
	}
	if err := unique("config.rules.sub_objectives", r.SubObjectives); err != nil {
		return err
	}
	if err := unique("config.rules.status_flags", r.StatusFlags); err != nil {
		return err
	}
	if err := ValidateRoster(c.Roster); err != nil {
		return err
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, ev := range w.Events {
			if ev != WebhookEventAppended && ev != WebhookRevertApplied && ev != "*" {
				return fmt.Errorf("config.webhooks[%d] has unknown event %s", i, ev)
			}
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// ValidateRoster checks unit ids are unique and every model has health.
func ValidateRoster(units []domain.UnitSpec) error {
	seen := map[string]bool{}
	for i, u := range units {
		if u.ID == "" {
			return fmt.Errorf("roster[%d].id is required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("roster unit %s is duplicated", u.ID)
		}
		seen[u.ID] = true
		if !u.Role.Valid() {
			return fmt.Errorf("roster unit %s has unknown role %q", u.ID, u.Role)
		}
		if len(u.Models) == 0 {
			return fmt.Errorf("roster unit %s has no models", u.ID)
		}
		for j, m := range u.Models {
			if m.MaxHealth < 1 {
				return fmt.Errorf("roster unit %s model %d needs max_health", u.ID, j)
			}
			if m.Health < 0 || m.Health > m.MaxHealth {
				return fmt.Errorf("roster unit %s model %d health out of range", u.ID, j)
			}
			if m.Role != "" && m.Role != domain.ModelLeader && m.Role != domain.ModelRegular {
				return fmt.Errorf("roster unit %s model %d has unknown role %q", u.ID, j, m.Role)
			}
		}
	}
	return nil
}

func unique(field string, items []string) error {
	seen := map[string]bool{}
	for _, it := range items {
		if it == "" {
			return fmt.Errorf("%s contains an empty entry", field)
		}
		if seen[it] {
			return fmt.Errorf("%s contains %s twice", field, it)
		}
		seen[it] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "battlelog.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
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

const defaultTemplate = `rules:
  phases: [command, movement, shooting, charge, fight]
  max_rounds: 5
  starting_command_points: 0
  objectives: [home-player, home-opponent, center, flank-left, flank-right]
  sub_objectives: []
  status_flags: [battle-shocked, advanced, fell-back, in-reserves, embarked]

roster: []

webhooks: []
`
