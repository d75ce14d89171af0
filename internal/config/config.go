package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"pressflow/internal/domain"
)

// Config models pressflow.yml.
type Config struct {
	Scoring struct {
		Defaults map[domain.ScoreAction]int `yaml:"defaults"`
	} `yaml:"scoring"`
	Roles  map[domain.Role][]domain.Capability `yaml:"roles"`
	Digest Digest                              `yaml:"digest"`
	Mail   Mail                                `yaml:"mail"`
	Lock   Lock                                `yaml:"lock"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

// Digest cadence. WeeklyDay uses time.Weekday numbering (0 = Sunday).
type Digest struct {
	DailyHour  int    `yaml:"daily_hour"`
	WeeklyDay  int    `yaml:"weekly_day"`
	WeeklyHour int    `yaml:"weekly_hour"`
	Timezone   string `yaml:"timezone"`
}

// Location resolves Timezone, defaulting to UTC.
func (d Digest) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(d.Timezone)
}

type Mail struct {
	Driver         string `yaml:"driver"`
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Lock struct {
	Driver     string `yaml:"driver"`
	Addr       string `yaml:"addr"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Points returns the configured default for an action, or 0 if none.
func (c *Config) Points(action domain.ScoreAction) int {
	if c == nil {
		return 0
	}
	return c.Scoring.Defaults[action]
}

// RoleCapabilities returns the role table, falling back to the built-in one.
func (c *Config) RoleCapabilities() domain.RoleCapabilities {
	if c == nil || len(c.Roles) == 0 {
		return domain.DefaultRoleCapabilities()
	}
	return domain.RoleCapabilities(c.Roles)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pressflow config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for action, pts := range c.Scoring.Defaults {
		if !action.Valid() {
			return fmt.Errorf("config.scoring.defaults has unknown action %s", action)
		}
		if pts < 0 {
			return fmt.Errorf("config.scoring.defaults.%s must not be negative", action)
		}
	}
	for role, caps := range c.Roles {
		if _, ok := domain.ParseRole(string(role)); !ok {
			return fmt.Errorf("config.roles has unknown role %s", role)
		}
		for _, cp := range caps {
			if !cp.Valid() {
				return fmt.Errorf("role %s has unknown capability %s", role, cp)
			}
		}
	}
	if c.Digest.DailyHour < 0 || c.Digest.DailyHour > 23 {
		return fmt.Errorf("config.digest.daily_hour must be 0-23")
	}
	if c.Digest.WeeklyHour < 0 || c.Digest.WeeklyHour > 23 {
		return fmt.Errorf("config.digest.weekly_hour must be 0-23")
	}
	if c.Digest.WeeklyDay < 0 || c.Digest.WeeklyDay > 6 {
		return fmt.Errorf("config.digest.weekly_day must be 0-6 (0 = Sunday)")
	}
	if _, err := c.Digest.Location(); err != nil {
		return fmt.Errorf("config.digest.timezone: %w", err)
	}
	switch c.Mail.Driver {
	case "", "log":
	case "webhook":
		if c.Mail.URL == "" {
			return fmt.Errorf("config.mail.url is required for the webhook driver")
		}
	default:
		return fmt.Errorf("config.mail.driver must be log or webhook")
	}
	switch c.Lock.Driver {
	case "", "local":
	case "redis":
		if c.Lock.Addr == "" {
			return fmt.Errorf("config.lock.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config.lock.driver must be local or redis")
	}
	if c.Lock.TTLSeconds < 0 {
		return fmt.Errorf("config.lock.ttl_seconds must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pressflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the config described by the default template.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scoring:
  defaults:
    task_completed: 10
    task_ratified: 15
    ratification_given: 5
    endorsement_received: 20
    endorsement_given: 5

roles:
  junior: []
  member: [endorsement.give]
  mentor: [endorsement.give, ratification.review]
  manager: [endorsement.give, ratification.review, task.override]
  admin: [endorsement.give, ratification.review, task.override, digest.run]

digest:
  daily_hour: 8
  weekly_day: 1
  weekly_hour: 8
  timezone: UTC

mail:
  driver: log
  timeout_seconds: 10

lock:
  driver: local
  key_prefix: pressflow:digest
  ttl_seconds: 300

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
