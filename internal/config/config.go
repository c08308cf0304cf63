package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"caseline/internal/calendar"
)

// Config models caseline.yml.
type Config struct {
	Calendar struct {
		Timezone     string `yaml:"timezone"`
		WorkingHours struct {
			Start string `yaml:"start"`
			End   string `yaml:"end"`
		} `yaml:"working_hours"`
		Holidays []string `yaml:"holidays"`
	} `yaml:"calendar"`
	Categories map[string]Category `yaml:"categories"`
	Deadlines  struct {
		EIAExtensionDays int `yaml:"eia_extension_days"`
	} `yaml:"deadlines"`
	Requests struct {
		ResponseDueDays          int `yaml:"response_due_days"`
		DescriptionAutoCloseDays int `yaml:"description_auto_close_days"`
	} `yaml:"requests"`
	Notifications struct {
		Buffer   int       `yaml:"buffer"`
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"notifications"`
}

// Category holds the statutory periods and vocabularies of one case category.
type Category struct {
	TargetDays int      `yaml:"target_days"`
	ExpiryDays int      `yaml:"expiry_days"`
	Decisions  []string `yaml:"decisions"`
	Checklist  []string `yaml:"checklist"`
}

// AllowsDecision reports whether decision is in the category vocabulary.
func (c Category) AllowsDecision(decision string) bool {
	return slices.Contains(c.Decisions, decision)
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("config.categories is required")
	}
	for name, cat := range c.Categories {
		if name == "" {
			return fmt.Errorf("config.categories contains empty category name")
		}
		if cat.TargetDays <= 0 {
			return fmt.Errorf("category %s target_days must be positive", name)
		}
		if cat.ExpiryDays < cat.TargetDays {
			return fmt.Errorf("category %s expiry_days must be >= target_days", name)
		}
		if len(cat.Decisions) == 0 {
			return fmt.Errorf("category %s has no decisions", name)
		}
		for _, d := range cat.Decisions {
			if d == "" {
				return fmt.Errorf("category %s has empty decision", name)
			}
		}
		for _, item := range cat.Checklist {
			if item == "" {
				return fmt.Errorf("category %s has empty checklist item", name)
			}
		}
	}
	if c.Deadlines.EIAExtensionDays < 0 {
		return fmt.Errorf("config.deadlines.eia_extension_days must not be negative")
	}
	if c.Requests.ResponseDueDays <= 0 {
		return fmt.Errorf("config.requests.response_due_days must be positive")
	}
	if c.Requests.DescriptionAutoCloseDays < 0 {
		return fmt.Errorf("config.requests.description_auto_close_days must not be negative")
	}
	if c.Notifications.Buffer < 0 {
		return fmt.Errorf("config.notifications.buffer must not be negative")
	}
	for i, wh := range c.Notifications.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
	}
	if _, err := c.BusinessCalendar(); err != nil {
		return err
	}
	return nil
}

// BusinessCalendar builds the calendar described by the calendar section.
func (c *Config) BusinessCalendar() (*calendar.Calendar, error) {
	return calendar.New(calendar.Options{
		Timezone:  c.Calendar.Timezone,
		OpenTime:  c.Calendar.WorkingHours.Start,
		CloseTime: c.Calendar.WorkingHours.End,
		Holidays:  c.Calendar.Holidays,
	})
}

// Category returns the settings for a case category.
func (c *Config) Category(name string) (Category, bool) {
	cat, ok := c.Categories[name]
	return cat, ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
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

const defaultTemplate = `calendar:
  timezone: Europe/London
  working_hours:
    start: "09:00"
    end: "17:00"
  # England and Wales bank holidays
  holidays:
    - 2023-01-02
    - 2023-04-07
    - 2023-04-10
    - 2023-05-01
    - 2023-05-08
    - 2023-05-29
    - 2023-08-28
    - 2023-12-25
    - 2023-12-26
    - 2024-01-01
    - 2024-03-29
    - 2024-04-01
    - 2024-05-06
    - 2024-05-27
    - 2024-08-26
    - 2024-12-25
    - 2024-12-26
    - 2025-01-01
    - 2025-04-18
    - 2025-04-21
    - 2025-05-05
    - 2025-05-26
    - 2025-08-25
    - 2025-12-25
    - 2025-12-26
    - 2026-01-01
    - 2026-04-03
    - 2026-04-06
    - 2026-05-04
    - 2026-05-25
    - 2026-08-31
    - 2026-12-25
    - 2026-12-28

categories:
  householder:
    target_days: 35
    expiry_days: 40
    decisions: [granted, refused]
    checklist: [site_visit, neighbour_consultation]
  full:
    target_days: 35
    expiry_days: 40
    decisions: [granted, refused]
    checklist: [site_visit, neighbour_consultation, consultee_responses]
  major:
    target_days: 60
    expiry_days: 65
    decisions: [granted, refused]
    checklist: [site_visit, neighbour_consultation, consultee_responses, committee_report]
  prior_approval:
    target_days: 30
    expiry_days: 40
    decisions: [granted, not_required, refused]
    checklist: [site_visit]
  lawful_development_certificate:
    target_days: 35
    expiry_days: 40
    decisions: [granted, refused]
    checklist: []

deadlines:
  eia_extension_days: 15

requests:
  response_due_days: 15
  description_auto_close_days: 5

notifications:
  buffer: 256
  webhooks: []
`
