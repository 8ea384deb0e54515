package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models voltline.yml.
type Config struct {
	Company struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"company"`
	Feed struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"feed"`
	Refresh struct {
		Interval Duration `yaml:"interval"`
	} `yaml:"refresh"`
	Stats struct {
		CacheSize int      `yaml:"cache_size"`
		CacheTTL  Duration `yaml:"cache_ttl"`
	} `yaml:"stats"`
	API struct {
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"api"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type Webhook struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Verbs  []string `yaml:"verbs"`
}

// Duration decodes "30s"-style YAML scalars.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Roles known to the work-order core. Config role ids are lower-case.
var requiredRoles = []string{"admin", "manager", "electrician"}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Company.Name == "" {
		return fmt.Errorf("config.company.name is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.company.timezone: %w", err)
	}
	if c.Feed.DefaultLimit <= 0 {
		return fmt.Errorf("config.feed.default_limit must be positive")
	}
	if c.Feed.MaxLimit < c.Feed.DefaultLimit {
		return fmt.Errorf("config.feed.max_limit must be >= default_limit")
	}
	if c.Refresh.Interval.Duration <= 0 {
		return fmt.Errorf("config.refresh.interval must be positive")
	}
	if c.Stats.CacheSize < 0 {
		return fmt.Errorf("config.stats.cache_size must not be negative")
	}
	if c.API.RateLimit.RPS < 0 || c.API.RateLimit.Burst < 0 {
		return fmt.Errorf("config.api.rate_limit must not be negative")
	}
	for _, roleID := range requiredRoles {
		if _, ok := c.RBAC.Roles[roleID]; !ok {
			return fmt.Errorf("config.rbac.roles must include %s", roleID)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	seen := map[string]bool{}
	for i, wh := range c.Webhooks {
		if wh.ID == "" {
			return fmt.Errorf("config.webhooks[%d].id is required", i)
		}
		if seen[wh.ID] {
			return fmt.Errorf("duplicate webhook id %s", wh.ID)
		}
		seen[wh.ID] = true
		if wh.URL == "" {
			return fmt.Errorf("webhook %s url is required", wh.ID)
		}
	}
	return nil
}

// Location resolves the company timezone; empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Company.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Company.Timezone)
}

// RolePermissions returns a copy of the role → permissions table, sorted.
func (c *Config) RolePermissions() map[string][]string {
	out := make(map[string][]string, len(c.RBAC.Roles))
	for id, role := range c.RBAC.Roles {
		perms := append([]string(nil), role.Permissions...)
		sort.Strings(perms)
		out[id] = perms
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "voltline.yml")
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

// GenerateDefault returns default config YAML.
func GenerateDefault(company string) string {
	return fmt.Sprintf(defaultTemplate, company)
}

// Default returns the default Config struct.
func Default(company string) *Config {
	if company == "" {
		company = "Voltline Electrical"
	}
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, company))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
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

// ToYAML renders the config back to its document form.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `company:
  name: %q
  timezone: UTC

feed:
  default_limit: 20
  max_limit: 100

refresh:
  interval: 30s

stats:
  cache_size: 128
  cache_ttl: 5m

api:
  rate_limit:
    rps: 20
    burst: 40

rbac:
  roles:
    admin:
      description: "Full access, user management"
      permissions:
        - task.create
        - task.assign
        - task.start
        - task.complete
        - task.cancel
        - task.feedback
        - task.read
        - issue.report
        - issue.update
        - issue.read
        - report.generate
        - stats.read
        - feed.read
        - worker.read
        - worker.manage
        - config.manage
    manager:
      description: "Dispatch, escalation handling, reporting"
      permissions:
        - task.create
        - task.assign
        - task.cancel
        - task.feedback
        - task.read
        - issue.update
        - issue.read
        - report.generate
        - stats.read
        - feed.read
        - worker.read
    electrician:
      description: "Field work on own assignments"
      permissions:
        - task.start
        - task.complete
        - task.read
        - issue.report
        - issue.read
        - stats.read
        - feed.read
`
