package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("Spark & Co")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Company.Name != "Spark & Co" {
		t.Fatalf("company name = %q", cfg.Company.Name)
	}
	if cfg.Refresh.Interval.Duration != 30*time.Second {
		t.Fatalf("refresh interval = %s", cfg.Refresh.Interval)
	}
	if cfg.Stats.CacheTTL.Duration != 5*time.Minute {
		t.Fatalf("cache ttl = %s", cfg.Stats.CacheTTL)
	}
	perms := cfg.RolePermissions()
	for _, p := range perms["manager"] {
		if p == "worker.manage" || p == "config.manage" {
			t.Fatalf("manager must not hold %s", p)
		}
	}
	if len(perms["admin"]) != 16 {
		t.Fatalf("admin permissions = %d", len(perms["admin"]))
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`company:
  name: Overlay
feed:
  default_limit: 5
refresh:
  interval: 2m
webhooks:
  - id: ops
    url: http://example.invalid/hook
    verbs: [issue.reported]
`))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Feed.DefaultLimit != 5 || cfg.Feed.MaxLimit != 100 {
		t.Fatalf("feed limits = %d/%d", cfg.Feed.DefaultLimit, cfg.Feed.MaxLimit)
	}
	if cfg.Refresh.Interval.Duration != 2*time.Minute {
		t.Fatalf("interval = %s", cfg.Refresh.Interval)
	}
	if _, ok := cfg.RBAC.Roles["electrician"]; !ok {
		t.Fatalf("default roles lost")
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Verbs[0] != "issue.reported" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := map[string]func(*Config){
		"company.name":  func(c *Config) { c.Company.Name = "" },
		"timezone":      func(c *Config) { c.Company.Timezone = "Mars/Olympus" },
		"default_limit": func(c *Config) { c.Feed.DefaultLimit = 0 },
		"max_limit":     func(c *Config) { c.Feed.MaxLimit = 1 },
		"interval":      func(c *Config) { c.Refresh.Interval.Duration = 0 },
		"electrician":   func(c *Config) { delete(c.RBAC.Roles, "electrician") },
		"duplicate":     func(c *Config) { c.Webhooks = []Webhook{{ID: "a", URL: "u"}, {ID: "a", URL: "u"}} },
		"url":           func(c *Config) { c.Webhooks = []Webhook{{ID: "a"}} },
	}
	for want, mutate := range cases {
		cfg := Default("x")
		mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: got %v", want, err)
		}
	}
}

func TestBadDuration(t *testing.T) {
	if _, err := FromYAML([]byte("refresh:\n  interval: soon\n")); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default("Round Trip")
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	if !strings.Contains(string(data), "interval: 30s") {
		t.Fatalf("duration not rendered as string:\n%s", data)
	}
	back, err := FromYAML(data)
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if back.Company.Name != "Round Trip" || back.Stats.CacheSize != cfg.Stats.CacheSize {
		t.Fatalf("round trip mismatch: %+v", back.Company)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file: cfg=%v err=%v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "voltline.yml"), []byte(GenerateDefault("From Disk")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Company.Name != "From Disk" {
		t.Fatalf("company = %q", cfg.Company.Name)
	}
}
