package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  developer_id: 42
logging:
  level: debug
  console: true
quota:
  mode: channel
  free_monthly_limit: 25
scheduler:
  timezone: Asia/Tehran
  late_tolerance: 1h
storage:
  path: ./data/bot.db
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.DeveloperID != 42 {
		t.Fatalf("developer_id = %d, want 42", cfg.Telegram.DeveloperID)
	}
	if cfg.Quota.Mode != "channel" || cfg.Quota.FreeMonthlyLimit != 25 {
		t.Fatalf("unexpected quota config: %+v", cfg.Quota)
	}
	if cfg.TimezoneOrDefault() != "Asia/Tehran" {
		t.Fatalf("timezone = %q", cfg.TimezoneOrDefault())
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  tokne_typo: oops
storage:
  path: ./bot.db
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Storage:  StorageConfig{Path: "p"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("minimal config invalid: %v", err)
	}

	c := base()
	c.Telegram.Token = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected missing token error")
	}

	c = base()
	c.Quota.Mode = "team"
	if err := c.Validate(); err == nil {
		t.Fatal("expected bad quota mode error")
	}

	c = base()
	c.Scheduler.LateTolerance = "soon"
	if err := c.Validate(); err == nil {
		t.Fatal("expected bad duration error")
	}
}

func TestDefaults(t *testing.T) {
	c := &Config{}
	if c.FreeMonthlyLimitOrDefault() != DefaultMonthlyLimit {
		t.Fatalf("limit default = %d", c.FreeMonthlyLimitOrDefault())
	}
	if c.TimezoneOrDefault() != DefaultTimezone {
		t.Fatalf("tz default = %q", c.TimezoneOrDefault())
	}
}
