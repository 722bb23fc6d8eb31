package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full bot configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Quota     QuotaConfig     `json:"quota"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Session   SessionConfig   `json:"session"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// DeveloperID is the operator account. It bypasses quota checks and
	// may run the premium administration commands.
	DeveloperID int64 `json:"developer_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// QuotaConfig controls monthly post admission.
//
// Mode selects the subject the ledger is keyed by:
//   - "user": one counter per user (legacy behavior)
//   - "channel": one counter per destination channel
type QuotaConfig struct {
	Mode             string `json:"mode,omitempty"`
	FreeMonthlyLimit int    `json:"free_monthly_limit,omitempty"`
}

// SchedulerConfig controls deferred-post execution.
type SchedulerConfig struct {
	// Timezone is the IANA zone schedule input is interpreted in.
	Timezone string `json:"timezone,omitempty"`
	// LateTolerance is how late a due job may still fire (e.g. after a
	// restart) before it is dropped with a warning.
	LateTolerance string `json:"late_tolerance,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
}

// SessionConfig controls the in-memory conversation arena.
type SessionConfig struct {
	// IdleTTL evicts broadcast sessions with no activity for this long.
	IdleTTL string `json:"idle_ttl,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Defaults used when optional fields are omitted.
const (
	DefaultTimezone      = "Asia/Tehran"
	DefaultMonthlyLimit  = 10
	DefaultLateTolerance = time.Hour
	DefaultIdleTTL       = 30 * time.Minute
	DefaultPollTimeout   = 10 * time.Second
)

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Quota.Mode)) {
	case "", "user", "channel":
	default:
		return fmt.Errorf("quota.mode %q: must be \"user\" or \"channel\"", c.Quota.Mode)
	}
	if c.Quota.FreeMonthlyLimit < 0 {
		return errors.New("quota.free_monthly_limit must be >= 0")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	for _, f := range []struct{ name, v string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"scheduler.late_tolerance", c.Scheduler.LateTolerance},
		{"session.idle_ttl", c.Session.IdleTTL},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDuration(f.name, f.v, 0); err != nil {
			return err
		}
	}
	return nil
}

// FreeMonthlyLimit returns the configured monthly limit or the default.
func (c *Config) FreeMonthlyLimitOrDefault() int {
	if c.Quota.FreeMonthlyLimit > 0 {
		return c.Quota.FreeMonthlyLimit
	}
	return DefaultMonthlyLimit
}

// TimezoneOrDefault returns the configured scheduler zone or the default.
func (c *Config) TimezoneOrDefault() string {
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

// ParseDuration parses a Go duration string config field.
// Empty input yields def; a parse failure names the offending field.
func ParseDuration(field, v string, def time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, v)
	}
	return d, nil
}
