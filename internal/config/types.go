package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown fields are rejected so typos fail loudly at startup.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Accounts AccountsConfig `json:"accounts"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	Export   ExportConfig   `json:"export,omitempty"`
	Telegram TelegramConfig `json:"telegram"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// AccountsConfig controls account health and quota behavior.
//
// Defaults (when fields are omitted/zero):
//   - daily_limit: 40
//   - failure_threshold: 3
//   - cooldown_base: "5m"
//   - cooldown_max: "2h"
//   - reset_location: "UTC"
type AccountsConfig struct {
	// Entries are the authenticated sending identities. Token material is
	// passed through to the transport and never retained by the core.
	Entries []AccountEntry `json:"entries"`

	DailyLimit       int    `json:"daily_limit,omitempty"`
	FailureThreshold int    `json:"failure_threshold,omitempty"`
	CooldownBase     string `json:"cooldown_base,omitempty"`
	CooldownMax      string `json:"cooldown_max,omitempty"`

	// ResetLocation is the IANA time zone whose midnight resets daily quotas.
	ResetLocation string `json:"reset_location,omitempty"`
}

type AccountEntry struct {
	Handle     string `json:"handle"`
	Token      string `json:"token"`
	DailyLimit int    `json:"daily_limit,omitempty"` // overrides accounts.daily_limit
}

// DispatchConfig controls run execution defaults. Per-run settings may
// override workers, interval bounds and retry budget.
//
// Defaults:
//   - workers: 2
//   - interval_min: "30s", interval_max: "60s"
//   - retry_max: 3
//   - rate_per_sec: 1 (process-wide cap across all accounts)
type DispatchConfig struct {
	Workers     int    `json:"workers,omitempty"`
	IntervalMin string `json:"interval_min,omitempty"`
	IntervalMax string `json:"interval_max,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the result log backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   append-only JSON Lines files
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type ExportConfig struct {
	Dir string `json:"dir,omitempty"` // default "./export"
}

type TelegramConfig struct {
	// APITimeout bounds a single send round-trip.
	APITimeout string `json:"api_timeout,omitempty"` // default "30s"
}

// Validate checks everything that must hold before any send is attempted.
// It returns all problems joined, not just the first one.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Accounts.Entries) == 0 {
		errs = append(errs, errors.New("accounts.entries: at least one account is required"))
	}
	seen := map[string]bool{}
	for i, e := range c.Accounts.Entries {
		h := strings.TrimSpace(e.Handle)
		if h == "" {
			errs = append(errs, fmt.Errorf("accounts.entries[%d]: handle is required", i))
			continue
		}
		if seen[strings.ToLower(h)] {
			errs = append(errs, fmt.Errorf("accounts.entries[%d]: duplicate handle %q", i, h))
		}
		seen[strings.ToLower(h)] = true
		if strings.TrimSpace(e.Token) == "" {
			errs = append(errs, fmt.Errorf("accounts.entries[%d] (%s): token is required", i, h))
		}
		if e.DailyLimit < 0 {
			errs = append(errs, fmt.Errorf("accounts.entries[%d] (%s): daily_limit must be >= 0", i, h))
		}
	}

	if c.Accounts.ResetLocation != "" {
		if _, err := time.LoadLocation(c.Accounts.ResetLocation); err != nil {
			errs = append(errs, fmt.Errorf("accounts.reset_location: %w", err))
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"accounts.cooldown_base", c.Accounts.CooldownBase},
		{"accounts.cooldown_max", c.Accounts.CooldownMax},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"telegram.api_timeout", c.Telegram.APITimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	minIv, err := ParseDurationField("dispatch.interval_min", c.Dispatch.IntervalMin)
	if err != nil {
		errs = append(errs, err)
	}
	maxIv, err := ParseDurationField("dispatch.interval_max", c.Dispatch.IntervalMax)
	if err != nil {
		errs = append(errs, err)
	}
	if minIv > 0 && maxIv > 0 && maxIv < minIv {
		errs = append(errs, errors.New("dispatch: interval_max must be >= interval_min"))
	}
	if c.Dispatch.Workers < 0 {
		errs = append(errs, errors.New("dispatch.workers must be >= 0"))
	}
	if c.Dispatch.RetryMax < 0 {
		errs = append(errs, errors.New("dispatch.retry_max must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}

	return errors.Join(errs...)
}

// ParseDurationField parses a duration-typed config value. Empty means
// unset and parses to zero. Negative values are rejected: every duration
// in this config (cooldowns, intervals, timeouts) is a wait, and waits
// do not run backwards. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// unset values, for fields where zero makes no operational sense.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
