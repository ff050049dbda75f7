package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: debug
  console: true
accounts:
  entries:
    - handle: alpha
      token: "111:AAA"
    - handle: bravo
      token: "222:BBB"
      daily_limit: 10
  daily_limit: 40
  cooldown_base: 5m
  reset_location: UTC
dispatch:
  workers: 2
  interval_min: 30s
  interval_max: 60s
  retry_max: 3
storage:
  driver: file
  path: ./results.jsonl
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q", cfg.Logging.Level)
	}
	if len(cfg.Accounts.Entries) != 2 || cfg.Accounts.Entries[1].DailyLimit != 10 {
		t.Fatalf("accounts = %+v", cfg.Accounts.Entries)
	}
	if cfg.Dispatch.IntervalMin != "30s" || cfg.Storage.Driver != "file" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nsurprise: true\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Accounts: AccountsConfig{
			Entries: []AccountEntry{
				{Handle: "alpha"},             // missing token
				{Handle: "alpha", Token: "x"}, // duplicate handle
			},
			CooldownBase:  "not-a-duration",
			ResetLocation: "Mars/Olympus",
		},
		Dispatch: DispatchConfig{RetryMax: -1},
		// storage.path missing
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"token is required",
		"duplicate handle",
		"cooldown_base",
		"reset_location",
		"retry_max",
		"storage.path",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("validation error missing %q:\n%s", want, msg)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "90s", 5*time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("90s = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "soon", 5*time.Second); err == nil {
		t.Fatal("expected error for a malformed duration")
	}
}

func TestLoadCampaign(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "campaign.yaml", `
template: "Hi {name}!"
format: html
targets:
  - identifier: "@alice_99"
    first_name: Alice
  - identifier: "123456"
accounts: [alpha]
interval_min: 2s
interval_max: 4s
force: true
`)
	c, err := LoadCampaign(path)
	if err != nil {
		t.Fatalf("LoadCampaign: %v", err)
	}
	if c.Template != "Hi {name}!" || c.Format != "html" || !c.Force {
		t.Fatalf("campaign = %+v", c)
	}
	if len(c.Targets) != 2 || c.Targets[0].FirstName != "Alice" {
		t.Fatalf("targets = %+v", c.Targets)
	}
}

func TestLoadCampaignRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "missing template", body: "targets:\n  - identifier: a_12345\n"},
		{name: "no targets", body: "template: hi\n"},
		{name: "unknown field", body: "template: hi\ntargets:\n  - identifier: a_12345\nretries: 9\n"},
		{name: "bad format", body: "template: hi\nformat: rtf\ntargets:\n  - identifier: a_12345\n"},
		{name: "bad duration", body: "template: hi\ninterval_min: yes\ntargets:\n  - identifier: a_12345\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "campaign.yaml", tt.body)
			if _, err := LoadCampaign(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
