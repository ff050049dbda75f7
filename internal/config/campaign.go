package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Campaign is a one-shot run description loaded from its own file, so
// message content and target lists stay out of the daemon config.
type Campaign struct {
	Template string `json:"template"`
	// Format is "plain" (default), "html" or "markdown".
	Format string `json:"format,omitempty"`

	Targets []CampaignTarget `json:"targets"`

	// Accounts restricts the run to these handles. Empty means all.
	Accounts []string `json:"accounts,omitempty"`

	Workers     int    `json:"workers,omitempty"`
	IntervalMin string `json:"interval_min,omitempty"`
	IntervalMax string `json:"interval_max,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	// Force disables retries: every target gets exactly one attempt.
	Force      bool `json:"force,omitempty"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
}

type CampaignTarget struct {
	// Identifier is a handle ("@name", "name", "t.me/name") or a
	// numeric user ID.
	Identifier string `json:"identifier"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

// LoadCampaign reads and strictly decodes a campaign file (YAML or JSON).
func LoadCampaign(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}
	jsonBytes, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	var c Campaign
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode campaign %s: %w", path, err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode campaign %s: trailing data", path)
	}

	if strings.TrimSpace(c.Template) == "" {
		return nil, errors.New("campaign: template is required")
	}
	if len(c.Targets) == 0 {
		return nil, errors.New("campaign: at least one target is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", "plain", "html", "markdown":
	default:
		return nil, fmt.Errorf("campaign: unknown format %q", c.Format)
	}
	for _, f := range []struct{ path, raw string }{
		{"campaign interval_min", c.IntervalMin},
		{"campaign interval_max", c.IntervalMax},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
