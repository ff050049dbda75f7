package run

import (
	"errors"
	"time"

	"blastbot/internal/message"
	"blastbot/internal/sink"
	"blastbot/internal/target"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the run can no longer change state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// ErrConfiguration wraps any problem found while validating a run
// before it starts: bad template, empty target list, unknown accounts.
var ErrConfiguration = errors.New("run: invalid configuration")

// ErrNotDraft is returned by Start on a run that already started.
var ErrNotDraft = errors.New("run: already started")

// Config describes one delivery run.
type Config struct {
	// ID pins the run identifier. Empty means a fresh UUID; resuming
	// an interrupted run passes the original ID so the result log
	// keeps accumulating under it.
	ID string

	Template string
	Format   message.Format

	// IntervalMin/Max bound the random pause applied per account
	// after each successful send.
	IntervalMin time.Duration
	IntervalMax time.Duration

	Workers  int
	RetryMax int // additional attempts after the first; 0 fails fast
	Force    bool

	// RatePerSec caps sends across all workers and accounts.
	// Zero disables the cap.
	RatePerSec int

	Targets []target.Spec

	// Accounts restricts the run to a subset of pool handles.
	// Empty means every account in the pool.
	Accounts []string

	// Recovered carries per-target state replayed from the result
	// log of an interrupted run. Targets found here skip the
	// start-of-run skip records and keep their attempt counts.
	Recovered map[string]sink.Recovered
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.IntervalMin <= 0 {
		c.IntervalMin = 30 * time.Second
	}
	if c.IntervalMax < c.IntervalMin {
		c.IntervalMax = c.IntervalMin
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.Force {
		c.RetryMax = 0
	}
	return c
}

// Progress is a point-in-time summary derived from per-target states.
type Progress struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}
