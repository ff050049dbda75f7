// Package sink is the durable, append-only log of per-target outcomes.
//
// The dispatcher writes ahead: an "attempting" record goes in before the
// send, the outcome record after it, and only then does the in-memory
// target state flip. Replaying the log therefore reconstructs a run's
// target states after a crash, with at most one target left ambiguous.
package sink

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "blastbot/pkg/logx"
)

// Record kinds. Outcome kinds deliberately match the on-the-wire
// classification; "attempting" is the write-ahead marker.
const (
	KindAttempting       = "attempting"
	KindSent             = "sent"
	KindFailed           = "failed"
	KindTransient        = "transient_failure"
	KindRestricted       = "account_restricted"
	KindSkippedDuplicate = "skipped_duplicate"
	KindSkippedInvalid   = "skipped_invalid"
)

// Record is one append-only log entry. Records are never updated or
// deleted; later records for the same target supersede earlier ones.
type Record struct {
	RunID   string    `json:"run_id"`
	Target  string    `json:"target"` // target key
	Account string    `json:"account,omitempty"`
	Kind    string    `json:"kind"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Store is the persistence API for outcome records.
//
// Append must be durable when it returns: the run aborts on any append
// error rather than sending without an audit trail.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Replay returns all records for a run in append order.
	Replay(ctx context.Context, runID string) ([]Record, error)
	Close() error
}

// Config configures the sink backend.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "file": append-only JSON Lines file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown sink driver: " + cfg.Driver)
	}
}
