// Package account tracks sending identities: their health state, daily
// quota and send timing. The pool hands out exclusive leases so no two
// workers ever mutate the same account concurrently.
package account

import "time"

// Status is the account health state.
//
// Transitions:
//
//	active -> limited       (daily quota reached; back to active at daily reset)
//	active -> cooling_down  (consecutive transient failures; back after a timed window)
//	active -> banned        (account-level rejection; terminal)
type Status string

const (
	StatusActive      Status = "active"
	StatusLimited     Status = "limited"
	StatusCoolingDown Status = "cooling_down"
	StatusBanned      Status = "banned"
)

// Account is the pool's internal record. It is never handed out directly;
// callers see copies (Snapshot) and mutate through a Lease.
type Account struct {
	Handle     string
	Status     Status
	DailySent  int
	DailyLimit int

	// LastSendAt is the last successful send. NextAllowedAt is the earliest
	// next send, drawn by the rate gate on each success (and pushed forward
	// by flood-wait hints).
	LastSendAt    time.Time
	NextAllowedAt time.Time

	ConsecutiveFailures int
	// CooldownEpisodes counts cooling-down entries; the recovery window
	// doubles with each episode, capped by the pool config.
	CooldownEpisodes int
	RecoverAt        time.Time
}

// Snapshot is a read-only copy of an account's state.
type Snapshot struct {
	Handle              string
	Status              Status
	DailySent           int
	DailyLimit          int
	LastSendAt          time.Time
	NextAllowedAt       time.Time
	ConsecutiveFailures int
	RecoverAt           time.Time
}

func (a *Account) snapshot() Snapshot {
	return Snapshot{
		Handle:              a.Handle,
		Status:              a.Status,
		DailySent:           a.DailySent,
		DailyLimit:          a.DailyLimit,
		LastSendAt:          a.LastSendAt,
		NextAllowedAt:       a.NextAllowedAt,
		ConsecutiveFailures: a.ConsecutiveFailures,
		RecoverAt:           a.RecoverAt,
	}
}
