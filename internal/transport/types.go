package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome classifies the result of one send attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeTransient covers network errors, timeouts and flood waits.
	// The target may be retried, on this account or another.
	OutcomeTransient Outcome = "transient_failure"
	// OutcomePermanent means the target itself is invalid, unreachable or
	// has blocked delivery. Retrying cannot succeed.
	OutcomePermanent Outcome = "permanent_failure"
	// OutcomeRestricted is an account-level rejection: the account is
	// flagged or banned. The target is unaffected and should be handed to
	// another account.
	OutcomeRestricted Outcome = "account_restricted"
	OutcomeSkipped    Outcome = "skipped"
)

// Target identifies a recipient. Exactly one of Handle or UserID is set.
type Target struct {
	Handle string
	UserID int64
}

func (t Target) Key() string {
	if t.Handle != "" {
		return strings.ToLower(t.Handle)
	}
	return fmt.Sprintf("id:%d", t.UserID)
}

// Message is a rendered message ready for the wire.
type Message struct {
	Text string
	// ParseMode is the platform formatting mode ("HTML", "Markdown" or
	// empty for plain text).
	ParseMode string
}

// Sender is the opaque send capability. account is the pool's opaque
// account handle; the implementation owns whatever session or credential
// that handle maps to.
//
// A nil error means delivered. Errors should be (or wrap) the taxonomy
// below so Classify can map them; anything unrecognized counts as
// transient.
type Sender interface {
	Send(ctx context.Context, account string, to Target, msg Message) error
}

// ---- Error taxonomy ----

// ErrTargetUnreachable marks target-level permanent failures
// (invalid handle, deleted user, delivery blocked by the recipient).
var ErrTargetUnreachable = errors.New("target unreachable")

// ErrAccountRestricted marks account-level rejections (flagged, banned,
// credentials revoked).
var ErrAccountRestricted = errors.New("account restricted")

// FloodError is a transient failure carrying a server-provided wait hint.
type FloodError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("flood wait %s: %v", e.RetryAfter, e.Err)
}

func (e *FloodError) Unwrap() error { return e.Err }

// Classify maps a Send error to an outcome plus an optional wait hint.
func Classify(err error) (Outcome, time.Duration) {
	if err == nil {
		return OutcomeSuccess, 0
	}
	var fe *FloodError
	if errors.As(err, &fe) {
		return OutcomeTransient, fe.RetryAfter
	}
	if errors.Is(err, ErrAccountRestricted) {
		return OutcomeRestricted, 0
	}
	if errors.Is(err, ErrTargetUnreachable) {
		return OutcomePermanent, 0
	}
	return OutcomeTransient, 0
}
