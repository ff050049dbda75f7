package sink

import (
	"context"

	"blastbot/internal/target"
)

// Recovered is a target's state as reconstructed from the log.
type Recovered struct {
	State    target.State
	Attempts int
	Account  string
	Error    string
	// Ambiguous marks the write-ahead edge case: an "attempting" record
	// with no outcome after it. The send may or may not have reached the
	// network; recovery resolves it conservatively by retrying.
	Ambiguous bool
}

// Recover folds a run's log into per-target states. The log is
// authoritative: targets recovered as pending (including ambiguous
// in-flight ones) are the remaining work of a resumed run.
func Recover(ctx context.Context, st Store, runID string) (map[string]Recovered, error) {
	recs, err := st.Replay(ctx, runID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Recovered)
	for _, r := range recs {
		cur := out[r.Target]
		switch r.Kind {
		case KindAttempting:
			cur.Ambiguous = true
		case KindSent:
			cur.State = target.StateSent
			cur.Account = r.Account
			cur.Ambiguous = false
		case KindFailed:
			cur.State = target.StateFailed
			cur.Error = r.Error
			cur.Ambiguous = false
		case KindTransient:
			cur.State = target.StatePending
			cur.Attempts++
			cur.Error = r.Error
			cur.Ambiguous = false
		case KindRestricted:
			// Account-level; the target stays pending at no attempt cost.
			cur.State = target.StatePending
			cur.Ambiguous = false
		case KindSkippedDuplicate:
			cur.State = target.StateSkippedDuplicate
			cur.Ambiguous = false
		case KindSkippedInvalid:
			cur.State = target.StateSkippedInvalid
			cur.Error = r.Error
			cur.Ambiguous = false
		}
		if cur.State == "" {
			cur.State = target.StatePending
		}
		out[r.Target] = cur
	}
	return out, nil
}
