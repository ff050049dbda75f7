package account

import (
	"math/rand"
	"sync"
	"time"
)

// Gate draws the randomized wait between two sends on the same account.
// The interval is redrawn on every send so there is no fixed cadence.
//
// Gate never mutates account state; the dispatcher applies the drawn
// interval after a successful send.
type Gate struct {
	mu       sync.Mutex
	min, max time.Duration
	rng      *rand.Rand
}

func NewGate(min, max time.Duration) *Gate {
	if min <= 0 {
		min = 30 * time.Second
	}
	if max < min {
		max = min
	}
	return &Gate{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Gate) Bounds() (min, max time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.min, g.max
}

// SetBounds adjusts the interval window; applies to intervals drawn after
// the call.
func (g *Gate) SetBounds(min, max time.Duration) {
	if min <= 0 || max < min {
		return
	}
	g.mu.Lock()
	g.min, g.max = min, max
	g.mu.Unlock()
}

// Draw returns a uniformly random interval in [min, max].
func (g *Gate) Draw() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.max == g.min {
		return g.min
	}
	return g.min + time.Duration(g.rng.Int63n(int64(g.max-g.min)+1))
}

// EligibleAt reports when the account may next send, given only its
// snapshot. It is a pure function of (snapshot, now, reset location).
//
//   - banned: never (returns a zero time plus ok=false)
//   - cooling_down: its recovery time
//   - at daily limit: the next daily reset boundary
//   - otherwise: NextAllowedAt (zero means "now")
func EligibleAt(a Snapshot, now time.Time, loc *time.Location) (time.Time, bool) {
	switch a.Status {
	case StatusBanned:
		return time.Time{}, false
	case StatusCoolingDown:
		if a.RecoverAt.After(now) {
			return a.RecoverAt, true
		}
	case StatusLimited:
		return NextReset(now, loc), true
	}
	if a.DailyLimit > 0 && a.DailySent >= a.DailyLimit {
		return NextReset(now, loc), true
	}
	if a.NextAllowedAt.After(now) {
		return a.NextAllowedAt, true
	}
	return now, true
}

// NextReset returns the next daily quota reset boundary: midnight after
// now in loc.
func NextReset(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}
