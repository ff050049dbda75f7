package account

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"blastbot/internal/eventbus"
	"blastbot/internal/transport"
	logx "blastbot/pkg/logx"
)

// Config controls account health behavior.
type Config struct {
	// DailyLimit is the default per-account daily send cap (0 = unlimited).
	DailyLimit int
	// FailureThreshold is the consecutive transient-failure count that puts
	// an account into cooling_down.
	FailureThreshold int
	// CooldownBase is the first recovery window; it doubles per episode up
	// to CooldownMax.
	CooldownBase time.Duration
	CooldownMax  time.Duration
	// Location defines the daily reset boundary (midnight in Location).
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 5 * time.Minute
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 2 * time.Hour
	}
	if c.CooldownMax < c.CooldownBase {
		c.CooldownMax = c.CooldownBase
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.DailyLimit < 0 {
		c.DailyLimit = 0
	}
	return c
}

// Seed describes one account at pool construction time. Accounts come from
// the external directory; the pool only ever learns the opaque handle.
type Seed struct {
	Handle     string
	DailyLimit int // overrides Config.DailyLimit when > 0
	Status     Status
}

var ErrNoAccounts = errors.New("account pool is empty")

// Pool owns all account state. Selection hands out exclusive leases;
// mutation happens only through Lease.Release, so per-account updates are
// serialized while distinct accounts proceed fully in parallel.
type Pool struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	now func() time.Time

	accounts map[string]*Account
	leased   map[string]bool

	// resetDay is the yyyy-mm-dd (in cfg.Location) of the last daily reset.
	resetDay string
}

func NewPool(cfg Config, seeds []Seed, log logx.Logger, bus eventbus.Bus) (*Pool, error) {
	if len(seeds) == 0 {
		return nil, ErrNoAccounts
	}
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	p := &Pool{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		now:      time.Now,
		accounts: make(map[string]*Account, len(seeds)),
		leased:   map[string]bool{},
	}
	for _, s := range seeds {
		h := strings.TrimSpace(s.Handle)
		if h == "" {
			return nil, errors.New("account seed with empty handle")
		}
		if _, dup := p.accounts[h]; dup {
			return nil, errors.New("duplicate account handle: " + h)
		}
		limit := s.DailyLimit
		if limit <= 0 {
			limit = cfg.DailyLimit
		}
		status := s.Status
		if status == "" {
			status = StatusActive
		}
		p.accounts[h] = &Account{Handle: h, Status: status, DailyLimit: limit}
	}
	p.resetDay = dayStamp(p.now(), cfg.Location)
	return p, nil
}

// SetClock replaces the pool's time source. Test hook.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

func (p *Pool) Location() *time.Location { return p.cfg.Location }

func dayStamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// rollover applies the daily reset when the boundary has passed since the
// last check. Called under p.mu. The cron scheduler calls ResetDaily at
// the boundary as well; this lazy path keeps a fake-clock test (and a
// process that slept through midnight) correct without cron.
func (p *Pool) rollover(now time.Time) {
	day := dayStamp(now, p.cfg.Location)
	if day == p.resetDay {
		return
	}
	p.resetDay = day
	p.resetLocked()
}

func (p *Pool) resetLocked() {
	for _, a := range p.accounts {
		a.DailySent = 0
		if a.Status == StatusLimited {
			a.Status = StatusActive
		}
	}
}

// ResetDaily resets daily counters and promotes limited accounts.
func (p *Pool) ResetDaily() {
	p.mu.Lock()
	p.resetDay = dayStamp(p.now(), p.cfg.Location)
	p.resetLocked()
	p.mu.Unlock()
	p.log.Info("daily quota reset")
}

// promote recovers a cooling_down account whose window has elapsed.
// Called under p.mu.
func (p *Pool) promote(a *Account, now time.Time) {
	if a.Status == StatusCoolingDown && !a.RecoverAt.After(now) {
		a.Status = StatusActive
		a.ConsecutiveFailures = 0
	}
}

// Acquire selects an eligible account and leases it to the caller.
//
// Eligible: active (cooling_down accounts past their recovery window are
// promoted first), not already leased, and rate-eligible now. Ties break
// by least-recently-used (oldest LastSendAt) to spread load evenly.
//
// ok=false means no account qualifies right now; the caller should wait
// until NextEligibleAt rather than treat it as an error.
func (p *Pool) Acquire(only map[string]bool) (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.rollover(now)

	var best *Account
	for _, a := range p.accounts {
		if only != nil && !only[a.Handle] {
			continue
		}
		if p.leased[a.Handle] {
			continue
		}
		p.promote(a, now)
		if a.Status != StatusActive {
			continue
		}
		at, ok := EligibleAt(a.snapshot(), now, p.cfg.Location)
		if !ok || at.After(now) {
			continue
		}
		if best == nil || a.LastSendAt.Before(best.LastSendAt) {
			best = a
		}
	}
	if best == nil {
		return nil, false
	}
	p.leased[best.Handle] = true
	return &Lease{pool: p, handle: best.Handle, snap: best.snapshot()}, true
}

// NextEligibleAt reports the soonest time any sendable (non-banned)
// account becomes eligible. ok=false means every account is banned and no
// send can ever proceed.
//
// Leased accounts count as sendable: a lease in flight will release.
func (p *Pool) NextEligibleAt(only map[string]bool) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.rollover(now)

	var soonest time.Time
	any := false
	for _, a := range p.accounts {
		if only != nil && !only[a.Handle] {
			continue
		}
		p.promote(a, now)
		at, ok := EligibleAt(a.snapshot(), now, p.cfg.Location)
		if !ok {
			continue
		}
		if p.leased[a.Handle] && !at.After(now) {
			// Busy now; it frees up when its next interval elapses, which
			// we cannot know yet. Treat as "shortly after now".
			at = now
		}
		if !any || at.Before(soonest) {
			soonest = at
			any = true
		}
	}
	return soonest, any
}

// Snapshots returns a copy of every account's state, sorted by handle.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Handles returns all known account handles.
func (p *Pool) Handles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.accounts))
	for h := range p.accounts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Lease is exclusive access to one account between selection and the
// outcome of a single send attempt.
type Lease struct {
	pool   *Pool
	handle string
	snap   Snapshot

	done bool
}

func (l *Lease) Handle() string     { return l.handle }
func (l *Lease) Snapshot() Snapshot { return l.snap }

// Release applies the attempt's outcome to the account and returns it to
// the pool. nextInterval is the rate gate's fresh draw, applied only on
// success; retryAfter is an optional server wait hint on transient
// failures. Release is idempotent.
func (l *Lease) Release(outcome transport.Outcome, retryAfter, nextInterval time.Duration) {
	if l == nil || l.done {
		return
	}
	l.done = true

	p := l.pool
	p.mu.Lock()
	a := p.accounts[l.handle]
	if a == nil {
		delete(p.leased, l.handle)
		p.mu.Unlock()
		return
	}
	now := p.now()
	p.rollover(now)

	var event string
	var until time.Time
	switch outcome {
	case transport.OutcomeSuccess:
		a.DailySent++
		a.LastSendAt = now
		a.NextAllowedAt = now.Add(nextInterval)
		a.ConsecutiveFailures = 0
		if a.DailyLimit > 0 && a.DailySent >= a.DailyLimit {
			a.Status = StatusLimited
			event = eventbus.TypeAccountLimited
			until = NextReset(now, p.cfg.Location)
		}

	case transport.OutcomeTransient:
		a.ConsecutiveFailures++
		if retryAfter > 0 {
			hinted := now.Add(retryAfter)
			if hinted.After(a.NextAllowedAt) {
				a.NextAllowedAt = hinted
			}
		}
		if a.Status == StatusActive && a.ConsecutiveFailures >= p.cfg.FailureThreshold {
			window := p.cfg.CooldownBase
			for i := 0; i < a.CooldownEpisodes; i++ {
				window *= 2
				if window >= p.cfg.CooldownMax {
					window = p.cfg.CooldownMax
					break
				}
			}
			a.CooldownEpisodes++
			a.Status = StatusCoolingDown
			a.RecoverAt = now.Add(window)
			event = eventbus.TypeAccountCooling
			until = a.RecoverAt
		}

	case transport.OutcomeRestricted:
		a.Status = StatusBanned
		event = eventbus.TypeAccountBanned

	case transport.OutcomePermanent, transport.OutcomeSkipped:
		// Target-level; the account is unaffected.
	}
	delete(p.leased, l.handle)
	status := a.Status
	p.mu.Unlock()

	if event != "" {
		p.log.Warn("account status changed",
			logx.String("account", l.handle),
			logx.String("status", string(status)),
			logx.Time("until", until),
		)
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: event, Data: eventbus.AccountEvent{
				Handle: l.handle,
				Status: string(status),
				Until:  until,
			}})
		}
	}
}
