// Package run drives a single delivery run: a shared target queue,
// a pool of dispatch workers, and a lifecycle state machine
// (draft -> running -> paused/running -> completed|stopped|failed).
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"blastbot/internal/account"
	"blastbot/internal/eventbus"
	"blastbot/internal/message"
	"blastbot/internal/runtime/supervisor"
	"blastbot/internal/sink"
	"blastbot/internal/target"
	"blastbot/internal/transport"
	logx "blastbot/pkg/logx"
)

// Deps are the collaborators a run needs. All fields are required
// except Bus, which defaults to a no-op fan-out.
type Deps struct {
	Pool   *account.Pool
	Sender transport.Sender
	Store  sink.Store
	Bus    eventbus.Bus
	Log    logx.Logger
}

// Controller owns one run from validation to its terminal state.
type Controller struct {
	id   string
	cfg  Config
	deps Deps

	gate    *account.Gate
	limiter *rate.Limiter
	only    map[string]bool

	q   *queue
	sup *supervisor.Supervisor

	mu        sync.Mutex
	status    Status
	reason    string
	targets   []*target.Target
	recovered map[string]bool // keys already present in the result log
	// stateCh is closed and replaced on every control transition so
	// workers parked on long timers wake up promptly.
	stateCh chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New validates the run configuration and prepares the queue. It does
// not start any work; the run stays in draft until Start.
func New(cfg Config, deps Deps) (*Controller, error) {
	cfg = cfg.withDefaults()
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	if cfg.Template == "" {
		return nil, fmt.Errorf("%w: empty template", ErrConfiguration)
	}
	if err := message.Validate(cfg.Template, cfg.Format); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("%w: empty target list", ErrConfiguration)
	}

	targets := target.Prepare(cfg.Targets)

	var only map[string]bool
	if len(cfg.Accounts) > 0 {
		known := make(map[string]bool)
		for _, h := range deps.Pool.Handles() {
			known[h] = true
		}
		only = make(map[string]bool, len(cfg.Accounts))
		for _, h := range cfg.Accounts {
			if !known[h] {
				return nil, fmt.Errorf("%w: unknown account %q", ErrConfiguration, h)
			}
			only[h] = true
		}
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	c := &Controller{
		id:        id,
		cfg:       cfg,
		deps:      deps,
		gate:      account.NewGate(cfg.IntervalMin, cfg.IntervalMax),
		only:      only,
		status:    StatusDraft,
		targets:   targets,
		recovered: make(map[string]bool),
		stateCh:   make(chan struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	c.deps.Log = deps.Log.With(logx.String("run", id))

	// Overlay state replayed from the result log of an interrupted run.
	// Log keys carry the same ordinal suffixes recordSkips writes, so
	// the lookup must derive them identically or resumed runs would
	// re-append every duplicate and invalid skip record.
	seen := make(map[string]int)
	for _, t := range targets {
		key := t.Key()
		if n := seen[key]; n > 0 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		seen[t.Key()]++

		rec, ok := cfg.Recovered[key]
		if !ok {
			continue
		}
		c.recovered[key] = true
		t.Attempts = rec.Attempts
		if rec.State.Terminal() {
			t.State = rec.State
			t.LastErr = rec.Error
		}
	}

	var pending []*target.Target
	for _, t := range targets {
		if t.State == target.StatePending {
			pending = append(pending, t)
		}
	}
	// A resumed run may legitimately have nothing left to do; a fresh
	// one with zero sendable targets is a configuration mistake.
	if len(pending) == 0 && len(cfg.Recovered) == 0 {
		return nil, fmt.Errorf("%w: no sendable targets", ErrConfiguration)
	}
	c.q = newQueue(pending)
	return c, nil
}

// ID returns the run identifier used in the result log and events.
func (c *Controller) ID() string { return c.id }

// Start records pre-flight skips durably, then launches the workers.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusDraft {
		c.mu.Unlock()
		return ErrNotDraft
	}
	c.status = StatusRunning
	c.mu.Unlock()

	if err := c.recordSkips(ctx); err != nil {
		c.mu.Lock()
		c.status = StatusFailed
		c.reason = err.Error()
		c.mu.Unlock()
		close(c.doneCh)
		return fmt.Errorf("record pre-flight skips: %w", err)
	}

	c.publishRun(eventbus.TypeRunStarted, StatusRunning, "")
	c.deps.Log.Info("run started",
		logx.Int("targets", len(c.targets)),
		logx.Int("pending", c.q.remaining()),
		logx.Int("workers", c.cfg.Workers))

	c.sup = supervisor.New(ctx,
		supervisor.WithLogger(c.deps.Log),
		supervisor.WithCancelOnError(false))
	// Workers restart with backoff if a dispatch attempt panics, so one
	// bad send cannot shrink the worker pool for the rest of the run.
	for i := 0; i < c.cfg.Workers; i++ {
		c.sup.GoRestart(fmt.Sprintf("dispatch.%d", i), c.worker)
	}
	// Workers parked in the queue never observe ctx on their own.
	go func() {
		select {
		case <-ctx.Done():
			c.terminate(StatusStopped, "context canceled")
		case <-c.doneCh:
		}
	}()
	go c.finalize(ctx)
	return nil
}

// recordSkips appends one record per invalid or duplicate entry before
// any send happens, so the log alone reconstructs the full input.
// Duplicate and invalid entries can collide on the canonical key, so
// they get an ordinal suffix.
func (c *Controller) recordSkips(ctx context.Context) error {
	seen := make(map[string]int)
	for _, t := range c.targets {
		key := t.Key()
		if n := seen[key]; n > 0 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		seen[t.Key()]++

		var kind string
		switch t.State {
		case target.StateSkippedDuplicate:
			kind = sink.KindSkippedDuplicate
		case target.StateSkippedInvalid:
			kind = sink.KindSkippedInvalid
		default:
			continue
		}
		if c.recovered[key] {
			continue
		}
		err := c.deps.Store.Append(ctx, sink.Record{
			RunID:  c.id,
			Target: key,
			Kind:   kind,
			Error:  t.LastErr,
			At:     time.Now(),
		})
		if err != nil {
			return err
		}
		c.deps.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeSendSkipped,
			Time: time.Now(),
			Data: eventbus.SendEvent{RunID: c.id, Target: key, Outcome: string(t.State)},
		})
	}
	return nil
}

// finalize waits for the workers and settles the terminal state.
// Stop and fail set it first; a clean drain means completed.
func (c *Controller) finalize(ctx context.Context) {
	_ = c.sup.Wait(context.WithoutCancel(ctx))

	c.mu.Lock()
	if !c.status.Terminal() {
		if ctx.Err() != nil {
			c.status = StatusStopped
			c.reason = "context canceled"
		} else {
			c.status = StatusCompleted
		}
	}
	st, reason := c.status, c.reason
	c.mu.Unlock()

	switch st {
	case StatusCompleted:
		c.publishRun(eventbus.TypeRunCompleted, st, reason)
	case StatusStopped:
		c.publishRun(eventbus.TypeRunStopped, st, reason)
	case StatusFailed:
		c.publishRun(eventbus.TypeRunFailed, st, reason)
	}
	p := c.Progress()
	c.deps.Log.Info("run finished",
		logx.String("status", string(st)),
		logx.Int("sent", p.Sent),
		logx.Int("failed", p.Failed),
		logx.Int("skipped", p.Skipped),
		logx.Int("remaining", p.Remaining))
	close(c.doneCh)
}

// Pause suspends dispatch after in-flight attempts settle. Queue
// positions are preserved.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.status != StatusRunning {
		defer c.mu.Unlock()
		return fmt.Errorf("run: cannot pause from %s", c.status)
	}
	c.status = StatusPaused
	c.q.setPaused(true)
	c.bumpStateLocked()
	c.mu.Unlock()

	c.publishRun(eventbus.TypeRunPaused, StatusPaused, "")
	c.deps.Log.Info("run paused")
	return nil
}

// Resume continues a paused run from where it left off.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.status != StatusPaused {
		defer c.mu.Unlock()
		return fmt.Errorf("run: cannot resume from %s", c.status)
	}
	c.status = StatusRunning
	c.q.setPaused(false)
	c.bumpStateLocked()
	c.mu.Unlock()

	c.publishRun(eventbus.TypeRunResumed, StatusRunning, "")
	c.deps.Log.Info("run resumed")
	return nil
}

// Stop ends the run after in-flight attempts settle. Pending targets
// stay pending; stopping a terminal run is a no-op.
func (c *Controller) Stop(reason string) {
	c.terminate(StatusStopped, reason)
}

// fail is Stop with a failed terminal state, used when the run cannot
// make progress (persistence failure, every account banned).
func (c *Controller) fail(reason string) {
	c.terminate(StatusFailed, reason)
}

func (c *Controller) terminate(st Status, reason string) {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.status = st
	c.reason = reason
	c.q.setPaused(false)
	c.bumpStateLocked()
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
	c.q.close()
}

// Wait blocks until the run reaches a terminal state.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the run is terminal.
func (c *Controller) Done() <-chan struct{} { return c.doneCh }

// Progress derives counters from per-target states; nothing is
// tallied separately, so the numbers cannot drift from the states.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := Progress{ID: c.id, Status: c.status, Reason: c.reason, Total: len(c.targets)}
	for _, t := range c.targets {
		switch t.State {
		case target.StateSent:
			p.Sent++
		case target.StateFailed:
			p.Failed++
		case target.StateSkippedDuplicate, target.StateSkippedInvalid:
			p.Skipped++
		default:
			p.Remaining++
		}
	}
	return p
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetIntervalBounds adjusts the per-account pause window for
// subsequent sends. Used by config hot reload.
func (c *Controller) SetIntervalBounds(min, max time.Duration) {
	c.gate.SetBounds(min, max)
}

// SetRate adjusts the process-wide send cap. Zero removes it.
func (c *Controller) SetRate(perSec int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if perSec <= 0 {
		c.limiter = nil
		return
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		return
	}
	c.limiter.SetLimit(rate.Limit(perSec))
	c.limiter.SetBurst(perSec)
}

func (c *Controller) sendLimiter() *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiter
}

func (c *Controller) paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusPaused
}

func (c *Controller) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// stateGen returns a channel closed on the next control transition.
func (c *Controller) stateGen() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateCh
}

func (c *Controller) bumpStateLocked() {
	close(c.stateCh)
	c.stateCh = make(chan struct{})
}

func (c *Controller) setTargetState(t *target.Target, st target.State, lastErr string) {
	c.mu.Lock()
	t.State = st
	t.LastErr = lastErr
	c.mu.Unlock()
}

func (c *Controller) publishRun(typ string, st Status, reason string) {
	p := c.Progress()
	c.deps.Bus.Publish(eventbus.Event{
		Type: typ,
		Time: time.Now(),
		Data: eventbus.RunEvent{
			RunID:  c.id,
			Status: string(st),
			Reason: reason,
			Sent:   p.Sent,
			Failed: p.Failed,
		},
	})
}
