package run

import (
	"context"
	"fmt"
	"time"

	"blastbot/internal/account"
	"blastbot/internal/eventbus"
	"blastbot/internal/message"
	"blastbot/internal/sink"
	"blastbot/internal/target"
	"blastbot/internal/transport"
	logx "blastbot/pkg/logx"
)

// minAccountWait floors the poll interval while every account is
// briefly busy or rate-gated, to avoid spinning on the pool.
const minAccountWait = 50 * time.Millisecond

// worker pops targets until the queue drains or the run terminates.
// A dispatch panic surfaces as an error so the supervisor restarts
// the worker with backoff.
func (c *Controller) worker(ctx context.Context) error {
	for {
		t, ok := c.q.pop()
		if !ok {
			return nil
		}
		cont, err := c.dispatch(ctx, t)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// dispatch runs one attempt for one target: lease an eligible account,
// honor the process-wide cap, write the attempt ahead, send, classify,
// settle. It returns cont=false when the worker should exit.
func (c *Controller) dispatch(ctx context.Context, t *target.Target) (cont bool, err error) {
	var lease *account.Lease

	// A panic anywhere in the attempt must settle the popped target and
	// release the lease, or queue completion detection stalls forever.
	// Release is idempotent, so a lease already settled stays as it was.
	defer func() {
		if r := recover(); r != nil {
			lease.Release(transport.OutcomeSkipped, 0, 0)
			c.q.requeueFront(t)
			cont, err = false, fmt.Errorf("dispatch panicked: %v", r)
		}
	}()

	lease, cont = c.acquire(ctx, t)
	if lease == nil {
		// Parked on pause (cont) or exiting on stop (!cont); either way
		// the target is already back in the queue.
		return cont, nil
	}

	if lim := c.sendLimiter(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			lease.Release(transport.OutcomeSkipped, 0, 0)
			c.q.requeueFront(t)
			return false, nil
		}
	}
	if c.stopping() {
		lease.Release(transport.OutcomeSkipped, 0, 0)
		c.q.requeueFront(t)
		return false, nil
	}

	// Write-ahead marker. Losing the audit trail is worse than losing
	// the run, so any append failure aborts it.
	if err := c.append(ctx, t.Key(), lease.Handle(), sink.KindAttempting, ""); err != nil {
		lease.Release(transport.OutcomeSkipped, 0, 0)
		c.q.requeueFront(t)
		c.fail("result log write failed: " + err.Error())
		return false, nil
	}

	msg := transport.Message{
		Text:      message.Render(c.cfg.Template, t.Vars()),
		ParseMode: c.cfg.Format.ParseMode(),
	}
	sendErr := c.deps.Sender.Send(ctx, lease.Handle(), t.Wire(), msg)
	outcome, retryAfter := transport.Classify(sendErr)

	var nextInterval time.Duration
	if outcome == transport.OutcomeSuccess {
		nextInterval = c.gate.Draw()
	}
	lease.Release(outcome, retryAfter, nextInterval)

	return c.settle(ctx, t, lease.Handle(), outcome, sendErr), nil
}

// acquire leases an account for the target, blocking until one is
// eligible. While waiting it reacts to pause (target parked at the
// queue head, nil lease, true) and stop (nil lease, false).
func (c *Controller) acquire(ctx context.Context, t *target.Target) (*account.Lease, bool) {
	for {
		if c.stopping() || ctx.Err() != nil {
			c.q.requeueFront(t)
			return nil, false
		}
		if c.paused() {
			c.q.requeueFront(t)
			return nil, true // not an exit: pop blocks until resume
		}

		if l, ok := c.deps.Pool.Acquire(c.only); ok {
			return l, true
		}

		next, any := c.deps.Pool.NextEligibleAt(c.only)
		if !any {
			c.q.requeueFront(t)
			c.deps.Log.Error("no usable accounts remain")
			c.fail("all accounts banned")
			return nil, false
		}

		wait := time.Until(next)
		if wait < minAccountWait {
			wait = minAccountWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-c.stateGen():
			timer.Stop()
		case <-c.stopCh:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

// settle records the outcome, flips the in-memory state last, and
// decides between terminal state and requeue.
func (c *Controller) settle(ctx context.Context, t *target.Target, handle string, outcome transport.Outcome, sendErr error) bool {
	errText := ""
	if sendErr != nil {
		errText = sendErr.Error()
	}

	switch outcome {
	case transport.OutcomeSuccess:
		if err := c.append(ctx, t.Key(), handle, sink.KindSent, ""); err != nil {
			// The send went out; keep the in-memory state honest even
			// though the run aborts on the lost record.
			c.setTargetState(t, target.StateSent, "")
			c.q.done()
			c.fail("result log write failed: " + err.Error())
			return false
		}
		c.setTargetState(t, target.StateSent, "")
		c.q.done()
		c.publishSend(eventbus.TypeSendOK, t, handle, outcome, "")
		c.deps.Log.Info("sent",
			logx.String("target", t.Key()),
			logx.String("account", handle))
		return true

	case transport.OutcomeRestricted:
		// The account paid for this failure, not the target: no retry
		// charge, and the target goes back to the head of the queue.
		if err := c.append(ctx, t.Key(), handle, sink.KindRestricted, errText); err != nil {
			c.q.requeueFront(t)
			c.fail("result log write failed: " + err.Error())
			return false
		}
		c.q.requeueFront(t)
		c.deps.Log.Warn("account restricted mid-send",
			logx.String("target", t.Key()),
			logx.String("account", handle),
			logx.Err(sendErr))
		return true

	case transport.OutcomeTransient:
		c.mu.Lock()
		t.Attempts++
		t.LastErr = errText
		attempts := t.Attempts
		c.mu.Unlock()

		if attempts <= c.cfg.RetryMax {
			if err := c.append(ctx, t.Key(), handle, sink.KindTransient, errText); err != nil {
				c.q.requeueFront(t)
				c.fail("result log write failed: " + err.Error())
				return false
			}
			c.q.requeueBack(t)
			c.deps.Log.Warn("transient failure, will retry",
				logx.String("target", t.Key()),
				logx.String("account", handle),
				logx.Int("attempt", attempts),
				logx.Err(sendErr))
			return true
		}
		fallthrough

	default: // OutcomePermanent, or a transient out of retry budget
		if err := c.append(ctx, t.Key(), handle, sink.KindFailed, errText); err != nil {
			c.setTargetState(t, target.StateFailed, errText)
			c.q.done()
			c.fail("result log write failed: " + err.Error())
			return false
		}
		c.setTargetState(t, target.StateFailed, errText)
		c.q.done()
		c.publishSend(eventbus.TypeSendFailed, t, handle, outcome, errText)
		c.deps.Log.Warn("delivery failed",
			logx.String("target", t.Key()),
			logx.String("account", handle),
			logx.Err(sendErr))
		return true
	}
}

func (c *Controller) append(ctx context.Context, key, handle, kind, errText string) error {
	return c.deps.Store.Append(ctx, sink.Record{
		RunID:   c.id,
		Target:  key,
		Account: handle,
		Kind:    kind,
		Error:   errText,
		At:      time.Now(),
	})
}

func (c *Controller) publishSend(typ string, t *target.Target, handle string, outcome transport.Outcome, errText string) {
	c.mu.Lock()
	attempt := t.Attempts
	c.mu.Unlock()
	c.deps.Bus.Publish(eventbus.Event{
		Type: typ,
		Time: time.Now(),
		Data: eventbus.SendEvent{
			RunID:   c.id,
			Target:  t.Key(),
			Account: handle,
			Outcome: string(outcome),
			Error:   errText,
			Attempt: attempt,
		},
	})
}
