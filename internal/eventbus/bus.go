package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Run lifecycle and delivery event types published by the dispatch core.
const (
	TypeRunStarted   = "run.started"
	TypeRunPaused    = "run.paused"
	TypeRunResumed   = "run.resumed"
	TypeRunStopped   = "run.stopped"
	TypeRunCompleted = "run.completed"
	TypeRunFailed    = "run.failed"

	TypeSendOK      = "send.ok"
	TypeSendFailed  = "send.failed"
	TypeSendSkipped = "send.skipped"

	TypeAccountCooling = "account.cooling_down"
	TypeAccountLimited = "account.limited"
	TypeAccountBanned  = "account.banned"
)

// RunEvent is the payload for run.* events.
type RunEvent struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

// SendEvent is the payload for send.* events.
type SendEvent struct {
	RunID   string `json:"run_id"`
	Target  string `json:"target"`
	Account string `json:"account,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// AccountEvent is the payload for account.* events.
type AccountEvent struct {
	Handle string    `json:"handle"`
	Status string    `json:"status"`
	Until  time.Time `json:"until,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; slow subscribers drop. If a subscriber
		// unsubscribes concurrently and the channel closes, recover from
		// the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
