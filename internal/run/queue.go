package run

import (
	"sync"

	"blastbot/internal/target"
)

// queue is the shared work queue for a single run. Completion is
// detected when the queue is empty and no worker holds an item:
// pop blocks while either condition could still change and returns
// false once neither can.
type queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	items       []*target.Target
	outstanding int
	paused      bool
	closed      bool
}

func newQueue(items []*target.Target) *queue {
	q := &queue{items: items}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// pop hands out the next target and counts it as outstanding until
// the caller settles it via done, requeueFront or requeueBack.
// It returns false when the run is drained or closed.
func (q *queue) pop() (*target.Target, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, false
		}
		if !q.paused && len(q.items) > 0 {
			t := q.items[0]
			q.items = q.items[1:]
			q.outstanding++
			return t, true
		}
		if len(q.items) == 0 && q.outstanding == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}

// done settles an outstanding item that reached a terminal state.
func (q *queue) done() {
	q.mu.Lock()
	q.outstanding--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// requeueFront returns an item to the head of the queue, preserving
// its position for the next dispatch.
func (q *queue) requeueFront(t *target.Target) {
	q.mu.Lock()
	q.items = append([]*target.Target{t}, q.items...)
	q.outstanding--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// requeueBack returns an item to the tail for a later retry.
func (q *queue) requeueBack(t *target.Target) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.outstanding--
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue) setPaused(v bool) {
	q.mu.Lock()
	q.paused = v
	q.mu.Unlock()
	q.cond.Broadcast()
}

// close wakes every waiter and makes all further pops fail. Items
// still queued or outstanding are abandoned where they are.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.outstanding
}
