package engine

import (
	"sync"

	"github.com/roach88/gpucep/internal/ir"
)

// eventQueue feeds Run. It never blocks producers: transports push into an
// unbounded slice and Run is woken through ready, a one-slot channel that
// folds a burst of pushes into one wakeup and is closed by Close.
type eventQueue struct {
	mu     sync.Mutex
	buf    []*ir.PubPkt
	head   int
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

// Enqueue appends ev. It reports false once the queue is closed.
func (q *eventQueue) Enqueue(ev *ir.PubPkt) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.buf = append(q.buf, ev)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest event. Events queued before Close are still
// returned.
func (q *eventQueue) TryDequeue() (*ir.PubPkt, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.buf) {
		return nil, false
	}
	ev := q.buf[q.head]
	q.buf[q.head] = nil
	q.head++
	if q.head == len(q.buf) {
		q.buf, q.head = q.buf[:0], 0
	} else if q.head > 64 && q.head*2 > len(q.buf) {
		n := copy(q.buf, q.buf[q.head:])
		clear(q.buf[n:])
		q.buf, q.head = q.buf[:n], 0
	}
	return ev, true
}

func (q *eventQueue) Wait() <-chan struct{} { return q.ready }

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.head
}

func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close refuses further events and wakes Run. Safe to call more than once.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
}
