package queue

import (
	"sync"
	"time"

	eapachequeue "github.com/eapache/queue"

	"github.com/hesic73/gpu-dispatch/internal/protocol"
)

// ResultQueue is the unbounded FIFO described in spec.md §4.3: it must
// never exert backpressure on a worker's result-emitting goroutine,
// because a stalled worker cannot be interrupted by the Dispatcher
// without risking a protocol violation. Backed by eapache/queue's
// growable ring buffer rather than a fixed-capacity channel, guarded by
// a sync.Cond so the Monitor Loop can poll with a bounded timeout
// (spec.md §5's "bounded-wait get").
type ResultQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    *eapachequeue.Queue
	closed bool
}

// NewResultQueue creates an empty ResultQueue.
func NewResultQueue() *ResultQueue {
	rq := &ResultQueue{buf: eapachequeue.New()}
	rq.cond = sync.NewCond(&rq.mu)
	return rq
}

// Push appends an outcome. Never blocks.
func (rq *ResultQueue) Push(msg protocol.OutcomeMessage) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if rq.closed {
		return
	}
	rq.buf.Add(msg)
	rq.cond.Signal()
}

// Pop waits up to timeout for an outcome to become available. ok is
// false on timeout (the Monitor Loop should re-check the shutdown flag
// and call Pop again) or after Close with an empty buffer.
func (rq *ResultQueue) Pop(timeout time.Duration) (msg protocol.OutcomeMessage, ok bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	deadline := time.Now().Add(timeout)

	for rq.buf.Length() == 0 && !rq.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.OutcomeMessage{}, false
		}
		if !rq.waitWithTimeout(remaining) {
			return protocol.OutcomeMessage{}, false
		}
	}

	if rq.buf.Length() == 0 {
		return protocol.OutcomeMessage{}, false
	}

	v := rq.buf.Peek()
	rq.buf.Remove()
	return v.(protocol.OutcomeMessage), true
}

// waitWithTimeout wakes rq.cond.Wait() after d by running a timer
// goroutine that broadcasts once; it reports true when the wait ended
// for any reason other than that timer (a Push or Close), and false
// once the timer has fired. sync.Cond has no native timed wait, so this is
// the idiomatic Go substitute (a helper goroutine plus Broadcast).
func (rq *ResultQueue) waitWithTimeout(d time.Duration) bool {
	timedOut := false
	timer := time.AfterFunc(d, func() {
		rq.mu.Lock()
		timedOut = true
		rq.cond.Broadcast()
		rq.mu.Unlock()
	})
	rq.cond.Wait()
	timer.Stop()
	return !timedOut
}

// Close wakes any blocked Pop calls; a subsequent Pop on an empty queue
// returns ok=false immediately.
func (rq *ResultQueue) Close() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.closed = true
	rq.cond.Broadcast()
}

// Len reports the number of buffered outcomes (diagnostics only).
func (rq *ResultQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.buf.Length()
}
