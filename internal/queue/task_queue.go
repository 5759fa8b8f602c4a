// Package queue implements the Task Queue and Result Queue of spec.md
// §4.3: a bounded, blocking-put FIFO for tasks (the backpressure
// mechanism), and an unbounded FIFO for outcomes that must never block a
// worker's result-emitting goroutine.
package queue

import (
	"context"

	"github.com/hesic73/gpu-dispatch/internal/protocol"
)

// TaskQueue is a bounded, multi-consumer FIFO of protocol.TaskFrame. Its
// capacity, together with a single Feeder, is the backpressure mechanism
// described in spec.md §4.3: once it fills, Put blocks and the Feeder
// stops pulling from the user generator.
//
// Multiple worker-writer goroutines may call Get concurrently. Poison
// delivery remains exactly one-per-worker under concurrent Get because a
// goroutine that receives a poison frame is required (by its caller) to
// stop calling Get forever; the Dispatcher enqueues exactly one poison
// per live worker, so by induction every live worker receives exactly
// one.
type TaskQueue struct {
	ch chan protocol.TaskFrame
}

// NewTaskQueue creates a TaskQueue with the given capacity (default 1024
// is the caller's responsibility, per spec.md §4.3).
func NewTaskQueue(capacity int) *TaskQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &TaskQueue{ch: make(chan protocol.TaskFrame, capacity)}
}

// Put blocks until the frame is accepted or the context is cancelled.
// It returns ctx.Err() on cancellation so the Feeder can observe the
// shutdown flag without a busy loop. Put panics if the queue is closed.
func (q *TaskQueue) Put(ctx context.Context, f protocol.TaskFrame) error {
	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get blocks until a frame is available or ctx is cancelled. ok is false
// when the queue has been closed and drained (err is nil), or when ctx
// is cancelled (err is ctx.Err()).
func (q *TaskQueue) Get(ctx context.Context) (protocol.TaskFrame, bool, error) {
	select {
	case f, open := <-q.ch:
		return f, open, nil
	case <-ctx.Done():
		return protocol.TaskFrame{}, false, ctx.Err()
	}
}

// Close closes the underlying channel. Callers must not Put after Close.
func (q *TaskQueue) Close() {
	close(q.ch)
}

// Len reports the number of frames currently buffered (best-effort,
// racy by nature of channels, used only for diagnostics/health).
func (q *TaskQueue) Len() int {
	return len(q.ch)
}

// Drain removes and discards any buffered frames without blocking. Used
// during shutdown to implement spec.md §4.5's "tasks still buffered in
// the Task Queue are drained and discarded."
func (q *TaskQueue) Drain() int {
	discarded := 0
	for {
		select {
		case _, open := <-q.ch:
			if !open {
				return discarded
			}
			discarded++
		default:
			return discarded
		}
	}
}
