// Package feeder implements the Feeder of spec.md §4.4: the single
// goroutine that pulls from the caller's task source and pushes framed
// tasks onto the Task Queue, providing the task_id sequence and the one
// place backpressure from a full Task Queue is actually felt.
package feeder

import (
	"context"
	"fmt"

	"github.com/hesic73/gpu-dispatch/internal/protocol"
	"github.com/hesic73/gpu-dispatch/internal/queue"
)

// Generator is the Go-shaped counterpart of spec.md's "possibly
// unbounded sequence of work items": pull-based rather than push-based,
// in the style of bufio.Scanner and sql.Rows. Next returns ok=false to
// signal exhaustion; Err reports whether that exhaustion was clean.
type Generator interface {
	Next() (payload any, ok bool)
	Err() error
}

// Result is what Run reports once the source is exhausted or ctx is
// cancelled: how many tasks were actually enqueued, and the terminal
// generator error if any (spec.md §4.4's "feeder errors propagate after
// the run, they do not interrupt already-dispatched tasks").
type Result struct {
	Enqueued int
	Err      error
}

// Run pulls from gen until exhaustion or ctx cancellation, assigning
// each payload the next dense task_id starting at 0 and blocking-
// enqueuing it on q. It returns once done, it does not run as a
// detached goroutine — callers that want that run Run in a goroutine of
// their own and read Result off a channel, exactly as the Dispatcher
// does.
func Run(ctx context.Context, gen Generator, q *queue.TaskQueue) Result {
	var taskID uint64

	for {
		payload, ok := gen.Next()
		if !ok {
			break
		}

		frame := protocol.Task(taskID, payload)
		if err := q.Put(ctx, frame); err != nil {
			return Result{Enqueued: int(taskID), Err: fmt.Errorf("feeder stopped enqueuing: %w", err)}
		}
		taskID++
	}

	if err := gen.Err(); err != nil {
		return Result{Enqueued: int(taskID), Err: fmt.Errorf("task source error: %w", err)}
	}
	return Result{Enqueued: int(taskID)}
}
