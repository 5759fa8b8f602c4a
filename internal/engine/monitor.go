package engine

import (
	"context"
	"time"

	"github.com/hesic73/gpu-dispatch/internal/feeder"
	"github.com/hesic73/gpu-dispatch/internal/protocol"
	"github.com/hesic73/gpu-dispatch/internal/queue"
)

// resultPollInterval mirrors the Python monitor's 0.1s result_queue.get
// timeout: short enough to notice shutdown promptly, long enough not to
// busy-loop.
const resultPollInterval = 100 * time.Millisecond

// monitor is the Monitor Loop of spec.md §4.5. It exits when the
// context is cancelled, when every worker has failed setup, or when the
// feeder has finished and every enqueued task has produced a terminal
// outcome (TaskSuccess, TaskError, or TaskTimeout — TaskStarted,
// SetupFailed and CleanupFailed do not count toward this total, exactly
// as in the ported Python _monitor).
func (d *Dispatcher) monitor(
	ctx context.Context,
	resultQueue *queue.ResultQueue,
	feederDone <-chan feeder.Result,
	handles []*workerHandle,
	cb Callbacks,
) error {
	activeWorkers := len(handles)
	resultsReceived := 0

	var feederResult *feeder.Result
	enqueued := -1 // unknown until the feeder reports in

	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.shutdownRequested.Load() {
			return nil
		}
		if feederResult != nil && enqueued >= 0 && resultsReceived >= enqueued {
			return feederResult.Err
		}

		select {
		case r := <-feederDone:
			feederResult = &r
			enqueued = r.Enqueued
			continue
		case <-ctx.Done():
			return nil
		default:
		}

		msg, ok := resultQueue.Pop(resultPollInterval)
		if !ok {
			continue
		}

		switch msg.Kind {
		case protocol.KindTaskStarted:
			if cb.OnTaskStart != nil {
				d.safeCall("OnTaskStart", func() { cb.OnTaskStart(msg.TaskID, msg.WorkerID) })
			}

		case protocol.KindTaskSuccess:
			if cb.OnSuccess != nil {
				d.safeCall("OnSuccess", func() { cb.OnSuccess(msg.TaskID, msg.Result, msg.WorkerID) })
			}
			resultsReceived++

		case protocol.KindTaskError:
			if cb.OnError != nil {
				d.safeCall("OnError", func() { cb.OnError(msg.TaskID, msg.Error, msg.WorkerID) })
			}
			resultsReceived++

		case protocol.KindTaskTimeout:
			if cb.OnTimeout != nil {
				d.safeCall("OnTimeout", func() { cb.OnTimeout(msg.TaskID, msg.Timeout, msg.WorkerID) })
			}
			resultsReceived++

		case protocol.KindSetupFailed:
			if cb.OnSetupFail != nil {
				d.safeCall("OnSetupFail", func() { cb.OnSetupFail(msg.DeviceID, msg.Error) })
			}
			activeWorkers--
			if activeWorkers == 0 {
				return errAllWorkersFailedSetup
			}

		case protocol.KindCleanupFailed:
			d.log.Warn("worker cleanup failed", "device_id", msg.DeviceID, "error", msg.Error)
		}
	}
}

// safeCall invokes a user callback with a recover guard: spec.md §4.5's
// callback contract is explicit that a callback failure must be caught,
// logged, and swallowed rather than allowed to unwind the Monitor Loop.
func (d *Dispatcher) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("user callback panicked, continuing", "callback", name, "panic", r)
		}
	}()
	fn()
}
