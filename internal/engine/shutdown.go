package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hesic73/gpu-dispatch/internal/protocol"
	"github.com/hesic73/gpu-dispatch/internal/queue"
)

// errAllWorkersFailedSetup is returned from Dispatcher.Run when every
// worker reports SetupFailed, the Go counterpart of the ported Python
// dispatcher raising RuntimeError("All workers failed during setup").
var errAllWorkersFailedSetup = errors.New("all workers failed during setup")

// poisonPutTimeout bounds each poison enqueue during shutdown, mirroring
// the Python dispatcher's task_queue.put(None, timeout=0.5): if every
// worker has already crashed, nothing is left draining the Task Queue,
// and a blocking Put here would hang Run forever. A timed-out put is
// logged and ignored rather than retried, the same "best effort, never
// block shutdown" tolerance the original gives queue.Full.
const poisonPutTimeout = 500 * time.Millisecond

// shutdown drives the escalating teardown of spec.md §4.5: one poison
// frame per live worker, a graceful wait, then SIGTERM-equivalent
// process termination, then a hard kill, then queue draining. Ported
// directly from the Python dispatcher's _shutdown_workers/_cleanup_queues.
//
// draining is set before the first poison frame is even enqueued: tasks
// already buffered ahead of that poison in the Task Queue must never
// reach a worker's stdin once shutdown has begun (spec.md §4.5 "drained
// and discarded without being dispatched"; the Python original discards
// them the same way on the worker side, dispatcher.py:255's
// "if shutdown_event.is_set(): break"). Flipping the flag here, rather
// than leaving it to taskQueue.Drain() below, is what makes every
// runWriter start rejecting non-poison frames in time — Drain only
// reclaims what's left after the workers have already exited.
func (d *Dispatcher) shutdown(handles []*workerHandle, taskQueue *queue.TaskQueue, resultQueue *queue.ResultQueue, draining *atomic.Bool) {
	draining.Store(true)

	for range handles {
		putCtx, cancel := context.WithTimeout(context.Background(), poisonPutTimeout)
		err := taskQueue.Put(putCtx, protocol.PoisonFrame())
		cancel()
		if err != nil {
			d.log.Warn("timed out enqueuing poison frame, task queue may be full with no worker draining it", "error", err)
		}
	}

	d.waitForExit(handles, d.opts.GracefulWait)

	for _, h := range handles {
		if h.exited.Load() {
			continue
		}
		d.log.Warn("worker did not exit gracefully, terminating", "worker_id", h.workerID)
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Signal(terminateSignal)
		}
	}
	d.waitForExit(handles, d.opts.TerminateWait)

	for _, h := range handles {
		if h.exited.Load() {
			continue
		}
		d.log.Warn("worker still alive after terminate, killing", "worker_id", h.workerID)
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
	}
	d.waitForExit(handles, d.opts.KillWait)

	for _, h := range handles {
		if err, ok := h.crashed(); ok {
			d.log.Warn("worker process exited with error", "worker_id", h.workerID, "error", err)
		}
	}

	taskQueue.Close()
	taskQueue.Drain()
	resultQueue.Close()
}

// waitForExit polls handles until every one has exited or the deadline
// passes, whichever comes first.
func (d *Dispatcher) waitForExit(handles []*workerHandle, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allExited := true
		for _, h := range handles {
			if !h.exited.Load() {
				allExited = false
				break
			}
		}
		if allExited {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
