package workerproc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hesic73/gpu-dispatch/internal/protocol"
)

// Identity carries the parameters the Dispatcher assigns a worker
// subprocess (spec.md §4.2): its device, its seed, and the free-form
// setup config forwarded verbatim from Dispatcher.Run's kwargs.
type Identity struct {
	DeviceID    int
	WorkerID    int
	Seed        int64
	TaskTimeout time.Duration // zero means no per-task timeout
	Config      map[string]any
}

// Run executes the full worker lifecycle of spec.md §4.2 against in and
// out: setup, steady-state consumption loop, cleanup. It returns only
// after the loop has ended and cleanup has been attempted — the normal
// way for a worker subprocess's main() to finish.
func Run(w Worker, id Identity, in io.Reader, out io.Writer) {
	log := slog.With("worker_id", id.WorkerID, "device_id", id.DeviceID)

	if err := setup(w, id); err != nil {
		log.Error("worker setup failed", "error", err)
		writeOutcome(out, log, protocol.SetupFailed(id.DeviceID, err.Error()))
		return
	}
	log.Info("worker setup complete")

	runLoop(w, id, in, out, log)

	if err := cleanup(w); err != nil {
		log.Error("worker cleanup failed", "error", err)
		writeOutcome(out, log, protocol.CleanupFailed(id.DeviceID, err.Error()))
		return
	}
	log.Info("worker cleanup complete")
}

// setup invokes Worker.Setup, converting a panic into an error so a bug
// in user code can never corrupt the protocol stream.
func setup(w Worker, id Identity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in setup: %v\n%s", r, debug.Stack())
		}
	}()
	return w.Setup(id.DeviceID, id.Seed, id.Config)
}

func cleanup(w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cleanup: %v\n%s", r, debug.Stack())
		}
	}()
	return w.Cleanup()
}

// runLoop is the steady-state consumption loop of spec.md §4.2: block-
// receive, break on poison, emit TaskStarted before invoking the user
// body, race a per-task timeout, emit the matching terminal outcome, and
// continue. Outcomes are emitted in the order tasks are dequeued from
// this worker's own arrivals (spec.md §4.2 "Determinism").
func runLoop(w Worker, id Identity, in io.Reader, out io.Writer, log *slog.Logger) {
	for {
		var frame protocol.TaskFrame
		if err := protocol.ReadFrame(in, &frame); err != nil {
			if err == io.EOF {
				log.Debug("task stream closed, ending loop")
				return
			}
			log.Error("failed to read task frame, ending loop", "error", err)
			return
		}

		if frame.Poison {
			log.Debug("poison received, ending loop")
			return
		}

		writeOutcome(out, log, protocol.TaskStarted(frame.TaskID, id.WorkerID))
		runTask(w, id, frame, out, log)
	}
}

// runTask invokes Process, racing it against id.TaskTimeout when
// configured. See the REDESIGN note in SPEC_FULL.md §5.2: Go cannot asynchronously interrupt a running
// goroutine, so on timeout this emits TaskTimeout and returns
// immediately without waiting for Process to actually stop; the
// abandoned goroutine's result, if it ever arrives, is discarded.
//
// A cooperative Process that checks ctx itself can return its own
// outcome in the same instant the deadline fires, making both select
// cases ready at once. ctx.Err() is checked even on the done branch so
// that race is resolved toward TaskTimeout rather than letting select's
// random choice report a deadline-derived ctx.Err() as a plain
// TaskError.
func runTask(w Worker, id Identity, frame protocol.TaskFrame, out io.Writer, log *slog.Logger) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if id.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, id.TaskTimeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in process: %v\n%s", r, debug.Stack())}
			}
		}()
		result, err := w.Process(ctx, frame.Payload)
		done <- outcome{result: result, err: err}
	}()

	if id.TaskTimeout > 0 {
		select {
		case o := <-done:
			if ctx.Err() != nil {
				log.Warn("task exceeded timeout", "task_id", frame.TaskID, "timeout_s", id.TaskTimeout.Seconds())
				writeOutcome(out, log, protocol.TaskTimeout(frame.TaskID, id.TaskTimeout.Seconds(), id.WorkerID))
				return
			}
			emitResult(frame.TaskID, id.WorkerID, o.result, o.err, out, log)
		case <-ctx.Done():
			log.Warn("task exceeded timeout", "task_id", frame.TaskID, "timeout_s", id.TaskTimeout.Seconds())
			writeOutcome(out, log, protocol.TaskTimeout(frame.TaskID, id.TaskTimeout.Seconds(), id.WorkerID))
		}
		return
	}

	o := <-done
	emitResult(frame.TaskID, id.WorkerID, o.result, o.err, out, log)
}

func emitResult(taskID uint64, workerID int, result any, err error, out io.Writer, log *slog.Logger) {
	if err != nil {
		writeOutcome(out, log, protocol.TaskError(taskID, err.Error(), workerID))
		return
	}
	writeOutcome(out, log, protocol.TaskSuccess(taskID, result, workerID))
}

func writeOutcome(out io.Writer, log *slog.Logger, msg protocol.OutcomeMessage) {
	if err := protocol.WriteFrame(out, msg); err != nil {
		log.Error("failed to write outcome frame", "kind", msg.Kind.String(), "error", err)
	}
}
