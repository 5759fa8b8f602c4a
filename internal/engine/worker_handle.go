package engine

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hesic73/gpu-dispatch/internal/protocol"
	"github.com/hesic73/gpu-dispatch/internal/queue"
)

// workerHandle owns one worker subprocess end-to-end: the three pipes,
// the goroutines shuttling frames across them, and the exit state the
// shutdown sequence and the monitor loop both need to observe. Grounded
// on PythonPersonDetector's per-worker pipe/goroutine bundle
// (person_detector_python.go), generalized from one fixed worker to N
// device-pinned instances.
type workerHandle struct {
	workerID int
	deviceID int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	log *slog.Logger

	// draining is shared by every workerHandle in a Run call. Once
	// Dispatcher.shutdown sets it, runWriter discards any real task
	// frame it pulls instead of forwarding it, so buffered work is
	// dropped without ever reaching the worker subprocess (spec.md
	// §4.5 "drained and discarded", not "drained after being
	// dispatched").
	draining *atomic.Bool

	exited   atomic.Bool
	exitErr  atomic.Value // error
	exitedAt atomic.Value // time.Time
}

// runWriter is the single designated consumer of the shared TaskQueue
// for this worker: it blocks on q.Get, forwards whatever it dequeues
// (including the poison frame) onto this worker's stdin, and stops
// calling Get the moment it forwards a poison frame or the queue closes
// — the behavior task_queue.go's doc comment relies on for exactly-once
// poison delivery.
//
// Deliberately uses context.Background() rather than the run's
// cancellable context: cancellation must stop the Feeder from enqueuing
// new work, but a writer has to keep draining — including the poison
// frames Dispatcher.shutdown enqueues after cancellation — until it
// sees a poison or the queue is closed. Tying this Get to the same
// context it would race against its own shutdown signal.
func (h *workerHandle) runWriter(q *queue.TaskQueue) {
	defer h.stdin.Close()

	for {
		frame, ok, err := q.Get(context.Background())
		if err != nil || !ok {
			return
		}

		if !frame.Poison && h.draining.Load() {
			// Shutdown is underway: this frame was already buffered
			// ahead of the poison Dispatcher.shutdown enqueues at the
			// tail of the same queue. Drop it here rather than
			// dispatching it to the worker and letting the outcome go
			// nowhere once the Monitor Loop has stopped reading.
			continue
		}

		if werr := protocol.WriteFrame(h.stdin, frame); werr != nil {
			h.log.Warn("failed to write task frame to worker, stopping writer", "error", werr)
			return
		}

		if frame.Poison {
			return
		}
	}
}

// runReader decodes OutcomeMessage frames off this worker's stdout until
// EOF or a framing error, pushing each onto the shared ResultQueue. It
// never blocks on a full queue because ResultQueue.Push never blocks.
func (h *workerHandle) runReader(rq *queue.ResultQueue) {
	for {
		var msg protocol.OutcomeMessage
		if err := protocol.ReadFrame(h.stdout, &msg); err != nil {
			if err != io.EOF {
				h.log.Debug("worker stdout closed with error", "error", err)
			}
			return
		}
		rq.Push(msg)
	}
}

// runStderrLogger forwards the worker's plain-text log lines through the
// dispatcher's own structured logger, the same role logStderr plays for
// the Python subprocess: worker-internal logging stays visible without
// polluting the framed protocol stream on stdout.
func (h *workerHandle) runStderrLogger() {
	scanner := bufio.NewScanner(h.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "level=ERROR"):
			h.log.Error("worker log", "line", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "level=WARN"):
			h.log.Warn("worker log", "line", line)
		default:
			h.log.Debug("worker log", "line", line)
		}
	}
}

// runWaiter blocks on cmd.Wait and records the outcome, distinguishing a
// crash (non-zero exit / signal) from the expected exit that follows a
// clean poison-shutdown.
func (h *workerHandle) runWaiter() {
	err := h.cmd.Wait()
	h.exitedAt.Store(time.Now())
	if err != nil {
		h.exitErr.Store(err)
	}
	h.exited.Store(true)
}

func (h *workerHandle) crashed() (err error, ok bool) {
	v := h.exitErr.Load()
	if v == nil {
		return nil, false
	}
	return v.(error), true
}
