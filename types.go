package dispatch

import (
	"github.com/hesic73/gpu-dispatch/internal/workerproc"
)

// Worker is the lifecycle contract a user implements: Setup runs once
// per worker subprocess before any task, Process runs once per task,
// Cleanup runs once as the subprocess exits. See SPEC_FULL.md §5.2 for
// the timeout/cancellation contract on Process's context.
type Worker = workerproc.Worker

// Factory constructs a fresh, not-yet-set-up Worker. It is called once
// in the controlling process (to validate the registration) and once
// more inside each spawned worker subprocess.
type Factory = workerproc.Factory

// Generator is the pull-based source of task payloads, in the style of
// bufio.Scanner: Next returns ok=false once exhausted, Err reports
// whether that exhaustion was clean.
type Generator = interface {
	Next() (payload any, ok bool)
	Err() error
}

// Callbacks are the hooks invoked for each outcome a worker reports.
// OnSuccess is required — Dispatcher.Run rejects a Callbacks that
// leaves it nil, since a caller without it would silently drop every
// result; every other field may be left nil.
type Callbacks struct {
	OnTaskStart func(taskID uint64, workerID int)
	OnSuccess   func(taskID uint64, result any, workerID int)
	OnError     func(taskID uint64, errText string, workerID int)
	OnTimeout   func(taskID uint64, timeoutSeconds float64, workerID int)
	OnSetupFail func(deviceID int, errText string)
	OnExit      func()
}
