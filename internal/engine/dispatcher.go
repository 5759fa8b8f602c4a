// Package engine is the Dispatcher of spec.md §4.5: it owns the Task and
// Result Queues, spawns and supervises the worker subprocesses, runs the
// Feeder and the Monitor Loop, and drives the shutdown escalation.
// Grounded on Orion (internal/core/orion.go)'s orchestrator shape, with
// the monitor/feeder/shutdown control flow ported from the Python
// dispatcher this module replaces.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hesic73/gpu-dispatch/internal/feeder"
	"github.com/hesic73/gpu-dispatch/internal/queue"
	"github.com/hesic73/gpu-dispatch/internal/reexec"
	"github.com/hesic73/gpu-dispatch/internal/workerproc"
)

// Options configures a Dispatcher and applies to every Run call on it
// (spec.md §4.5, §6).
type Options struct {
	DeviceIDs   []int
	QueueSize   int
	BaseSeed    int64
	TaskTimeout time.Duration
	Config      map[string]any

	// Shutdown escalation windows; zero values fall back to the
	// defaults ported from the Python dispatcher's _shutdown_workers
	// (3s graceful, 1s after terminate, 0.5s after kill).
	GracefulWait  time.Duration
	TerminateWait time.Duration
	KillWait      time.Duration
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.GracefulWait <= 0 {
		o.GracefulWait = 3 * time.Second
	}
	if o.TerminateWait <= 0 {
		o.TerminateWait = 1 * time.Second
	}
	if o.KillWait <= 0 {
		o.KillWait = 500 * time.Millisecond
	}
}

// Callbacks are the user-facing hooks the Monitor Loop invokes for each
// outcome kind (spec.md §4.1, §6). Every field except OnSuccess is
// optional; a nil callback for an observed outcome is simply skipped,
// except CleanupFailed and worker crashes which are always logged.
type Callbacks struct {
	OnTaskStart func(taskID uint64, workerID int)
	OnSuccess   func(taskID uint64, result any, workerID int)
	OnError     func(taskID uint64, errText string, workerID int)
	OnTimeout   func(taskID uint64, timeoutSeconds float64, workerID int)
	OnSetupFail func(deviceID int, errText string)
	OnExit      func()
}

// Dispatcher is the entry point described in spec.md §4.5 and §6.
type Dispatcher struct {
	kind  string
	runID uuid.UUID
	opts  Options
	log   *slog.Logger

	shutdownRequested atomic.Bool
}

// RunID identifies this Dispatcher instance across its logs and any
// optional observer (internal/mqttobserver, internal/healthhttp)
// attached to it.
func (d *Dispatcher) RunID() uuid.UUID {
	return d.runID
}

// Shutdown sets the shutdown flag the Monitor Loop polls on every
// iteration. It is safe to call from a signal handler or any goroutine,
// concurrently with and any number of times during a Run — spec.md
// §4.5's "shutdown can be requested asynchronously."
func (d *Dispatcher) Shutdown() {
	d.shutdownRequested.Store(true)
}

// New validates kind against the worker registry and the device list,
// and returns a Dispatcher ready to Run. Construction validates early
// exactly so a typo'd kind or empty device list fails before any
// subprocess is spawned (spec.md §4.2, §7).
func New(kind string, opts Options) (*Dispatcher, error) {
	factory, err := workerproc.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if factory() == nil {
		return nil, fmt.Errorf("worker factory for kind %q returned a nil Worker", kind)
	}
	if len(opts.DeviceIDs) == 0 {
		return nil, fmt.Errorf("device_ids cannot be empty")
	}
	opts.setDefaults()

	runID := uuid.New()
	return &Dispatcher{
		kind:  kind,
		runID: runID,
		opts:  opts,
		log:   slog.With("dispatcher_kind", kind, "run_id", runID),
	}, nil
}

// Run drives one full dispatch: spawn workers, feed the generator,
// invoke callbacks for every outcome, and shut down cleanly when the
// generator is exhausted, the context is cancelled, or all workers fail
// setup. It returns once shutdown has fully completed; OnExit has
// already fired by the time it returns.
func (d *Dispatcher) Run(ctx context.Context, gen feeder.Generator, cb Callbacks) error {
	if cb.OnSuccess == nil {
		return fmt.Errorf("callbacks.OnSuccess is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Worker processes get a context of their own: exec.CommandContext
	// kills a process the moment its context ends, so tying them to runCtx
	// would kill every worker before shutdown's poison/terminate/kill
	// sequence could run. This deferred cancel runs last, after shutdown.
	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()

	taskQueue := queue.NewTaskQueue(d.opts.QueueSize)
	resultQueue := queue.NewResultQueue()

	// draining is flipped once by shutdown, before it enqueues any
	// poison frame, so every runWriter starts discarding buffered real
	// frames instead of dispatching them the moment teardown begins.
	draining := new(atomic.Bool)

	handles := make([]*workerHandle, 0, len(d.opts.DeviceIDs))
	for i, deviceID := range d.opts.DeviceIDs {
		h, err := d.spawnWorker(procCtx, i, deviceID, draining)
		if err != nil {
			cancel()
			if cb.OnExit != nil {
				d.safeCall("OnExit", cb.OnExit)
			}
			return fmt.Errorf("spawn worker for device %d: %w", deviceID, err)
		}
		handles = append(handles, h)

		go h.runWriter(taskQueue)
		go h.runReader(resultQueue)
		go h.runStderrLogger()
		go h.runWaiter()
	}

	var wg sync.WaitGroup
	feederDone := make(chan feeder.Result, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		feederDone <- feeder.Run(runCtx, gen, taskQueue)
	}()

	// OnExit and shutdown are deferred, not called sequentially after
	// monitor returns: spec.md §8 requires OnExit exactly once per Run
	// and an orderly teardown on every path, including a monitor that
	// returns early (or, with safeCall's recover now in place, should
	// never again panic — but the defer keeps the guarantee even if a
	// future change to monitor reintroduces a panicking path).
	defer func() {
		cancel()
		d.shutdown(handles, taskQueue, resultQueue, draining)
		wg.Wait()
	}()
	defer func() {
		if cb.OnExit != nil {
			d.safeCall("OnExit", cb.OnExit)
		}
	}()

	monitorErr := d.monitor(runCtx, resultQueue, feederDone, handles, cb)
	return monitorErr
}

func (d *Dispatcher) spawnWorker(ctx context.Context, workerID, deviceID int, draining *atomic.Bool) (*workerHandle, error) {
	cmd, stdin, stdout, stderr, err := reexec.Spawn(ctx, reexec.Spec{
		Kind:        d.kind,
		WorkerID:    workerID,
		DeviceID:    deviceID,
		Seed:        d.opts.BaseSeed + int64(deviceID),
		TaskTimeout: d.opts.TaskTimeout,
		Config:      d.opts.Config,
	})
	if err != nil {
		return nil, err
	}

	return &workerHandle{
		workerID: workerID,
		deviceID: deviceID,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		log:      d.log.With("worker_id", workerID, "device_id", deviceID),
		draining: draining,
	}, nil
}
