package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hesic73/gpu-dispatch/internal/reexec"
	"github.com/hesic73/gpu-dispatch/internal/workerproc"
)

const testWorkerKind = "engine-test-worker"

// echoWorker backs every scenario in this file. Its behavior per task is
// driven entirely by the payload so one registered kind can exercise
// success, error, and timeout without a family of near-identical worker
// types — the Go equivalent of the Python test suite's SimpleWorker /
// SlowWorker / FailingProcessWorker doubles.
type echoWorker struct {
	failSetup bool
}

func (w *echoWorker) Setup(deviceID int, seed int64, config map[string]any) error {
	if w.failSetup {
		return fmt.Errorf("induced setup failure on device %d", deviceID)
	}
	return nil
}

func (w *echoWorker) Cleanup() error { return nil }

func (w *echoWorker) Process(ctx context.Context, payload any) (any, error) {
	task := payload.(map[string]any)
	switch task["action"] {
	case "error":
		return nil, fmt.Errorf("induced failure for %v", task["value"])
	case "sleep":
		select {
		case <-time.After(2 * time.Second):
			return task["value"], nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		return task["value"], nil
	}
}

func init() {
	workerproc.Register(testWorkerKind, func() workerproc.Worker {
		return &echoWorker{failSetup: os.Getenv("ENGINE_TEST_FAIL_SETUP") == "1"}
	})
}

// TestMain lets this same test binary act as the worker subprocess:
// reexec.Spawn launches a fresh copy of it with the worker env vars set,
// and reexec.IsWorker routes that copy straight into workerproc.Main
// instead of running the test suite, the docker/reexec pattern applied
// to `go test` binaries.
func TestMain(m *testing.M) {
	if reexec.IsWorker() {
		workerproc.Main()
		return
	}
	os.Exit(m.Run())
}

type collector struct {
	mu        sync.Mutex
	successes []uint64
	errors    []uint64
	timeouts  []uint64
	setupFail []int
	started   []uint64
	exited    bool
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnTaskStart: func(taskID uint64, workerID int) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.started = append(c.started, taskID)
		},
		OnSuccess: func(taskID uint64, result any, workerID int) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.successes = append(c.successes, taskID)
		},
		OnError: func(taskID uint64, errText string, workerID int) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errors = append(c.errors, taskID)
		},
		OnTimeout: func(taskID uint64, timeoutSeconds float64, workerID int) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.timeouts = append(c.timeouts, taskID)
		},
		OnSetupFail: func(deviceID int, errText string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.setupFail = append(c.setupFail, deviceID)
		},
		OnExit: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.exited = true
		},
	}
}

type taskGen struct {
	tasks []map[string]any
	i     int
}

func (g *taskGen) Next() (any, bool) {
	if g.i >= len(g.tasks) {
		return nil, false
	}
	t := g.tasks[g.i]
	g.i++
	return t, true
}

func (g *taskGen) Err() error { return nil }

func TestDispatcherHappyPath(t *testing.T) {
	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0, 1, 2, 3}, QueueSize: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gen := &taskGen{tasks: []map[string]any{
		{"action": "ok", "value": 1},
		{"action": "ok", "value": 2},
		{"action": "ok", "value": 3},
		{"action": "ok", "value": 4},
		{"action": "ok", "value": 5},
	}}

	c := &collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Run(ctx, gen, c.callbacks()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.successes) != 5 {
		t.Fatalf("expected 5 successes, got %d: %v", len(c.successes), c.successes)
	}
	if !c.exited {
		t.Fatal("expected OnExit to have fired")
	}
}

func TestDispatcherProcessError(t *testing.T) {
	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0}, QueueSize: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gen := &taskGen{tasks: []map[string]any{
		{"action": "error", "value": 1},
		{"action": "ok", "value": 2},
	}}

	c := &collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Run(ctx, gen, c.callbacks()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) != 1 || len(c.successes) != 1 {
		t.Fatalf("expected 1 error and 1 success, got errors=%v successes=%v", c.errors, c.successes)
	}
}

func TestDispatcherTaskTimeout(t *testing.T) {
	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0}, QueueSize: 4, TaskTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gen := &taskGen{tasks: []map[string]any{
		{"action": "sleep", "value": 1},
	}}

	c := &collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Run(ctx, gen, c.callbacks()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timeouts) != 1 {
		t.Fatalf("expected 1 timeout, got %v", c.timeouts)
	}
}

func TestDispatcherAllWorkersFailSetup(t *testing.T) {
	t.Setenv("ENGINE_TEST_FAIL_SETUP", "1")

	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0, 1}, QueueSize: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gen := &taskGen{tasks: []map[string]any{{"action": "ok", "value": 1}}}
	c := &collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = d.Run(ctx, gen, c.callbacks())
	if err != errAllWorkersFailedSetup {
		t.Fatalf("expected errAllWorkersFailedSetup, got %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.setupFail) != 2 {
		t.Fatalf("expected 2 setup failures, got %v", c.setupFail)
	}
}

func TestDispatcherBackpressureWithSmallQueue(t *testing.T) {
	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0}, QueueSize: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tasks := make([]map[string]any, 20)
	for i := range tasks {
		tasks[i] = map[string]any{"action": "ok", "value": i}
	}
	gen := &taskGen{tasks: tasks}

	c := &collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Run(ctx, gen, c.callbacks()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.successes) != len(tasks) {
		t.Fatalf("expected %d successes under backpressure, got %d", len(tasks), len(c.successes))
	}
}

func TestDispatcherContextCancelDuringRun(t *testing.T) {
	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0}, QueueSize: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tasks := make([]map[string]any, 1000)
	for i := range tasks {
		tasks[i] = map[string]any{"action": "sleep", "value": i}
	}
	gen := &taskGen{tasks: tasks}

	c := &collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = d.Run(ctx, gen, c.callbacks())

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exited {
		t.Fatal("expected OnExit to have fired even on early cancellation")
	}
	if len(c.successes) >= len(tasks) {
		t.Fatalf("expected run to be interrupted before completing all tasks, got %d successes", len(c.successes))
	}
}

func TestDispatcherRejectsMissingOnSuccess(t *testing.T) {
	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0}, QueueSize: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gen := &taskGen{tasks: []map[string]any{{"action": "ok", "value": 1}}}
	if err := d.Run(context.Background(), gen, Callbacks{}); err == nil {
		t.Fatal("expected Run to reject Callbacks with a nil OnSuccess")
	}
}

// TestDispatcherSurvivesPanickingCallback exercises spec.md §4.5's
// callback contract directly: a panicking OnSuccess must not unwind the
// Monitor Loop, OnExit must still fire exactly once, and every worker
// subprocess must still be torn down so Run returns instead of hanging.
func TestDispatcherSurvivesPanickingCallback(t *testing.T) {
	d, err := New(testWorkerKind, Options{DeviceIDs: []int{0}, QueueSize: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gen := &taskGen{tasks: []map[string]any{
		{"action": "ok", "value": 1},
		{"action": "ok", "value": 2},
		{"action": "ok", "value": 3},
	}}

	var onExitCount int
	c := &collector{}
	cb := c.callbacks()
	cb.OnSuccess = func(taskID uint64, result any, workerID int) {
		panic("boom")
	}
	cb.OnExit = func() {
		onExitCount++
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Run(ctx, gen, cb); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if onExitCount != 1 {
		t.Fatalf("expected OnExit to fire exactly once, fired %d times", onExitCount)
	}
}
