package main

import (
	"context"
	"fmt"
	"math"
	"time"

	dispatch "github.com/hesic73/gpu-dispatch"
)

const demoWorkerKind = "demo-square"

// demoWorker is a stand-in for a real accelerator-bound body: it
// squares a float64 payload, optionally sleeping first if the payload
// carries a sleep_ms field, which makes the per-task timeout path
// observable when task_timeout_s is set in the config.
//
// Payloads cross a msgpack-encoded pipe into a separate OS process, so
// they never arrive as the Go struct a caller built them from — only
// the primitive/map/slice shapes msgpack actually round-trips survive.
// demoGenerator therefore emits map[string]any, and Process reads back
// out of that same shape rather than asserting a concrete struct type.
type demoWorker struct {
	deviceID int
}

func (w *demoWorker) Setup(deviceID int, seed int64, config map[string]any) error {
	w.deviceID = deviceID
	return nil
}

func (w *demoWorker) Process(ctx context.Context, payload any) (any, error) {
	task, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}

	if sleepMS, ok := task["sleep_ms"].(int64); ok && sleepMS > 0 {
		select {
		case <-time.After(time.Duration(sleepMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	value, ok := task["value"].(float64)
	if !ok {
		return nil, fmt.Errorf("payload missing numeric value field")
	}
	if math.IsNaN(value) {
		return nil, fmt.Errorf("value is NaN")
	}
	return value * value, nil
}

func (w *demoWorker) Cleanup() error {
	return nil
}

func init() {
	dispatch.Register(demoWorkerKind, func() dispatch.Worker {
		return &demoWorker{}
	})
}

// demoGenerator produces n tasks with values 0..n-1.
type demoGenerator struct {
	n int
	i int
}

func (g *demoGenerator) Next() (any, bool) {
	if g.i >= g.n {
		return nil, false
	}
	v := float64(g.i)
	g.i++
	return map[string]any{"value": v}, true
}

func (g *demoGenerator) Err() error { return nil }
