// Command dispatchctl is a runnable demonstration of the dispatch
// library: it streams a fixed number of synthetic tasks through a pool
// of worker subprocesses pinned to the configured device IDs, logging
// every outcome, and exposes health/readiness endpoints while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	dispatch "github.com/hesic73/gpu-dispatch"
	"github.com/hesic73/gpu-dispatch/internal/config"
	"github.com/hesic73/gpu-dispatch/internal/healthhttp"
	"github.com/hesic73/gpu-dispatch/internal/mqttobserver"
)

const defaultConfigPath = "config/dispatchctl.yaml"

func main() {
	// Must be the very first thing main() does: a re-exec'd worker
	// process carries the same env vars a normal invocation would see
	// on the command line, so it has to be routed into the worker
	// runtime before flag.Parse ever runs. dispatch.IsWorker/RunWorkerMain
	// are the public entry points for this — anything outside this
	// module has no way to reach internal/reexec directly.
	if dispatch.IsWorker() {
		dispatch.RunWorkerMain()
		return
	}

	configPath := flag.String("config", defaultConfigPath, "path to dispatchctl config file")
	taskCount := flag.Int("tasks", 20, "number of synthetic demo tasks to run")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	d, err := dispatch.New(cfg.WorkerKind, dispatch.Options{
		DeviceIDs:    cfg.DeviceIDs,
		QueueSize:    cfg.QueueSize,
		BaseSeed:     cfg.BaseSeed,
		TaskTimeout:  cfg.TaskTimeout(),
		Config:       cfg.WorkerConfig,
		GracefulWait: cfg.ShutdownGrace(),
	})
	if err != nil {
		slog.Error("failed to construct dispatcher", "error", err)
		os.Exit(1)
	}

	health := healthhttp.New(len(cfg.DeviceIDs))
	health.Start(ctx, cfg.HealthServerPort)

	cb := dispatch.Callbacks{
		OnSuccess: func(taskID uint64, result any, workerID int) {
			slog.Info("task succeeded", "task_id", taskID, "worker_id", workerID, "result", result)
		},
		OnError: func(taskID uint64, errText string, workerID int) {
			slog.Error("task failed", "task_id", taskID, "worker_id", workerID, "error", errText)
		},
		OnTimeout: func(taskID uint64, timeoutSeconds float64, workerID int) {
			slog.Warn("task timed out", "task_id", taskID, "worker_id", workerID, "timeout_s", timeoutSeconds)
		},
		OnSetupFail: func(deviceID int, errText string) {
			slog.Error("worker setup failed", "device_id", deviceID, "error", errText)
		},
		OnExit: func() {
			slog.Info("dispatch run exiting")
		},
	}
	cb = health.Wrap(cb)

	var observer *mqttobserver.Observer
	if cfg.MQTT.Broker != "" {
		observer = mqttobserver.New(cfg.MQTT)
		if err := observer.Connect(ctx); err != nil {
			slog.Warn("mqtt observer failed to connect, continuing without it", "error", err)
			observer = nil
		} else {
			defer observer.Disconnect()
			go observer.StartHealthPublisher(ctx, 10*time.Second)
			cb = observer.Wrap(cb)
		}
	}

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		d.Shutdown()
		cancel()
	}()

	gen := &demoGenerator{n: *taskCount}

	slog.Info("starting dispatch run",
		"worker_kind", cfg.WorkerKind,
		"device_ids", cfg.DeviceIDs,
		"tasks", *taskCount,
	)

	if err := d.Run(ctx, gen, cb); err != nil {
		slog.Error("dispatch run failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.Info("dispatch run completed successfully")
}
