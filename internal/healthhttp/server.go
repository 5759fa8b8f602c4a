// Package healthhttp exposes liveness/readiness/metrics endpoints over
// the dispatch run, ported from Orion's health.go (LivenessHandler /
// ReadinessHandler / MetricsHandler / StartHealthServer) and retargeted
// from camera/stream/MQTT status to worker/outcome status.
package healthhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	dispatch "github.com/hesic73/gpu-dispatch"
)

// Status is a point-in-time snapshot served from /readiness.
type Status struct {
	Status             string `json:"status"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	WorkersTotal       int    `json:"workers_total"`
	TasksStarted       uint64 `json:"tasks_started"`
	TasksSucceeded     uint64 `json:"tasks_succeeded"`
	TasksFailed        uint64 `json:"tasks_failed"`
	TasksTimedOut      uint64 `json:"tasks_timed_out"`
	WorkersSetupFailed int    `json:"workers_setup_failed"`
}

// Server tracks run-scoped counters it exposes over HTTP and never
// touches dispatch control flow, the same non-driving role
// mqttobserver.Observer plays.
type Server struct {
	workersTotal int
	started      time.Time

	tasksStarted   atomic.Uint64
	tasksSucceeded atomic.Uint64
	tasksFailed    atomic.Uint64
	tasksTimedOut  atomic.Uint64
	setupFailed    atomic.Int64
}

// New creates a Server tracking workersTotal workers.
func New(workersTotal int) *Server {
	return &Server{workersTotal: workersTotal, started: time.Now()}
}

// Wrap returns dispatch.Callbacks that update this Server's counters
// alongside an existing set of user callbacks.
func (s *Server) Wrap(inner dispatch.Callbacks) dispatch.Callbacks {
	return dispatch.Callbacks{
		OnTaskStart: func(taskID uint64, workerID int) {
			s.tasksStarted.Add(1)
			if inner.OnTaskStart != nil {
				inner.OnTaskStart(taskID, workerID)
			}
		},
		OnSuccess: func(taskID uint64, result any, workerID int) {
			s.tasksSucceeded.Add(1)
			if inner.OnSuccess != nil {
				inner.OnSuccess(taskID, result, workerID)
			}
		},
		OnError: func(taskID uint64, errText string, workerID int) {
			s.tasksFailed.Add(1)
			if inner.OnError != nil {
				inner.OnError(taskID, errText, workerID)
			}
		},
		OnTimeout: func(taskID uint64, timeoutSeconds float64, workerID int) {
			s.tasksTimedOut.Add(1)
			if inner.OnTimeout != nil {
				inner.OnTimeout(taskID, timeoutSeconds, workerID)
			}
		},
		OnSetupFail: func(deviceID int, errText string) {
			s.setupFailed.Add(1)
			if inner.OnSetupFail != nil {
				inner.OnSetupFail(deviceID, errText)
			}
		},
		OnExit: inner.OnExit,
	}
}

func (s *Server) snapshot() Status {
	setupFailed := int(s.setupFailed.Load())
	status := "healthy"
	if setupFailed >= s.workersTotal {
		status = "unhealthy"
	} else if setupFailed > 0 {
		status = "degraded"
	}

	return Status{
		Status:             status,
		UptimeSeconds:      int64(time.Since(s.started).Seconds()),
		WorkersTotal:       s.workersTotal,
		TasksStarted:       s.tasksStarted.Load(),
		TasksSucceeded:     s.tasksSucceeded.Load(),
		TasksFailed:        s.tasksFailed.Load(),
		TasksTimedOut:      s.tasksTimedOut.Load(),
		WorkersSetupFailed: setupFailed,
	}
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := s.snapshot()
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	status := s.snapshot()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "gpu_dispatch_tasks_started %d\n", status.TasksStarted)
	fmt.Fprintf(w, "gpu_dispatch_tasks_succeeded %d\n", status.TasksSucceeded)
	fmt.Fprintf(w, "gpu_dispatch_tasks_failed %d\n", status.TasksFailed)
	fmt.Fprintf(w, "gpu_dispatch_tasks_timed_out %d\n", status.TasksTimedOut)
	fmt.Fprintf(w, "gpu_dispatch_workers_setup_failed %d\n", status.WorkersSetupFailed)
}

// Start launches the HTTP server on port in a background goroutine and
// returns immediately; it shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.livenessHandler)
	mux.HandleFunc("/readiness", s.readinessHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()
}
