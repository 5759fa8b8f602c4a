// Package reexec launches worker subprocesses by re-executing the
// controlling binary itself, the same self-spawn trick used by
// container init systems and by multiprocessing.get_context('spawn'):
// the child re-enters main(), recognizes it was asked to act as a
// worker, and never falls through to the parent's own startup path.
package reexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Environment variable names the child reads to discover its identity.
// Keeping these private to the package avoids a stringly-typed contract
// leaking into caller code; workerproc.Main reads them only through
// ReadIdentity.
const (
	envMarker   = "GPU_DISPATCH_WORKER"
	envKind     = "GPU_DISPATCH_WORKER_KIND"
	envWorkerID = "GPU_DISPATCH_WORKER_ID"
	envDeviceID = "GPU_DISPATCH_DEVICE_ID"
	envSeed     = "GPU_DISPATCH_SEED"
	envTimeout  = "GPU_DISPATCH_TASK_TIMEOUT_S"
	envConfig   = "GPU_DISPATCH_CONFIG_JSON"
)

// Spec describes one worker subprocess to spawn.
type Spec struct {
	Kind        string
	WorkerID    int
	DeviceID    int
	Seed        int64
	TaskTimeout time.Duration
	Config      map[string]any
}

// IsWorker reports whether the current process was re-exec'd to act as a
// worker, and is the first thing the binary's real main() must check.
func IsWorker() bool {
	return os.Getenv(envMarker) == "1"
}

// Spawn starts a copy of the currently running executable with env vars
// identifying it as a worker of the given Spec. Stdin/stdout are wired
// as pipes carrying the length-prefixed protocol frames; stderr is
// wired as a pipe so the parent can forward worker log lines through
// its own structured logger (person_detector_python.go's logStderr
// pattern).
func Spawn(ctx context.Context, spec Spec) (cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser, stderr io.ReadCloser, err error) {
	self, err := os.Executable()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("resolve self executable: %w", err)
	}

	configJSON, err := json.Marshal(spec.Config)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode worker config: %w", err)
	}

	cmd = exec.CommandContext(ctx, self)
	cmd.Env = append(os.Environ(),
		envMarker+"=1",
		fmt.Sprintf("%s=%s", envKind, spec.Kind),
		fmt.Sprintf("%s=%d", envWorkerID, spec.WorkerID),
		fmt.Sprintf("%s=%d", envDeviceID, spec.DeviceID),
		fmt.Sprintf("%s=%d", envSeed, spec.Seed),
		fmt.Sprintf("%s=%f", envTimeout, spec.TaskTimeout.Seconds()),
		fmt.Sprintf("%s=%s", envConfig, string(configJSON)),
	)

	stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err = cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("start worker subprocess: %w", err)
	}

	return cmd, stdin, stdout, stderr, nil
}

// Identity is read back by the child process. It mirrors Spec; the
// caller resolves Kind to a Worker factory via workerproc.Lookup.
type Identity struct {
	Kind        string
	WorkerID    int
	DeviceID    int
	Seed        int64
	TaskTimeout time.Duration
	Config      map[string]any
}

// ReadIdentity parses the env vars Spawn set, for use from the child's
// main() after IsWorker() has returned true.
func ReadIdentity() (Identity, error) {
	var id Identity
	id.Kind = os.Getenv(envKind)

	if _, err := fmt.Sscanf(os.Getenv(envWorkerID), "%d", &id.WorkerID); err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", envWorkerID, err)
	}
	if _, err := fmt.Sscanf(os.Getenv(envDeviceID), "%d", &id.DeviceID); err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", envDeviceID, err)
	}
	if _, err := fmt.Sscanf(os.Getenv(envSeed), "%d", &id.Seed); err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", envSeed, err)
	}

	var timeoutSeconds float64
	if _, err := fmt.Sscanf(os.Getenv(envTimeout), "%f", &timeoutSeconds); err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", envTimeout, err)
	}
	id.TaskTimeout = time.Duration(timeoutSeconds * float64(time.Second))

	if raw := os.Getenv(envConfig); raw != "" {
		if err := json.Unmarshal([]byte(raw), &id.Config); err != nil {
			return Identity{}, fmt.Errorf("parse %s: %w", envConfig, err)
		}
	}

	return id, nil
}
