package workerproc

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hesic73/gpu-dispatch/internal/reexec"
)

// Main is the entire body of a worker subprocess's main(): look up the
// factory registered under the kind the parent asked for, construct one
// instance, and run it against stdin/stdout until the loop ends. Callers
// invoke this only after reexec.IsWorker() has returned true.
//
// stderr is left as plain text output (slog's text handler), which
// the parent reads line-by-line and re-emits through its own structured
// logger the way logStderr does for the Python subprocess.
func Main() {
	id, err := reexec.ReadIdentity()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] invalid worker identity: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	factory, err := Lookup(id.Kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}

	w := factory()
	Run(w, Identity{
		DeviceID:    id.DeviceID,
		WorkerID:    id.WorkerID,
		Seed:        id.Seed,
		TaskTimeout: id.TaskTimeout,
		Config:      id.Config,
	}, os.Stdin, os.Stdout)
}
