package dispatch

import (
	"github.com/hesic73/gpu-dispatch/internal/reexec"
	"github.com/hesic73/gpu-dispatch/internal/workerproc"
)

// Register associates a worker kind name with a Factory. It must be
// called (with matching names) from both the controlling process, so
// New can validate the kind up front, and from the worker subprocess's
// own main(), so workerproc.Main can look the kind back up after
// re-exec — typically from the same package init, since the
// subprocess is just another invocation of the same binary.
func Register(kind string, factory Factory) {
	workerproc.Register(kind, factory)
}

// IsWorker reports whether the current process was re-exec'd to act as
// a worker subprocess. A caller's main() must check this, before doing
// anything else, and call RunWorkerMain instead of its normal startup
// path when it returns true — RunWorkerMain assumes it is running in a
// re-exec'd worker and exits the process if that assumption is wrong.
func IsWorker() bool {
	return reexec.IsWorker()
}

// RunWorkerMain is the entire body of a re-exec'd worker subprocess's
// main(): callers check IsWorker() first and call this instead of their
// normal startup path when it returns true.
func RunWorkerMain() {
	workerproc.Main()
}
