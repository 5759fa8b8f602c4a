//go:build !windows

package engine

import "syscall"

// terminateSignal is sent to a worker process that failed to exit
// within the graceful window, one rung below a hard kill (spec.md §4.5).
var terminateSignal = syscall.SIGTERM
