//go:build windows

package engine

import "os"

// windows has no SIGTERM; os.Kill is the closest available signal, so
// the terminate rung and the kill rung collapse into one on this
// platform.
var terminateSignal = os.Kill
