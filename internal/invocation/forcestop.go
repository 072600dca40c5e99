package invocation

import "sync/atomic"

// forceStop is the process-wide force-stop signal of spec §5: a
// cancellation flag checked at phase boundaries, not mid-syscall.
// cmd/run.go flips it from a signal.NotifyContext handler; every
// Execution in the process observes it.
var forceStop atomic.Bool

// RequestForceStop flips the process-wide force-stop flag. Idempotent.
func RequestForceStop() {
	forceStop.Store(true)
}

// ForceStopRequested reports whether RequestForceStop has been called
// since the last ResetForceStop. The engine checks it at phase
// boundaries.
func ForceStopRequested() bool {
	return forceStop.Load()
}

// ResetForceStop clears the flag; used by tests and by a long-lived
// process (e.g. a suite runner) between independent invocations.
func ResetForceStop() {
	forceStop.Store(false)
}
