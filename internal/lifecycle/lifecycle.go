// Package lifecycle tracks whether the process is draining before exit.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// drainStart holds the drain start in unix nanoseconds, zero while serving.
var drainStart atomic.Int64

// BeginDrain marks the process as draining. Only the first call records the
// start time.
func BeginDrain() {
	drainStart.CompareAndSwap(0, time.Now().UnixNano())
}

// Draining reports whether BeginDrain has been called. The health check
// answers 503 shutting-down while true.
func Draining() bool {
	return drainStart.Load() != 0
}

// DrainDuration returns the time since BeginDrain, or zero while serving.
func DrainDuration() time.Duration {
	start := drainStart.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// Reset returns to the serving state.
func Reset() {
	drainStart.Store(0)
}
