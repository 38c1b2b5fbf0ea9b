// Package resource provides best-effort, advisory file-descriptor
// accounting. Everything here may fail silently; callers only ever get a
// warning out of it, never an error.
package resource

import (
	"os"
)

// Usage is a snapshot of descriptor pressure.
type Usage struct {
	Open  int
	Limit uint64
}

// Snapshot returns current descriptor usage, or ok=false when the platform
// offers no way to measure it.
func Snapshot() (Usage, bool) {
	limit, ok := fdLimit()
	if !ok {
		return Usage{}, false
	}
	open, ok := openFDs()
	if !ok {
		return Usage{}, false
	}
	return Usage{Open: open, Limit: limit}, true
}

// CheckHeadroom reports whether opening incoming more descriptors would
// push usage past 80% of the soft limit. Returns pressure=false whenever
// the measurement is unavailable.
func CheckHeadroom(incoming int) (Usage, bool) {
	u, ok := Snapshot()
	if !ok {
		return Usage{}, false
	}
	return u, uint64(u.Open+incoming) > u.Limit*8/10
}

// openFDs counts entries in /proc/self/fd. Linux only; other platforms
// report not-ok and the check is skipped.
func openFDs() (int, bool) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0, false
	}
	return len(entries), true
}
