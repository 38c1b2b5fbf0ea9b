// Package warnlog appends non-fatal transfer events to a local log file.
// It is a deliberate sink: failures to write are swallowed so that logging
// can never disrupt a transfer in flight.
package warnlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const FileName = "transfer_warnings.log"

// Log is an append-only warning sink. The zero value is not usable; use New.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New returns a sink writing to dir/transfer_warnings.log.
func New(dir string) *Log {
	return &Log{path: filepath.Join(dir, FileName), now: time.Now}
}

// NewWithNow returns a sink with a custom time source (for tests).
func NewWithNow(dir string, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{path: filepath.Join(dir, FileName), now: now}
}

// Warnf appends a formatted warning line. Errors are ignored.
func (l *Log) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	stamp := l.now().Format(time.RFC3339)
	fmt.Fprintf(f, "[%s] %s\n", stamp, fmt.Sprintf(format, args...))
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}
