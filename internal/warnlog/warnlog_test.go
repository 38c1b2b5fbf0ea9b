package warnlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWarnfAppends(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewWithNow(dir, func() time.Time { return at })

	l.Warnf("first %s", "event")
	l.Warnf("second event")

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "[2025-03-01T12:00:00Z] first event" {
		t.Fatalf("unexpected line: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "second event") {
		t.Fatalf("unexpected line: %q", lines[1])
	}
}

func TestWarnfNeverFails(t *testing.T) {
	// Point the sink at a path that cannot be created.
	l := NewWithNow(filepath.Join(t.TempDir(), "missing", "nested"), nil)
	l.Warnf("dropped on the floor")

	var nilLog *Log
	nilLog.Warnf("also fine")
}
