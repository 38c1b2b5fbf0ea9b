package resource

import (
	"runtime"
	"testing"
)

func TestSnapshot(t *testing.T) {
	u, ok := Snapshot()
	if !ok {
		if runtime.GOOS == "linux" {
			t.Fatal("snapshot unavailable on linux")
		}
		t.Skip("descriptor accounting unavailable on this platform")
	}
	if u.Open <= 0 {
		t.Fatalf("open fd count %d", u.Open)
	}
	if u.Limit == 0 {
		t.Fatalf("limit %d", u.Limit)
	}
}

func TestCheckHeadroom(t *testing.T) {
	if _, ok := Snapshot(); !ok {
		t.Skip("descriptor accounting unavailable on this platform")
	}
	if _, pressure := CheckHeadroom(0); pressure {
		t.Fatal("test process should not be near its fd limit")
	}
	if _, pressure := CheckHeadroom(1 << 30); !pressure {
		t.Fatal("absurd incoming count should trip the check")
	}
}
