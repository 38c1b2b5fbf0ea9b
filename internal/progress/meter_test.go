package progress

import (
	"testing"
	"time"
)

func TestMeterRateAndPercent(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(1000)

	now = now.Add(time.Second)
	m.Add(100)

	s := m.Snapshot()
	if s.BytesDone != 100 || s.Total != 1000 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if s.RateBps != 100 {
		t.Fatalf("rate %v, want 100", s.RateBps)
	}
	if s.Percent != 10 {
		t.Fatalf("percent %v, want 10", s.Percent)
	}
	if s.ETA != 9*time.Second {
		t.Fatalf("eta %v, want 9s", s.ETA)
	}
}

func TestMeterSmoothing(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(1 << 30)

	now = now.Add(time.Second)
	m.Add(100)
	now = now.Add(time.Second)
	m.Add(300)

	s := m.Snapshot()
	// 0.2*300 + 0.8*100 = 140
	if s.RateBps != 140 {
		t.Fatalf("smoothed rate %v, want 140", s.RateBps)
	}
}

func TestMeterSkipDoesNotAffectRate(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(1000)
	m.Skip(500)

	s := m.Snapshot()
	if s.BytesDone != 500 || s.RateBps != 0 {
		t.Fatalf("unexpected snapshot after skip: %+v", s)
	}
}

func TestFormatting(t *testing.T) {
	if got := FormatSize(512); got != "512 B" {
		t.Fatalf("FormatSize: %q", got)
	}
	if got := FormatSize(1536); got != "1.5 KB" {
		t.Fatalf("FormatSize: %q", got)
	}
	if got := FormatSpeed(2 << 20); got != "2.0 MB/s" {
		t.Fatalf("FormatSpeed: %q", got)
	}
	if got := FormatETA(75 * time.Second); got != "01:15" {
		t.Fatalf("FormatETA: %q", got)
	}
	if got := FormatETA(3725 * time.Second); got != "01:02:05" {
		t.Fatalf("FormatETA: %q", got)
	}
	if got := FormatETA(0); got != "00:00" {
		t.Fatalf("FormatETA: %q", got)
	}
}
