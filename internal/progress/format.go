package progress

import (
	"fmt"
	"time"
)

// FormatSize renders a byte count for humans.
func FormatSize(n int64) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	case n < 1<<30:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	}
}

// FormatSpeed renders a byte rate for humans.
func FormatSpeed(bps float64) string {
	switch {
	case bps < 1<<10:
		return fmt.Sprintf("%.1f B/s", bps)
	case bps < 1<<20:
		return fmt.Sprintf("%.1f KB/s", bps/(1<<10))
	case bps < 1<<30:
		return fmt.Sprintf("%.1f MB/s", bps/(1<<20))
	default:
		return fmt.Sprintf("%.1f GB/s", bps/(1<<30))
	}
}

// FormatETA renders a duration as MM:SS, or HH:MM:SS past an hour.
func FormatETA(d time.Duration) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		return "00:00"
	}
	if secs < 3600 {
		return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
