package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatSize renders a byte count ("1.5 MB"). Unknown sizes print as "?".
func FormatSize(n int64) string {
	if n <= 0 {
		return "?"
	}
	return humanize.Bytes(uint64(n))
}

// FormatSpeed renders throughput for bytes moved over d ("2.1 MB/s").
func FormatSpeed(n int64, d time.Duration) string {
	if n <= 0 || d <= 0 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(float64(n)/d.Seconds())) + "/s"
}
