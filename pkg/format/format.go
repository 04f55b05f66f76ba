// Package format provides human-readable formatting for CLI output.
package format

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Bytes formats a byte count into human-readable format.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}

	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp])
}

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Bitrate formats bits per second.
// Example: Bitrate(1500000) => "1.5 Mb/s"
func Bitrate(bps int64) string {
	switch {
	case bps <= 0:
		return "-"
	case bps >= 1_000_000:
		return fmt.Sprintf("%.1f Mb/s", float64(bps)/1_000_000)
	case bps >= 1_000:
		return fmt.Sprintf("%d kb/s", bps/1_000)
	default:
		return fmt.Sprintf("%d b/s", bps)
	}
}

// MediaDuration formats seconds as a media timestamp.
// Example: MediaDuration(3725.5) => "01:02:05.50"
func MediaDuration(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "00:00:00.00"
	}
	cs := int64(math.Round(seconds * 100))
	h := cs / 360000
	m := (cs / 6000) % 60
	s := (cs / 100) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%02d", h, m, s, cs%100)
}

// Percentage formats a percentage value.
// Example: Percentage(45.678, 1) => "45.7%"
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// ProgressBar renders percent as a fixed-width bar.
// Example: ProgressBar(50, 10) => "[=====     ]"
func ProgressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	bar := make([]byte, width)
	for i := range bar {
		if i < filled {
			bar[i] = '='
		} else {
			bar[i] = ' '
		}
	}
	return "[" + string(bar) + "]"
}

// RelativeTimeShort formats a time as a short relative duration.
// Example: RelativeTimeShort(time.Now().Add(-5*time.Minute)) => "5m ago"
func RelativeTimeShort(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < 0:
		return "soon"
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
