package conversion

import (
	"regexp"
	"strings"
)

// Bitrate corrections, applied in order. Each is case-insensitive.
var bitrateFixes = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)([0-9]+)Mk$`), "${1}M"},
	{regexp.MustCompile(`(?i)([0-9]+)kk$`), "${1}k"},
	{regexp.MustCompile(`(?i)([0-9]+)m$`), "${1}M"},
	{regexp.MustCompile(`(?i)([0-9]+)k$`), "${1}k"},
}

var validBitrate = regexp.MustCompile(`^[0-9]+(k|M)$`)

// NormalizeBitrate repairs common bitrate typos ("2Mk", "2000kk", "5m") and
// returns fallback when the result is still not of the form <digits>(k|M).
func NormalizeBitrate(bitrate, fallback string) string {
	normalized := strings.TrimSpace(bitrate)
	for _, fix := range bitrateFixes {
		normalized = fix.re.ReplaceAllString(normalized, fix.repl)
	}
	if !validBitrate.MatchString(normalized) {
		return fallback
	}
	return normalized
}
