package ffmpeg

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"regexp"
	"strconv"
)

// timeRe matches the elapsed output position in an ffmpeg stats line,
// e.g. "frame=  240 fps= 60 ... time=00:01:30.04 bitrate=...".
var timeRe = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ScanProgressLines splits on '\r' as well as '\n'; ffmpeg rewrites its stats
// line in place with carriage returns.
func ScanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// newProgressScanner wraps r with ScanProgressLines and a buffer large enough
// for verbose encoder output.
func newProgressScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(ScanProgressLines)
	return scanner
}

// ParseTime extracts the "time=HH:MM:SS.ss" position from line in seconds.
func ParseTime(line string) (float64, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}

// Percent converts an output position into a rounded percentage of total,
// clamped to [0, 100]. An unknown total yields 0.
func Percent(elapsed, total float64) int {
	if total <= 0 || elapsed <= 0 {
		return 0
	}
	p := int(math.Round(elapsed / total * 100))
	return max(0, min(p, 100))
}

// progressTracker turns stats lines into strictly increasing percentages.
type progressTracker struct {
	total float64
	last  int
}

// observe returns the new percentage and true when line advances progress.
func (t *progressTracker) observe(line string) (int, bool) {
	elapsed, ok := ParseTime(line)
	if !ok {
		return 0, false
	}
	p := Percent(elapsed, t.total)
	if p <= t.last {
		return 0, false
	}
	t.last = p
	return p, true
}
