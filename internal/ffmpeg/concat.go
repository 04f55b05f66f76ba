package ffmpeg

import "strings"

// ConcatList renders paths as a concat demuxer script, one file directive per
// line. Single quotes in a path are closed, escaped and reopened.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
