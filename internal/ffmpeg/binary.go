// Package ffmpeg drives the external ffmpeg and ffprobe binaries: binary
// detection, command construction, source probing, and process supervision.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	FFprobePath  string   `json:"ffprobe_path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether the installed ffmpeg lists the named encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// BinaryDetector locates ffmpeg/ffprobe and caches what it learns about them.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths are searched for.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// Paths resolves the ffmpeg and ffprobe binaries without running them.
func (d *BinaryDetector) Paths() (ffmpegPath, ffprobePath string, err error) {
	ffmpegPath, err = resolveBinary(d.ffmpegPath, "ffmpeg")
	if err != nil {
		return "", "", err
	}
	ffprobePath, err = resolveBinary(d.ffprobePath, "ffprobe")
	if err != nil {
		return "", "", err
	}
	return ffmpegPath, ffprobePath, nil
}

// Detect resolves both binaries and queries ffmpeg's version and encoders.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	ffmpegPath, ffprobePath, err := d.Paths()
	if err != nil {
		return nil, err
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	if err := parseVersion(string(out), info); err != nil {
		return nil, err
	}

	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads the "ffmpeg version X" banner line.
func parseVersion(output string, info *BinaryInfo) error {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		info.Version = parts[2]
		if m := versionRegex.FindStringSubmatch(parts[2]); len(m) == 3 {
			info.MajorVersion, _ = strconv.Atoi(m[1])
			info.MinorVersion, _ = strconv.Atoi(m[2])
		}
		return nil
	}
	return fmt.Errorf("failed to parse ffmpeg version")
}

// parseEncoders reads `ffmpeg -encoders` output:
//
//	V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
func parseEncoders(output string) []string {
	var encoders []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		line = strings.TrimLeft(line, " ")
		if !inList || len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		if fields := strings.Fields(line[6:]); len(fields) > 0 {
			encoders = append(encoders, fields[0])
		}
	}
	return encoders
}

// resolveBinary returns configured if set, else searches ./name then PATH.
func resolveBinary(configured, name string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		if path, err := exec.LookPath(configured); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%s binary %q is not executable", name, configured)
	}

	if local := "./" + name; isExecutable(local) {
		return local, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

// isExecutable checks if a file exists and has any executable bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
