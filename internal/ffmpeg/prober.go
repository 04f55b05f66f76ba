package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrProbe is returned when ffprobe cannot be run or its report cannot be parsed.
var ErrProbe = errors.New("ffprobe failed")

// ProbeResult contains the ffprobe JSON report.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"` // video, audio, subtitle, data
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	PixFmt     string `json:"pix_fmt,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	RFrameRate string `json:"r_frame_rate,omitempty"`
	Duration   string `json:"duration,omitempty"`
	BitRate    string `json:"bit_rate,omitempty"`
}

// VideoStream describes the primary video track of a source.
type VideoStream struct {
	Index   int     `json:"index"`
	Codec   string  `json:"codec"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
	BitRate int64   `json:"bit_rate"`
	PixFmt  string  `json:"pix_fmt,omitempty"`
}

// AudioStream describes the primary audio track of a source.
type AudioStream struct {
	Index      int    `json:"index"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitRate    int64  `json:"bit_rate"`
}

// SourceMetadata is a snapshot of the facts needed to plan one conversion.
type SourceMetadata struct {
	Duration   float64      `json:"duration"` // seconds
	FormatName string       `json:"format_name"`
	Size       int64        `json:"size"`
	BitRate    int64        `json:"bit_rate"`
	Video      *VideoStream `json:"video,omitempty"`
	Audio      *AudioStream `json:"audio,omitempty"`
}

// HasVideo reports whether the source has a video stream.
func (m *SourceMetadata) HasVideo() bool {
	return m.Video != nil
}

// HasAudio reports whether the source has an audio stream.
func (m *SourceMetadata) HasAudio() bool {
	return m.Audio != nil
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe runs ffprobe against a local file and returns the raw report.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout after %v", ErrProbe, p.timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrProbe, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("%w: parsing output: %w", ErrProbe, err)
	}

	return &result, nil
}

// ProbeMetadata probes a file and reduces the report to SourceMetadata.
func (p *Prober) ProbeMetadata(ctx context.Context, path string) (*SourceMetadata, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.Metadata(), nil
}

// Metadata selects the first video and first audio stream as primary tracks.
// Numeric fields that are missing or malformed are left at zero.
func (r *ProbeResult) Metadata() *SourceMetadata {
	meta := &SourceMetadata{
		Duration:   parseFloat(r.Format.Duration),
		FormatName: r.Format.FormatName,
		Size:       parseInt(r.Format.Size),
		BitRate:    parseInt(r.Format.BitRate),
	}

	for _, stream := range r.Streams {
		switch stream.CodecType {
		case "video":
			if meta.Video != nil {
				continue
			}
			meta.Video = &VideoStream{
				Index:   stream.Index,
				Codec:   stream.CodecName,
				Width:   stream.Width,
				Height:  stream.Height,
				FPS:     parseFramerate(stream.RFrameRate),
				BitRate: parseInt(stream.BitRate),
				PixFmt:  stream.PixFmt,
			}
		case "audio":
			if meta.Audio != nil {
				continue
			}
			meta.Audio = &AudioStream{
				Index:      stream.Index,
				Codec:      stream.CodecName,
				SampleRate: int(parseInt(stream.SampleRate)),
				Channels:   stream.Channels,
				BitRate:    parseInt(stream.BitRate),
			}
		}
	}

	return meta
}

// parseFramerate parses "num/den". A zero denominator yields the numerator.
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	num, den, ok := strings.Cut(fr, "/")
	if !ok {
		return parseFloat(fr)
	}

	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return n
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return int64(parseFloat(s))
	}
	return n
}
