package ffmpeg

import (
	"strconv"
	"strings"
)

// CommandBuilder assembles an ffmpeg argument vector. Output options are
// emitted in the order they are added.
type CommandBuilder struct {
	logLevel   string
	globalArgs []string
	overwrite  bool
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
}

// NewCommandBuilder creates a builder with ffmpeg's default log level.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{logLevel: "info"}
}

// LogLevel sets the log level. Progress lines are printed at "info" and above
// only with -stats, which Stats adds.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// HideBanner suppresses the build banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops ffmpeg from reading interactive commands from stdin.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Stats forces the periodic "time=" progress line regardless of log level.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// Overwrite enables overwriting the output file.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// InputArgs adds arguments placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// InputFormat forces the demuxer for the input, e.g. "concat".
func (b *CommandBuilder) InputFormat(format string) *CommandBuilder {
	if format == "" {
		return b
	}
	return b.InputArgs("-f", format)
}

// SeekInput seeks the input to seconds before decoding starts.
func (b *CommandBuilder) SeekInput(seconds float64) *CommandBuilder {
	return b.InputArgs("-ss", formatSeconds(seconds))
}

// Input sets the input path.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// DisableVideo drops all video streams.
func (b *CommandBuilder) DisableVideo() *CommandBuilder {
	return b.OutputArgs("-vn")
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	return b.optional("-c:v", codec)
}

// AudioCodec sets the audio encoder.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	return b.optional("-c:a", codec)
}

// VideoBitrate sets the video bitrate, e.g. "2M".
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	return b.optional("-b:v", bitrate)
}

// AudioBitrate sets the audio bitrate, e.g. "192k".
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	return b.optional("-b:a", bitrate)
}

// Preset sets the encoder preset.
func (b *CommandBuilder) Preset(preset string) *CommandBuilder {
	return b.optional("-preset", preset)
}

// Tune sets the encoder tuning.
func (b *CommandBuilder) Tune(tune string) *CommandBuilder {
	return b.optional("-tune", tune)
}

// PixelFormat sets the output pixel format.
func (b *CommandBuilder) PixelFormat(format string) *CommandBuilder {
	return b.optional("-pix_fmt", format)
}

// SampleRate sets the audio sample rate in Hz.
func (b *CommandBuilder) SampleRate(hz int) *CommandBuilder {
	if hz <= 0 {
		return b
	}
	return b.OutputArgs("-ar", strconv.Itoa(hz))
}

// AudioChannels sets the audio channel count.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	if channels <= 0 {
		return b
	}
	return b.OutputArgs("-ac", strconv.Itoa(channels))
}

// FrameRate sets the output frame rate, e.g. "30" or "30000/1001".
func (b *CommandBuilder) FrameRate(fps string) *CommandBuilder {
	return b.optional("-r", fps)
}

// VideoFilters sets a comma-joined -vf chain.
func (b *CommandBuilder) VideoFilters(filters ...string) *CommandBuilder {
	if len(filters) == 0 {
		return b
	}
	return b.OutputArgs("-vf", strings.Join(filters, ","))
}

// Seek sets the output start offset in seconds.
func (b *CommandBuilder) Seek(seconds float64) *CommandBuilder {
	return b.OutputArgs("-ss", formatSeconds(seconds))
}

// Limit caps the output duration in seconds.
func (b *CommandBuilder) Limit(seconds float64) *CommandBuilder {
	return b.OutputArgs("-t", formatSeconds(seconds))
}

// Frames stops after n video frames.
func (b *CommandBuilder) Frames(n int) *CommandBuilder {
	if n <= 0 {
		return b
	}
	return b.OutputArgs("-frames:v", strconv.Itoa(n))
}

// CopyStreams remuxes every stream without re-encoding.
func (b *CommandBuilder) CopyStreams() *CommandBuilder {
	return b.OutputArgs("-c", "copy")
}

// CRF sets the constant rate factor.
func (b *CommandBuilder) CRF(crf int) *CommandBuilder {
	return b.OutputArgs("-crf", strconv.Itoa(crf))
}

// Format sets the output muxer.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	return b.optional("-f", format)
}

// OutputArgs adds arguments placed after -i and before the output path.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output path.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

func (b *CommandBuilder) optional(flag, value string) *CommandBuilder {
	if value == "" {
		return b
	}
	return b.OutputArgs(flag, value)
}

// Build returns the argument vector (without the binary).
func (b *CommandBuilder) Build() []string {
	args := make([]string, 0, 8+len(b.globalArgs)+len(b.inputArgs)+len(b.outputArgs))

	args = append(args, b.globalArgs...)
	args = append(args, "-loglevel", b.logLevel)
	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return args
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

// ParseOptions splits a user-supplied option string into arguments, honouring
// single/double quotes and backslash escapes.
//
//	-metadata title="My Movie" -movflags +faststart
func ParseOptions(s string) []string {
	var (
		result    []string
		current   strings.Builder
		inQuote   bool
		quoteChar rune
		escaped   bool
		hasToken  bool
	)

	flush := func() {
		if hasToken {
			result = append(result, current.String())
			current.Reset()
			hasToken = false
		}
	}

	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			hasToken = true
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
			default:
				current.WriteRune(r)
			}
			hasToken = true
		case (r == ' ' || r == '\t' || r == '\n' || r == '\r') && !inQuote:
			flush()
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}
	flush()

	return result
}
