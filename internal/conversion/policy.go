package conversion

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jmylchreest/convertarr/internal/ffmpeg"
	"github.com/jmylchreest/convertarr/internal/models"
)

// Fallbacks used when a requested bitrate cannot be repaired.
const (
	DefaultVideoBitrate = "1000k"
	DefaultAudioBitrate = "192k"
)

// icoScale keeps icons within the 256px limit of the format.
const icoScale = "scale='min(256,iw)':'min(256,ih)':force_original_aspect_ratio=decrease"

// Container describes how one output extension is produced.
type Container struct {
	// Format is the muxer name passed to -f.
	Format     string
	VideoCodec string
	AudioCodec string
	// AllowedVideo/AllowedAudio restrict codecs; anything else is replaced
	// with the container default. Empty means unrestricted.
	AllowedVideo []string
	AllowedAudio []string
	AudioOnly    bool
	// Filters are appended after any requested filters.
	Filters []string
}

var containers = map[string]Container{
	"mp4":  {Format: "mp4", VideoCodec: "libx264", AudioCodec: "aac"},
	"m4v":  {Format: "mp4", VideoCodec: "libx264", AudioCodec: "aac"},
	"mkv":  {Format: "matroska", VideoCodec: "libx264", AudioCodec: "aac"},
	"avi":  {Format: "avi", VideoCodec: "libx264", AudioCodec: "aac"},
	"mov":  {Format: "mov", VideoCodec: "libx264"},
	"flv":  {Format: "flv", VideoCodec: "flv1"},
	"wmv":  {Format: "asf", VideoCodec: "wmv2"},
	"webm": {
		Format:       "webm",
		VideoCodec:   "libvpx-vp9",
		AudioCodec:   "libopus",
		AllowedVideo: []string{"libvpx", "libvpx-vp9", "libaom-av1"},
		AllowedAudio: []string{"libvorbis", "libopus"},
	},

	"mp3":  {Format: "mp3", AudioCodec: "libmp3lame", AudioOnly: true},
	"aac":  {Format: "adts", AudioOnly: true},
	"opus": {Format: "opus", AudioCodec: "libopus", AudioOnly: true},
	"wav":  {Format: "wav", AudioCodec: "pcm_s16le", AudioOnly: true},
	"flac": {Format: "flac", AudioCodec: "flac", AudioOnly: true},
	"ogg":  {Format: "ogg", AudioCodec: "libvorbis", AudioOnly: true},
	"m4a":  {Format: "ipod", AudioCodec: "aac", AudioOnly: true},

	"gif":  {Format: "gif"},
	"apng": {Format: "apng"},
	"webp": {Format: "webp"},
	"ico":  {Format: "ico", Filters: []string{icoScale}},
}

// filenameHints maps a secondary extension ("<id>.av1.mp4") to a video encoder.
var filenameHints = map[string]string{
	"av1":  "libaom-av1",
	"h264": "libx264",
	"h265": "libx265",
	"h266": "libx266",
}

// codecAliases maps common codec names to the encoder ffmpeg expects.
var codecAliases = map[string]string{
	"h264":   "libx264",
	"avc":    "libx264",
	"h265":   "libx265",
	"hevc":   "libx265",
	"vp8":    "libvpx",
	"vp9":    "libvpx-vp9",
	"av1":    "libaom-av1",
	"opus":   "libopus",
	"vorbis": "libvorbis",
	"mp3":    "libmp3lame",
}

// vp9Speed are always applied with libvpx-vp9; its defaults are very slow.
var vp9Speed = []string{"-speed", "2", "-tile-columns", "2", "-threads", "4", "-row-mt", "1"}

var formatPattern = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)*$`)

// LookupContainer returns the policy for a container extension.
func LookupContainer(ext string) (Container, bool) {
	c, ok := containers[strings.ToLower(ext)]
	return c, ok
}

// SupportedContainers returns the known container extensions, sorted.
func SupportedContainers() []string {
	exts := make([]string, 0, len(containers))
	for ext := range containers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// IsAudioOnly reports whether ext is an audio-only container.
func IsAudioOnly(ext string) bool {
	c, ok := LookupContainer(ext)
	return ok && c.AudioOnly
}

// ContainerOf strips a composite "codec.container" format down to the container.
func ContainerOf(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if i := strings.LastIndex(format, "."); i >= 0 {
		return format[i+1:]
	}
	return format
}

// NormalizeCodec resolves an alias to its encoder name. Unknown names pass
// through unchanged.
func NormalizeCodec(codec string) string {
	codec = strings.TrimSpace(codec)
	if alias, ok := codecAliases[strings.ToLower(codec)]; ok {
		return alias
	}
	return codec
}

// Plan is the resolved engine configuration for one conversion.
type Plan struct {
	Container    string
	Format       string
	DisableVideo bool
	VideoCodec   string
	AudioCodec   string
	VideoBitrate string
	AudioBitrate string
	Preset       string
	Tune         string
	PixelFormat  string
	SampleRate   int
	Channels     int
	FrameRate    string
	Filters      []string
	StartTime    *float64
	Duration     *float64
	CRF          *int
}

// Resolve derives a Plan from the requested format, the output filename and
// the caller's options.
//
// Video codec precedence is: filename hint, explicit option, container
// default. Container restrictions (webm) are applied last.
func Resolve(format, outputFilename string, opts models.ConversionOptions) (*Plan, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if !formatPattern.MatchString(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	ext := ContainerOf(format)
	c, known := containers[ext]

	video := NormalizeCodec(opts.VideoCodec)
	audio := NormalizeCodec(opts.AudioCodec)
	if hinted, ok := codecHint(outputFilename); ok {
		video = hinted
	} else if hinted, ok := codecHint("_." + format); ok {
		video = hinted
	}

	if !known {
		if video == "" && audio == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
		c = Container{Format: ext}
	}

	if video == "" || (len(c.AllowedVideo) > 0 && !slices.Contains(c.AllowedVideo, video)) {
		video = c.VideoCodec
	}
	if audio == "" || (len(c.AllowedAudio) > 0 && !slices.Contains(c.AllowedAudio, audio)) {
		audio = c.AudioCodec
	}

	plan := &Plan{
		Container:  ext,
		Format:     c.Format,
		VideoCodec: video,
		AudioCodec: audio,
		StartTime:  opts.StartTime,
		Duration:   opts.Duration,
		SampleRate: opts.SampleRate,
		Channels:   opts.Channels,
	}

	if opts.AudioBitrate != "" {
		plan.AudioBitrate = NormalizeBitrate(opts.AudioBitrate, DefaultAudioBitrate)
	}

	if c.AudioOnly {
		plan.DisableVideo = true
		plan.VideoCodec = ""
		return plan, nil
	}

	if opts.VideoBitrate != "" {
		plan.VideoBitrate = NormalizeBitrate(opts.VideoBitrate, DefaultVideoBitrate)
	}
	plan.PixelFormat = opts.PixelFormat
	plan.FrameRate = strings.TrimSpace(opts.FPS)

	if plan.usesX26x() {
		plan.Preset = opts.Preset
		plan.Tune = opts.Tune
		plan.CRF = opts.Quality
	}

	if opts.Width > 0 || opts.Height > 0 {
		plan.Filters = append(plan.Filters, scaleFilter(opts.Width, opts.Height))
	}
	plan.Filters = append(plan.Filters, rotationFilters(opts.Rotation)...)
	plan.Filters = append(plan.Filters, c.Filters...)

	return plan, nil
}

// codecHint reads the secondary extension of "<id>.<hint>.<ext>".
func codecHint(filename string) (string, bool) {
	if filename == "" {
		return "", false
	}
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return "", false
	}
	codec, ok := filenameHints[strings.ToLower(base[i+1:])]
	return codec, ok
}

func scaleFilter(width, height int) string {
	w, h := "-1", "-1"
	if width > 0 {
		w = strconv.Itoa(width)
	}
	if height > 0 {
		h = strconv.Itoa(height)
	}
	return "scale=" + w + ":" + h
}

// rotationFilters maps clockwise degrees to transpose filters.
func rotationFilters(degrees int) []string {
	switch degrees {
	case 90:
		return []string{"transpose=1"}
	case 180:
		return []string{"transpose=2", "transpose=2"}
	case 270:
		return []string{"transpose=2"}
	default:
		return nil
	}
}

func (p *Plan) usesX26x() bool {
	return p.VideoCodec == "libx264" || p.VideoCodec == "libx265"
}

// AdaptToSource drops video when the source has no video stream to encode.
func (p *Plan) AdaptToSource(meta *ffmpeg.SourceMetadata) {
	if meta == nil || meta.HasVideo() || p.DisableVideo {
		return
	}
	p.DisableVideo = true
	p.VideoCodec = ""
	p.VideoBitrate = ""
	p.Preset = ""
	p.Tune = ""
	p.CRF = nil
	p.PixelFormat = ""
	p.FrameRate = ""
	p.Filters = nil
}

// EngineArgs are extra arguments configured for every invocation.
type EngineArgs struct {
	LogLevel   string
	InputArgs  []string
	OutputArgs []string
}

// Args renders the plan as an ffmpeg argument vector.
func (p *Plan) Args(input, output string, extra EngineArgs) []string {
	b := ffmpeg.NewCommandBuilder().
		HideBanner().
		NoStdin().
		Stats().
		Overwrite().
		LogLevel(extra.LogLevel).
		InputArgs(extra.InputArgs...).
		Input(input)

	if p.DisableVideo {
		b.DisableVideo()
	} else if p.VideoCodec != "" {
		b.VideoCodec(p.VideoCodec)
		if p.VideoCodec == "libvpx-vp9" {
			b.OutputArgs(vp9Speed...)
		}
	}

	b.AudioCodec(p.AudioCodec).
		VideoBitrate(p.VideoBitrate).
		AudioBitrate(p.AudioBitrate).
		Preset(p.Preset).
		Tune(p.Tune).
		PixelFormat(p.PixelFormat).
		SampleRate(p.SampleRate).
		AudioChannels(p.Channels).
		FrameRate(p.FrameRate).
		VideoFilters(p.Filters...)

	if p.StartTime != nil {
		b.Seek(*p.StartTime)
	}
	if p.Duration != nil {
		b.Limit(*p.Duration)
	}
	if p.CRF != nil {
		b.CRF(*p.CRF)
	}

	return b.Format(p.Format).
		OutputArgs(extra.OutputArgs...).
		Output(output).
		Build()
}
