package conversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/convertarr/internal/ffmpeg"
	"github.com/jmylchreest/convertarr/internal/models"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestResolve_AudioOnlyContainers(t *testing.T) {
	audioOnly := map[string]bool{"mp3": true, "aac": true, "opus": true, "wav": true, "flac": true, "ogg": true, "m4a": true}

	for _, ext := range SupportedContainers() {
		t.Run(ext, func(t *testing.T) {
			plan, err := Resolve(ext, "id."+ext, models.ConversionOptions{VideoCodec: "libx264"})
			require.NoError(t, err)

			assert.Equal(t, audioOnly[ext], plan.DisableVideo)
			assert.Equal(t, audioOnly[ext], IsAudioOnly(ext))
			if plan.DisableVideo {
				assert.Empty(t, plan.VideoCodec)
				assert.Contains(t, plan.Args("in", "out", EngineArgs{}), "-vn")
			} else {
				assert.NotEmpty(t, plan.VideoCodec)
				assert.NotContains(t, plan.Args("in", "out", EngineArgs{}), "-vn")
			}
		})
	}
}

func TestResolve_FormatMapping(t *testing.T) {
	tests := map[string]string{
		"mkv":  "matroska",
		"m4a":  "ipod",
		"wmv":  "asf",
		"aac":  "adts",
		"m4v":  "mp4",
		"MP4":  "mp4",
		"webm": "webm",
	}
	for ext, format := range tests {
		t.Run(ext, func(t *testing.T) {
			plan, err := Resolve(ext, "", models.ConversionOptions{})
			require.NoError(t, err)
			assert.Equal(t, format, plan.Format)
		})
	}
}

func TestResolve_Defaults(t *testing.T) {
	tests := []struct {
		ext   string
		video string
		audio string
	}{
		{"mp4", "libx264", "aac"},
		{"mkv", "libx264", "aac"},
		{"mov", "libx264", ""},
		{"flv", "flv1", ""},
		{"wmv", "wmv2", ""},
		{"mp3", "", "libmp3lame"},
		{"ogg", "", "libvorbis"},
		{"opus", "", "libopus"},
		{"flac", "", "flac"},
		{"wav", "", "pcm_s16le"},
		{"m4a", "", "aac"},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			plan, err := Resolve(tt.ext, "", models.ConversionOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.video, plan.VideoCodec)
			assert.Equal(t, tt.audio, plan.AudioCodec)
		})
	}
}

func TestResolve_CompositeFormat(t *testing.T) {
	opts := models.ConversionOptions{VideoCodec: "libx265"}

	plan, err := Resolve("av1.mp4", "0b4f.av1.mp4", opts)
	require.NoError(t, err)
	assert.Equal(t, "mp4", plan.Container)
	assert.Equal(t, "mp4", plan.Format)
	assert.Equal(t, "libaom-av1", plan.VideoCodec)

	// Without a filename the composite format itself carries the hint.
	plan, err = Resolve("av1.mp4", "", opts)
	require.NoError(t, err)
	assert.Equal(t, "libaom-av1", plan.VideoCodec)

	plan, err = Resolve("mp4", "abc.h265.mp4", models.ConversionOptions{VideoCodec: "vp9"})
	require.NoError(t, err)
	assert.Equal(t, "libx265", plan.VideoCodec)

	plan, err = Resolve("mp4", "abc.final.mp4", models.ConversionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "libx264", plan.VideoCodec)
}

func TestResolve_WebmConstraints(t *testing.T) {
	plan, err := Resolve("webm", "", models.ConversionOptions{VideoCodec: "libx264", AudioCodec: "aac"})
	require.NoError(t, err)
	assert.Equal(t, "libvpx-vp9", plan.VideoCodec)
	assert.Equal(t, "libopus", plan.AudioCodec)

	plan, err = Resolve("h264.webm", "x.h264.webm", models.ConversionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "libvpx-vp9", plan.VideoCodec)

	plan, err = Resolve("webm", "", models.ConversionOptions{VideoCodec: "vp8", AudioCodec: "vorbis"})
	require.NoError(t, err)
	assert.Equal(t, "libvpx", plan.VideoCodec)
	assert.Equal(t, "libvorbis", plan.AudioCodec)

	plan, err = Resolve("av1.webm", "", models.ConversionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "libaom-av1", plan.VideoCodec)
}

func TestResolve_Rotation(t *testing.T) {
	tests := []struct {
		degrees int
		want    []string
	}{
		{90, []string{"transpose=1"}},
		{270, []string{"transpose=2"}},
		{180, []string{"transpose=2", "transpose=2"}},
		{45, nil},
		{-90, nil},
		{360, nil},
	}
	for _, tt := range tests {
		plan, err := Resolve("mp4", "", models.ConversionOptions{Rotation: tt.degrees})
		require.NoError(t, err)
		assert.Equal(t, tt.want, plan.Filters, "rotation %d", tt.degrees)
	}
}

func TestResolve_Filters(t *testing.T) {
	plan, err := Resolve("mp4", "", models.ConversionOptions{Width: 1280, Rotation: 90})
	require.NoError(t, err)
	assert.Equal(t, []string{"scale=1280:-1", "transpose=1"}, plan.Filters)

	plan, err = Resolve("mp4", "", models.ConversionOptions{Height: 720})
	require.NoError(t, err)
	assert.Equal(t, []string{"scale=-1:720"}, plan.Filters)

	plan, err = Resolve("ico", "", models.ConversionOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{icoScale}, plan.Filters)

	plan, err = Resolve("mp3", "", models.ConversionOptions{Width: 100, Rotation: 90})
	require.NoError(t, err)
	assert.Empty(t, plan.Filters)
}

func TestResolve_TuningOnlyForX26x(t *testing.T) {
	opts := models.ConversionOptions{Preset: "fast", Tune: "film", Quality: intPtr(23)}

	plan, err := Resolve("mp4", "", opts)
	require.NoError(t, err)
	assert.Equal(t, "fast", plan.Preset)
	assert.Equal(t, "film", plan.Tune)
	require.NotNil(t, plan.CRF)
	assert.Equal(t, 23, *plan.CRF)

	plan, err = Resolve("webm", "", opts)
	require.NoError(t, err)
	assert.Empty(t, plan.Preset)
	assert.Empty(t, plan.Tune)
	assert.Nil(t, plan.CRF)
}

func TestResolve_Unsupported(t *testing.T) {
	_, err := Resolve("xyz", "", models.ConversionOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Resolve("../mp4", "", models.ConversionOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Resolve("", "", models.ConversionOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	// An explicit codec lets an unmapped container through unchanged.
	plan, err := Resolve("ts", "", models.ConversionOptions{VideoCodec: "h264"})
	require.NoError(t, err)
	assert.Equal(t, "ts", plan.Format)
	assert.Equal(t, "libx264", plan.VideoCodec)
}

func TestPlan_Args(t *testing.T) {
	plan, err := Resolve("webm", "", models.ConversionOptions{
		VideoBitrate: "2Mk",
		AudioBitrate: "bogus",
		PixelFormat:  "yuv420p",
		SampleRate:   48000,
		Channels:     2,
		FPS:          "30",
		Width:        640,
		StartTime:    floatPtr(5),
		Duration:     floatPtr(10.5),
	})
	require.NoError(t, err)

	args := plan.Args("/uploads/src.mov", "/output/out.webm", EngineArgs{
		LogLevel:   "error",
		InputArgs:  []string{"-threads", "2"},
		OutputArgs: []string{"-movflags", "+faststart"},
	})

	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-stats", "-loglevel", "error", "-y",
		"-threads", "2",
		"-i", "/uploads/src.mov",
		"-c:v", "libvpx-vp9", "-speed", "2", "-tile-columns", "2", "-threads", "4", "-row-mt", "1",
		"-c:a", "libopus",
		"-b:v", "2M",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-ar", "48000",
		"-ac", "2",
		"-r", "30",
		"-vf", "scale=640:-1",
		"-ss", "5",
		"-t", "10.5",
		"-f", "webm",
		"-movflags", "+faststart",
		"/output/out.webm",
	}, args)
}

func TestPlan_ArgsAudioOnly(t *testing.T) {
	plan, err := Resolve("mp3", "", models.ConversionOptions{AudioBitrate: "320K", VideoBitrate: "2M"})
	require.NoError(t, err)

	args := plan.Args("in.mp4", "out.mp3", EngineArgs{})
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-stats", "-loglevel", "info", "-y",
		"-i", "in.mp4",
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "320k",
		"-f", "mp3",
		"out.mp3",
	}, args)
}

func TestPlan_AdaptToSource(t *testing.T) {
	plan, err := Resolve("mp4", "", models.ConversionOptions{Width: 320, Preset: "fast"})
	require.NoError(t, err)

	plan.AdaptToSource(&ffmpeg.SourceMetadata{Video: &ffmpeg.VideoStream{Codec: "h264"}})
	assert.False(t, plan.DisableVideo)

	plan.AdaptToSource(&ffmpeg.SourceMetadata{Audio: &ffmpeg.AudioStream{Codec: "aac"}})
	assert.True(t, plan.DisableVideo)
	assert.Empty(t, plan.VideoCodec)
	assert.Empty(t, plan.Filters)
	assert.Empty(t, plan.Preset)
	assert.Equal(t, "aac", plan.AudioCodec)
}

func TestNormalizeCodec(t *testing.T) {
	assert.Equal(t, "libx265", NormalizeCodec("HEVC"))
	assert.Equal(t, "libvpx-vp9", NormalizeCodec("vp9"))
	assert.Equal(t, "copy", NormalizeCodec("copy"))
	assert.Equal(t, "", NormalizeCodec(" "))
}

func TestContainerOf(t *testing.T) {
	assert.Equal(t, "mp4", ContainerOf("av1.mp4"))
	assert.Equal(t, "mkv", ContainerOf("MKV"))
	assert.Equal(t, "webm", ContainerOf("a.b.webm"))
}
