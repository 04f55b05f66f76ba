package ffmpeg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001", "bit_rate": "4000000"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2, "bit_rate": "128000"},
    {"index": 2, "codec_type": "audio", "codec_name": "ac3", "sample_rate": "44100", "channels": 6}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "180.000000", "size": "1048576", "bit_rate": "4128000"}
}`

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25/0", 25},
		{"0/0", 0},
		{"24", 24},
		{"", 0},
		{"bogus", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseFramerate(tt.in), 0.0001)
		})
	}
}

func TestProbeResult_Metadata(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{FormatName: "wav", Duration: "12.5", Size: "x"},
		Streams: []ProbeStream{
			{Index: 0, CodecType: "audio", CodecName: "pcm_s16le", SampleRate: "44100", Channels: 2},
		},
	}

	meta := result.Metadata()
	assert.InDelta(t, 12.5, meta.Duration, 0.0001)
	assert.Zero(t, meta.Size)
	assert.Zero(t, meta.BitRate)
	assert.False(t, meta.HasVideo())
	require.True(t, meta.HasAudio())
	assert.Equal(t, 44100, meta.Audio.SampleRate)
}

func TestProber_ProbeMetadata(t *testing.T) {
	ffprobe := writeScript(t, "ffprobe", "cat <<'JSON'\n"+probeJSON+"\nJSON\n")

	meta, err := NewProber(ffprobe).ProbeMetadata(context.Background(), "/uploads/source.mp4")
	require.NoError(t, err)

	assert.InDelta(t, 180.0, meta.Duration, 0.0001)
	assert.Equal(t, int64(1048576), meta.Size)
	assert.Equal(t, int64(4128000), meta.BitRate)

	require.NotNil(t, meta.Video)
	assert.Equal(t, "h264", meta.Video.Codec)
	assert.Equal(t, 1920, meta.Video.Width)
	assert.InDelta(t, 29.97, meta.Video.FPS, 0.01)

	// First audio stream wins.
	require.NotNil(t, meta.Audio)
	assert.Equal(t, "aac", meta.Audio.Codec)
	assert.Equal(t, 48000, meta.Audio.SampleRate)
	assert.Equal(t, 2, meta.Audio.Channels)
}

func TestProber_Failures(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		ffprobe := writeScript(t, "ffprobe", "echo 'no such file' >&2\nexit 1\n")
		_, err := NewProber(ffprobe).ProbeMetadata(context.Background(), "missing.mp4")
		assert.ErrorIs(t, err, ErrProbe)
	})

	t.Run("invalid json", func(t *testing.T) {
		ffprobe := writeScript(t, "ffprobe", "echo 'not json'\n")
		_, err := NewProber(ffprobe).ProbeMetadata(context.Background(), "source.mp4")
		assert.ErrorIs(t, err, ErrProbe)
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := NewProber("/nonexistent/ffprobe").ProbeMetadata(context.Background(), "source.mp4")
		assert.ErrorIs(t, err, ErrProbe)
	})
}
