package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBuilder_Build(t *testing.T) {
	args := NewCommandBuilder().
		HideBanner().
		NoStdin().
		Overwrite().
		LogLevel("error").
		InputArgs("-threads", "2").
		Input("/uploads/abc.mov").
		VideoCodec("libx264").
		AudioCodec("aac").
		VideoBitrate("2M").
		VideoFilters("scale=1280:720", "transpose=1").
		Seek(1.5).
		Limit(10).
		CRF(23).
		Format("mp4").
		Output("/output/out.mp4").
		Build()

	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-threads", "2",
		"-i", "/uploads/abc.mov",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:v", "2M",
		"-vf", "scale=1280:720,transpose=1",
		"-ss", "1.5",
		"-t", "10",
		"-crf", "23",
		"-f", "mp4",
		"/output/out.mp4",
	}, args)
}

func TestCommandBuilder_SkipsEmptyValues(t *testing.T) {
	args := NewCommandBuilder().
		Input("in.wav").
		VideoCodec("").
		Preset("").
		SampleRate(0).
		AudioChannels(-1).
		VideoFilters().
		Output("out.mp3").
		Build()

	assert.Equal(t, []string{"-loglevel", "info", "-i", "in.wav", "out.mp3"}, args)
}

func TestCommandBuilder_ThumbnailArgs(t *testing.T) {
	args := NewCommandBuilder().
		HideBanner().
		Overwrite().
		LogLevel("error").
		SeekInput(1).
		Input("/uploads/abc.mov").
		Frames(1).
		VideoFilters("scale=320:240").
		Output("/output/thumb.jpg").
		Build()

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", "1",
		"-i", "/uploads/abc.mov",
		"-frames:v", "1",
		"-vf", "scale=320:240",
		"/output/thumb.jpg",
	}, args)
}

func TestCommandBuilder_ConcatArgs(t *testing.T) {
	args := NewCommandBuilder().
		InputFormat("concat").
		InputArgs("-safe", "0").
		Input("/tmp/list.txt").
		CopyStreams().
		Frames(0).
		Format("matroska").
		Output("/output/joined.mkv").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "info",
		"-f", "concat", "-safe", "0",
		"-i", "/tmp/list.txt",
		"-c", "copy",
		"-f", "matroska",
		"/output/joined.mkv",
	}, args)
}

func TestConcatList(t *testing.T) {
	list := ConcatList([]string{"/uploads/a.mp4", "/uploads/it's here.mp4"})
	assert.Equal(t, "file '/uploads/a.mp4'\nfile '/uploads/it'\\''s here.mp4'\n", list)
	assert.Empty(t, ConcatList(nil))
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"simple", "-movflags +faststart", []string{"-movflags", "+faststart"}},
		{"extra whitespace", "  -threads\t4  ", []string{"-threads", "4"}},
		{"double quoted", `-metadata title="My Movie"`, []string{"-metadata", "title=My Movie"}},
		{"single quoted", `-vf 'scale=640:-2, fps=30'`, []string{"-vf", "scale=640:-2, fps=30"}},
		{"nested quote", `-metadata comment="it's fine"`, []string{"-metadata", "comment=it's fine"}},
		{"escaped space", `-metadata title=a\ b`, []string{"-metadata", "title=a b"}},
		{"empty quoted", `-metadata ""`, []string{"-metadata", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOptions(tt.input))
		})
	}
}
