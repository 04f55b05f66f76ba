package conversion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/convertarr/internal/ffmpeg"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/storage"
)

func addUpload(t *testing.T, files *storage.FileStore, name string) string {
	t.Helper()
	path := filepath.Join(files.Dir(storage.KindUploads), name)
	require.NoError(t, os.WriteFile(path, []byte("src"), 0o600))
	return path
}

func TestOrchestrator_Concat(t *testing.T) {
	engine := &fakeEngine{progress: []int{50, 100}}
	o, files := setupOrchestrator(t, &fakeProber{meta: videoSource()}, engine)
	first := filepath.Join(files.Dir(storage.KindUploads), "src123.mov")
	second := addUpload(t, files, "part2's take.mov")

	var listPath, listBody string
	engine.inspect = func(args []string) {
		listPath = argAfter(args, "-i")
		body, err := os.ReadFile(listPath)
		require.NoError(t, err)
		listBody = string(body)
	}

	var events []int
	result, err := o.Concat(context.Background(), ConcatRequest{
		SourceIDs: []string{"src123", "part2"},
	}, func(p int) { events = append(events, p) })
	require.NoError(t, err)

	assert.Equal(t, "out-id.mov", result.Filename)
	assert.FileExists(t, result.OutputPath)
	assert.Equal(t, []string{first, second}, result.Sources)
	assert.Equal(t, first, result.SourcePath)
	assert.Equal(t, []int{50, 100}, events)
	assert.InDelta(t, 360.0, engine.total, 0.001)

	assert.Equal(t, ffmpeg.ConcatList([]string{first, second}), listBody)
	assert.Contains(t, listBody, `part2'\''s take.mov`)
	assert.NoFileExists(t, listPath, "list file is removed after the run")

	// Demuxer options precede -i; stream copy and the muxer follow it.
	in := slices.Index(engine.args, "-i")
	assert.Equal(t, []string{"-f", "concat", "-safe", "0"}, engine.args[in-4:in])
	assert.Equal(t, "copy", argAfter(engine.args[in:], "-c"))
	assert.Equal(t, "mov", argAfter(engine.args[in:], "-f"))
}

func TestOrchestrator_ConcatOutputFormat(t *testing.T) {
	engine := &fakeEngine{}
	o, files := setupOrchestrator(t, &fakeProber{meta: videoSource()}, engine)
	addUpload(t, files, "other.mov")

	result, err := o.Concat(context.Background(), ConcatRequest{
		SourceIDs:    []string{"src123", "other", "src123"},
		OutputFormat: "MKV",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "out-id.mkv", result.Filename)
	assert.Len(t, result.Sources, 3)
	assert.Equal(t, "matroska", argAfter(engine.args[slices.Index(engine.args, "-i"):], "-f"))
	assert.InDelta(t, 540.0, engine.total, 0.001)
}

func TestOrchestrator_ConcatRejects(t *testing.T) {
	tests := []struct {
		name    string
		req     ConcatRequest
		prober  *fakeProber
		wantErr error
	}{
		{"single source", ConcatRequest{SourceIDs: []string{"src123"}}, &fakeProber{meta: videoSource()}, models.ErrValidation{}},
		{"blank source", ConcatRequest{SourceIDs: []string{"src123", " "}}, &fakeProber{meta: videoSource()}, models.ErrValidation{}},
		{"missing source", ConcatRequest{SourceIDs: []string{"src123", "missing"}}, &fakeProber{meta: videoSource()}, ErrSourceNotFound},
		{"unknown format", ConcatRequest{SourceIDs: []string{"src123", "src123"}, OutputFormat: "xyz"}, &fakeProber{meta: videoSource()}, ErrUnsupportedFormat},
		{"unreadable source", ConcatRequest{SourceIDs: []string{"src123", "src123"}}, &fakeProber{err: ffmpeg.ErrProbe}, ErrMetadataRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			o, files := setupOrchestrator(t, tt.prober, engine)

			_, err := o.Concat(context.Background(), tt.req, nil)
			require.Error(t, err)
			var validation models.ErrValidation
			if errors.As(tt.wantErr, &validation) {
				require.ErrorAs(t, err, &validation)
				assert.Equal(t, "source_ids", validation.Field)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Zero(t, engine.calls)

			outputs, err := files.List(storage.KindOutputs)
			require.NoError(t, err)
			assert.Empty(t, outputs)
		})
	}
}

func TestOrchestrator_ConcatEngineFailure(t *testing.T) {
	engine := &fakeEngine{err: &ffmpeg.ExitError{ExitCode: 1, Stderr: "Non-monotonous DTS"}}
	o, files := setupOrchestrator(t, &fakeProber{meta: videoSource()}, engine)

	var listPath string
	engine.inspect = func(args []string) { listPath = argAfter(args, "-i") }

	_, err := o.Concat(context.Background(), ConcatRequest{SourceIDs: []string{"src123", "src123"}}, nil)
	assert.Equal(t, KindEngineExecution, Kind(err))
	assert.NoFileExists(t, filepath.Join(files.Dir(storage.KindOutputs), "out-id.mov"))
	require.NotEmpty(t, listPath)
	assert.NoFileExists(t, listPath)
}

// TestOrchestrator_ConcatWithEngineScripts checks the list file reaches a
// real process intact.
func TestOrchestrator_ConcatWithEngineScripts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts require a POSIX shell")
	}
	bin := t.TempDir()
	ffprobe := filepath.Join(bin, "ffprobe")
	ffmpegPath := filepath.Join(bin, "ffmpeg")
	captured := filepath.Join(bin, "list.txt")

	require.NoError(t, os.WriteFile(ffprobe, []byte(`#!/bin/sh
echo '{"format":{"duration":"30.0","format_name":"mov"},"streams":[{"codec_type":"video","codec_name":"h264"}]}'
`), 0o755))
	require.NoError(t, os.WriteFile(ffmpegPath, []byte(`#!/bin/sh
prev=
for arg; do
  if [ "$prev" = "-i" ]; then cp "$arg" '`+captured+`'; fi
  prev=$arg
done
printf 'frame=9 time=00:01:00.00 bitrate=1k\r' >&2
for last; do :; done
echo joined > "$last"
`), 0o755))

	o, files := setupOrchestrator(t, ffmpeg.NewProber(ffprobe), ffmpeg.NewSupervisor(ffmpegPath, nil))
	second := addUpload(t, files, "tail.mov")

	var events []int
	result, err := o.Concat(context.Background(), ConcatRequest{SourceIDs: []string{"src123", "tail"}},
		func(p int) { events = append(events, p) })
	require.NoError(t, err)

	assert.FileExists(t, result.OutputPath)
	body, err := os.ReadFile(captured)
	require.NoError(t, err)
	assert.Equal(t, ffmpeg.ConcatList([]string{result.SourcePath, second}), string(body))
	require.NotEmpty(t, events)
	assert.Equal(t, 100, events[len(events)-1])
}
