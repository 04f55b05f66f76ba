package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/repository"
	"github.com/jmylchreest/convertarr/internal/scheduler"
	"github.com/jmylchreest/convertarr/internal/storage"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeConverter struct {
	result       *conversion.Result
	err          error
	req          conversion.Request
	thumbnailReq conversion.ThumbnailRequest
	concatReq    conversion.ConcatRequest
}

func (f *fakeConverter) Convert(_ context.Context, req conversion.Request, onProgress func(int)) (*conversion.Result, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	onProgress(50)
	onProgress(100)
	return f.result, nil
}

func (f *fakeConverter) Thumbnail(_ context.Context, req conversion.ThumbnailRequest) (*conversion.Result, error) {
	f.thumbnailReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeConverter) Concat(_ context.Context, req conversion.ConcatRequest, onProgress func(int)) (*conversion.Result, error) {
	f.concatReq = req
	if f.err != nil {
		return nil, f.err
	}
	onProgress(100)
	return f.result, nil
}

type fakeRunner struct {
	mu        sync.Mutex
	notified  int
	cancelled []models.ULID
	running   bool
}

func (f *fakeRunner) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified++
}

func (f *fakeRunner) Cancel(id models.ULID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.running
}

func (f *fakeRunner) GetStatus(context.Context) scheduler.RunnerStatus {
	return scheduler.RunnerStatus{Running: true, WorkerCount: 3}
}

type fixture struct {
	svc       *ConversionService
	repo      repository.ConversionJobRepository
	files     *storage.FileStore
	converter *fakeConverter
	runner    *fakeRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jobs.db") + "?_pragma=busy_timeout(10000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ConversionJob{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	files, err := storage.NewFileStore(t.TempDir(), t.TempDir(), discardLogger)
	require.NoError(t, err)

	f := &fixture{
		repo:      repository.NewConversionJobRepository(db),
		files:     files,
		converter: &fakeConverter{},
		runner:    &fakeRunner{},
	}
	f.svc = NewConversionService(f.repo, f.converter, files).WithLogger(discardLogger).WithRunner(f.runner)
	return f
}

func TestConversionService_EnqueueConversion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueConversion(ctx, ConversionRequest{
		SourceID:     "abc123",
		OutputFormat: "webm",
		Options:      models.ConversionOptions{VideoCodec: "h264"},
	})
	require.NoError(t, err)
	assert.False(t, job.ID.IsZero())
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, f.runner.notified)

	status, err := f.svc.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status.State)
	assert.Zero(t, status.Percent)
	assert.Nil(t, status.Result)
	assert.Empty(t, status.Error)
}

func TestConversionService_EnqueueConversionRejects(t *testing.T) {
	tests := []struct {
		name   string
		req    ConversionRequest
		target error
	}{
		{"missing source", ConversionRequest{OutputFormat: "mp4"}, models.ErrSourceIDRequired},
		{"missing format", ConversionRequest{SourceID: "abc"}, models.ErrOutputFormatRequired},
		{"unknown container", ConversionRequest{SourceID: "abc", OutputFormat: "xyz"}, conversion.ErrUnsupportedFormat},
		{"bad format", ConversionRequest{SourceID: "abc", OutputFormat: "../mp4"}, conversion.ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.EnqueueConversion(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.target)
			assert.Zero(t, f.runner.notified)
		})
	}
}

func TestConversionService_GetJobStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetJobStatus(ctx, models.NewULID())
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	job, err := f.svc.EnqueueConversion(ctx, ConversionRequest{SourceID: "abc", OutputFormat: "mp4"})
	require.NoError(t, err)
	leased, err := f.repo.Acquire(ctx, "w")
	require.NoError(t, err)
	require.NoError(t, f.repo.UpdateProgress(ctx, leased, 42))

	status, err := f.svc.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, status.State)
	assert.Equal(t, 42, status.Percent)
	assert.Equal(t, 1, status.Attempts)
	assert.NotNil(t, status.StartedAt)

	require.NoError(t, f.repo.Complete(ctx, leased, &models.ConversionResult{
		OutputID: "out", OutputPath: "/o/out.mp4", Filename: "out.mp4",
	}))
	status, err = f.svc.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status.State)
	assert.Equal(t, 100, status.Percent)
	require.NotNil(t, status.Result)
	assert.Equal(t, "/output/out.mp4", status.Result.DownloadPath)
	assert.NotNil(t, status.FinishedAt)
}

func TestConversionService_FailedJobCarriesError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueConversion(ctx, ConversionRequest{SourceID: "missing", OutputFormat: "mp3"})
	require.NoError(t, err)
	leased, err := f.repo.Acquire(ctx, "w")
	require.NoError(t, err)
	require.NoError(t, f.repo.Fail(ctx, leased, conversion.KindSourceNotFound, "source file not found: missing"))

	status, err := f.svc.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status.State)
	assert.Equal(t, conversion.KindSourceNotFound, status.ErrorKind)
	assert.Equal(t, "source file not found: missing", status.Error)
}

func TestConversionService_CancelJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.svc.EnqueueConversion(ctx, ConversionRequest{SourceID: "a", OutputFormat: "mp4"})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.Empty(t, f.runner.cancelled, "pending jobs have no engine to kill")

	running, err := f.svc.EnqueueConversion(ctx, ConversionRequest{SourceID: "b", OutputFormat: "mp4"})
	require.NoError(t, err)
	_, err = f.repo.Acquire(ctx, "w")
	require.NoError(t, err)

	f.runner.running = true
	cancelled, err = f.svc.CancelJob(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, []models.ULID{running.ID}, f.runner.cancelled)

	_, err = f.svc.CancelJob(ctx, running.ID)
	assert.ErrorIs(t, err, models.ErrJobFinished)

	_, err = f.svc.CancelJob(ctx, models.NewULID())
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestConversionService_ListJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, source := range []string{"a", "b", "c"} {
		_, err := f.svc.EnqueueConversion(ctx, ConversionRequest{SourceID: source, OutputFormat: "mp4"})
		require.NoError(t, err)
	}
	_, err := f.repo.Acquire(ctx, "w")
	require.NoError(t, err)

	all, err := f.svc.ListJobs(ctx, repository.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := f.svc.ListJobs(ctx, repository.JobFilter{Status: models.JobStatusPending, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = f.svc.ListJobs(ctx, repository.JobFilter{Status: "bogus"})
	var verr models.ErrValidation
	assert.ErrorAs(t, err, &verr)
}

func TestConversionService_ConvertNow(t *testing.T) {
	f := newFixture(t)
	f.converter.result = &conversion.Result{ConversionResult: models.ConversionResult{
		OutputID: "out", OutputPath: "/o/out.mp3", Filename: "out.mp3", DownloadPath: "/output/out.mp3",
	}}

	var progress []int
	result, err := f.svc.ConvertNow(context.Background(), ConversionRequest{SourceID: "abc", OutputFormat: "mp3"}, func(p int) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, "out.mp3", result.Filename)
	assert.Equal(t, []int{50, 100}, progress)
	assert.Equal(t, "abc", f.converter.req.SourceID)

	f.converter.err = fmt.Errorf("%w: abc", conversion.ErrSourceNotFound)
	_, err = f.svc.ConvertNow(context.Background(), ConversionRequest{SourceID: "abc", OutputFormat: "mp3"}, nil)
	assert.ErrorIs(t, err, conversion.ErrSourceNotFound)
}

func TestConversionService_Thumbnail(t *testing.T) {
	f := newFixture(t)
	f.converter.result = &conversion.Result{ConversionResult: models.ConversionResult{
		OutputID: "thumb", OutputPath: "/o/thumb.jpg", Filename: "thumb.jpg", DownloadPath: "/output/thumb.jpg",
	}}

	ts := 4.0
	result, err := f.svc.Thumbnail(context.Background(), conversion.ThumbnailRequest{SourceID: "abc", Timestamp: &ts, Width: 160})
	require.NoError(t, err)
	assert.Equal(t, "/output/thumb.jpg", result.DownloadPath)
	assert.Equal(t, "abc", f.converter.thumbnailReq.SourceID)
	assert.Equal(t, 160, f.converter.thumbnailReq.Width)
	require.NotNil(t, f.converter.thumbnailReq.Timestamp)
	assert.InDelta(t, 4.0, *f.converter.thumbnailReq.Timestamp, 0.001)

	f.converter.err = fmt.Errorf("%w: source has no video stream", conversion.ErrUnsupportedFormat)
	_, err = f.svc.Thumbnail(context.Background(), conversion.ThumbnailRequest{SourceID: "abc"})
	assert.ErrorIs(t, err, conversion.ErrUnsupportedFormat)
}

func TestConversionService_Concat(t *testing.T) {
	f := newFixture(t)
	f.converter.result = &conversion.Result{ConversionResult: models.ConversionResult{
		OutputID: "joined", OutputPath: "/o/joined.mkv", Filename: "joined.mkv", DownloadPath: "/output/joined.mkv",
	}}

	var progress []int
	result, err := f.svc.Concat(context.Background(), conversion.ConcatRequest{
		SourceIDs:    []string{"a", "b"},
		OutputFormat: "mkv",
	}, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, "joined.mkv", result.Filename)
	assert.Equal(t, []string{"a", "b"}, f.converter.concatReq.SourceIDs)
	assert.Equal(t, []int{100}, progress)

	// A nil callback is allowed.
	_, err = f.svc.Concat(context.Background(), conversion.ConcatRequest{SourceIDs: []string{"a", "b"}}, nil)
	require.NoError(t, err)

	f.converter.err = fmt.Errorf("%w: \"b\"", conversion.ErrSourceNotFound)
	_, err = f.svc.Concat(context.Background(), conversion.ConcatRequest{SourceIDs: []string{"a", "b"}}, nil)
	assert.ErrorIs(t, err, conversion.ErrSourceNotFound)
}

func TestConversionService_Files(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.files.EnsureDirectories())

	path := filepath.Join(f.files.Dir(storage.KindOutputs), "0b7e.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	files, err := f.svc.ListFiles(storage.KindOutputs)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "0b7e", files[0].ID)

	removed, err := f.svc.DeleteFile(storage.KindOutputs, "0b7e")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, path)

	_, err = f.svc.DeleteFile(storage.KindOutputs, "0b7e")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestConversionService_RunnerStatus(t *testing.T) {
	f := newFixture(t)
	status, ok := f.svc.RunnerStatus(context.Background())
	assert.True(t, ok)
	assert.True(t, status.Running)

	detached := NewConversionService(f.repo, f.converter, f.files)
	_, ok = detached.RunnerStatus(context.Background())
	assert.False(t, ok)
}
