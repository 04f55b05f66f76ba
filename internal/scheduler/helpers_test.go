package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/repository"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupJobRepo(t *testing.T) repository.ConversionJobRepository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jobs.db") + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
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
	return repository.NewConversionJobRepository(db)
}

func enqueue(t *testing.T, repo repository.ConversionJobRepository, source string) *models.ConversionJob {
	t.Helper()
	job := &models.ConversionJob{SourceID: source, OutputFormat: "mp4"}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func acquire(t *testing.T, repo repository.ConversionJobRepository) *models.ConversionJob {
	t.Helper()
	job, err := repo.Acquire(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func getJob(t *testing.T, repo repository.ConversionJobRepository, id models.ULID) *models.ConversionJob {
	t.Helper()
	job, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

// fakeConverter runs fn for every conversion.
type fakeConverter struct {
	fn    func(ctx context.Context, req conversion.Request, onProgress func(int)) (*conversion.Result, error)
	calls atomic.Int32
}

func (f *fakeConverter) Convert(ctx context.Context, req conversion.Request, onProgress func(int)) (*conversion.Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, req, onProgress)
}

func succeeding() *fakeConverter {
	return &fakeConverter{fn: func(_ context.Context, req conversion.Request, onProgress func(int)) (*conversion.Result, error) {
		onProgress(40)
		onProgress(90)
		return &conversion.Result{ConversionResult: models.ConversionResult{
			OutputID:     "out-1",
			OutputPath:   "/outputs/out-1." + req.OutputFormat,
			Filename:     "out-1." + req.OutputFormat,
			DownloadPath: models.DownloadPath("out-1." + req.OutputFormat),
		}}, nil
	}}
}

// blocking converts until ctx ends and reports its cause on causes.
func blocking(causes chan<- error) *fakeConverter {
	return &fakeConverter{fn: func(ctx context.Context, _ conversion.Request, onProgress func(int)) (*conversion.Result, error) {
		onProgress(10)
		<-ctx.Done()
		cause := context.Cause(ctx)
		if causes != nil {
			causes <- cause
		}
		return nil, fmt.Errorf("ffmpeg interrupted: %w", cause)
	}}
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeRemover) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeRemover) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}
