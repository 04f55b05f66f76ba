// Package service provides the conversion operations exposed over HTTP and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/metrics"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/repository"
	"github.com/jmylchreest/convertarr/internal/scheduler"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// ErrFileNotFound indicates no managed file matched the requested id.
var ErrFileNotFound = errors.New("file not found")

// Converter runs engine operations synchronously.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request, onProgress func(int)) (*conversion.Result, error)
	Thumbnail(ctx context.Context, req conversion.ThumbnailRequest) (*conversion.Result, error)
	Concat(ctx context.Context, req conversion.ConcatRequest, onProgress func(int)) (*conversion.Result, error)
}

// FileManager lists and deletes managed files.
type FileManager interface {
	List(kind storage.Kind) ([]storage.FileInfo, error)
	RemoveByID(kind storage.Kind, id string) (int, error)
}

// JobRunner is the part of the worker pool the service drives.
type JobRunner interface {
	Notify()
	Cancel(jobID models.ULID) bool
	GetStatus(ctx context.Context) scheduler.RunnerStatus
}

// ConversionRequest is a request to convert one uploaded file.
type ConversionRequest struct {
	SourceID     string
	OutputFormat string
	Options      models.ConversionOptions
}

// JobStatus is the poller's view of a job.
type JobStatus struct {
	ID         models.ULID              `json:"id"`
	State      models.JobStatus         `json:"state"`
	Percent    int                      `json:"percent"`
	Result     *models.ConversionResult `json:"result,omitempty"`
	ErrorKind  string                   `json:"error_kind,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Attempts   int                      `json:"attempts"`
	Stalls     int                      `json:"stalls"`
	CreatedAt  time.Time                `json:"created_at"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Elapsed    time.Duration            `json:"elapsed"`
}

// NewJobStatus builds the poller's view of job.
func NewJobStatus(job *models.ConversionJob) *JobStatus {
	status := &JobStatus{
		ID:         job.ID,
		State:      job.Status,
		Percent:    job.Progress,
		Result:     job.Result(),
		ErrorKind:  job.ErrorKind,
		Attempts:   job.AttemptCount,
		Stalls:     job.StallCount,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.CompletedAt,
		Elapsed:    job.Elapsed(time.Now()),
	}
	// A stall message on a job that later completed is history, not an error.
	if job.Status == models.JobStatusFailed || job.Status == models.JobStatusCancelled {
		status.Error = job.LastError
	}
	return status
}

// ConversionService coordinates the job queue, the synchronous converter and
// the managed directories.
type ConversionService struct {
	jobRepo   repository.ConversionJobRepository
	converter Converter
	files     FileManager
	runner    JobRunner
	logger    *slog.Logger
}

// NewConversionService creates a new ConversionService.
func NewConversionService(jobRepo repository.ConversionJobRepository, converter Converter, files FileManager) *ConversionService {
	return &ConversionService{
		jobRepo:   jobRepo,
		converter: converter,
		files:     files,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *ConversionService) WithLogger(logger *slog.Logger) *ConversionService {
	s.logger = logger
	return s
}

// WithRunner sets the runner instance.
func (s *ConversionService) WithRunner(runner JobRunner) *ConversionService {
	s.runner = runner
	return s
}

// EnqueueConversion persists a pending job and wakes a worker. Containers with
// no policy are rejected here rather than failing later in a worker.
func (s *ConversionService) EnqueueConversion(ctx context.Context, req ConversionRequest) (*models.ConversionJob, error) {
	if req.OutputFormat != "" {
		if _, err := conversion.Resolve(req.OutputFormat, "", req.Options); err != nil {
			return nil, err
		}
	}

	job := &models.ConversionJob{
		SourceID:     req.SourceID,
		OutputFormat: req.OutputFormat,
		Options:      req.Options,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing conversion: %w", err)
	}
	metrics.JobsEnqueuedTotal.Inc()

	if s.runner != nil {
		s.runner.Notify()
	}

	s.logger.Info("enqueued conversion",
		slog.String("job_id", job.ID.String()),
		slog.String("source_id", job.SourceID),
		slog.String("output_format", job.OutputFormat))

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *ConversionService) GetJob(ctx context.Context, id models.ULID) (*models.ConversionJob, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

// GetJobStatus returns the state, percent and outcome of a job.
func (s *ConversionService) GetJobStatus(ctx context.Context, id models.ULID) (*JobStatus, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewJobStatus(job), nil
}

// ListJobs returns jobs newest first.
func (s *ConversionService) ListJobs(ctx context.Context, filter repository.JobFilter) ([]*models.ConversionJob, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, models.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	return s.jobRepo.List(ctx, filter)
}

func validStatus(status models.JobStatus) bool {
	switch status {
	case models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted,
		models.JobStatusFailed, models.JobStatusCancelled:
		return true
	}
	return false
}

// CancelJob cancels a pending or running job. A running job leased by this
// process has its engine killed.
func (s *ConversionService) CancelJob(ctx context.Context, id models.ULID) (*models.ConversionJob, error) {
	previous, err := s.jobRepo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}

	killed := false
	if previous.Status == models.JobStatusRunning && s.runner != nil {
		killed = s.runner.Cancel(id)
	}
	metrics.JobsFinishedTotal.WithLabelValues(string(models.JobStatusCancelled), conversion.KindCancelled).Inc()

	s.logger.Info("cancelled job",
		slog.String("job_id", id.String()),
		slog.String("previous_status", string(previous.Status)),
		slog.Bool("killed", killed))

	return s.GetJob(ctx, id)
}

// ConvertNow runs a conversion outside the queue and waits for it.
func (s *ConversionService) ConvertNow(ctx context.Context, req ConversionRequest, onProgress func(int)) (*models.ConversionResult, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	return s.runSync(ctx, "convert", req.OutputFormat, func() (*conversion.Result, error) {
		return s.converter.Convert(ctx, conversion.Request{
			SourceID:     req.SourceID,
			OutputFormat: req.OutputFormat,
			Options:      req.Options,
		}, onProgress)
	})
}

// Thumbnail grabs a single frame of an uploaded video and waits for it.
func (s *ConversionService) Thumbnail(ctx context.Context, req conversion.ThumbnailRequest) (*models.ConversionResult, error) {
	format := req.Format
	if format == "" {
		format = conversion.DefaultThumbnailFormat
	}
	result, err := s.runSync(ctx, "thumbnail", format, func() (*conversion.Result, error) {
		return s.converter.Thumbnail(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("created thumbnail",
		slog.String("source_id", req.SourceID),
		slog.String("output", result.Filename))
	return result, nil
}

// Concat joins uploads end to end without re-encoding and waits for it.
func (s *ConversionService) Concat(ctx context.Context, req conversion.ConcatRequest, onProgress func(int)) (*models.ConversionResult, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	result, err := s.runSync(ctx, "concat", req.OutputFormat, func() (*conversion.Result, error) {
		return s.converter.Concat(ctx, req, onProgress)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("concatenated sources",
		slog.Int("sources", len(req.SourceIDs)),
		slog.String("output", result.Filename))
	return result, nil
}

// runSync times a synchronous engine operation and logs its failure.
func (s *ConversionService) runSync(ctx context.Context, op, format string, fn func() (*conversion.Result, error)) (*models.ConversionResult, error) {
	start := time.Now()
	result, err := fn()

	label := "completed"
	if err != nil {
		label = conversion.Kind(err)
	}
	metrics.ConversionDuration.WithLabelValues(conversion.ContainerOf(format), label).Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.WarnContext(ctx, "synchronous operation failed",
			slog.String("operation", op),
			slog.String("output_format", format),
			slog.String("error_kind", label),
			slog.Any("error", err))
		return nil, err
	}
	return &result.ConversionResult, nil
}

// ListFiles lists the uploads or outputs directory.
func (s *ConversionService) ListFiles(kind storage.Kind) ([]storage.FileInfo, error) {
	return s.files.List(kind)
}

// DeleteFile removes every file in kind whose id matches.
func (s *ConversionService) DeleteFile(kind storage.Kind, id string) (int, error) {
	removed, err := s.files.RemoveByID(kind, id)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrFileNotFound, kind, id)
	}
	s.logger.Info("deleted file", slog.String("kind", string(kind)), slog.String("id", id), slog.Int("removed", removed))
	return removed, nil
}

// RunnerStatus reports the worker pool state. The second result is false when
// no runner is attached.
func (s *ConversionService) RunnerStatus(ctx context.Context) (scheduler.RunnerStatus, bool) {
	if s.runner == nil {
		return scheduler.RunnerStatus{}, false
	}
	return s.runner.GetStatus(ctx), true
}
