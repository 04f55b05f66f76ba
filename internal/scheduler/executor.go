package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/metrics"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/observability"
	"github.com/jmylchreest/convertarr/internal/repository"
)

// finalizeTimeout bounds the terminal write made after a job's context ends.
const finalizeTimeout = 10 * time.Second

// Converter runs a single conversion.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request, onProgress func(int)) (*conversion.Result, error)
}

// OutputRemover deletes an output produced under a lease that was lost.
type OutputRemover interface {
	Remove(path string) error
}

// Executor runs leased jobs and records their outcome.
type Executor struct {
	jobRepo   repository.ConversionJobRepository
	converter Converter
	files     OutputRemover
	logger    *slog.Logger
}

// NewExecutor creates a new job executor.
func NewExecutor(jobRepo repository.ConversionJobRepository, converter Converter, files OutputRemover) *Executor {
	return &Executor{
		jobRepo:   jobRepo,
		converter: converter,
		files:     files,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// Execute converts a leased job and persists the result. It returns an
// error only when the outcome could not be recorded.
//
// ctx is cancelled with a cause by the runner: conversion.ErrStallTimeout and
// conversion.ErrCancelled mean the job row was already updated by whoever
// cancelled it; any other cancellation (shutdown) releases the job for
// another worker.
func (e *Executor) Execute(ctx context.Context, job *models.ConversionJob) error {
	logger := observability.WithJob(e.logger, job.ID.String())
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	logger.Info("executing job",
		slog.String("source_id", job.SourceID),
		slog.String("output_format", job.OutputFormat),
		slog.Int("attempt", job.AttemptCount))

	onProgress := func(percent int) {
		if ctx.Err() != nil {
			return
		}
		if err := e.jobRepo.UpdateProgress(ctx, job, percent); err != nil {
			if errors.Is(err, models.ErrLeaseLost) {
				cancel(models.ErrLeaseLost)
				return
			}
			logger.Warn("failed to record progress", slog.Int("progress", percent), slog.Any("error", err))
		}
	}

	start := time.Now()
	result, err := e.converter.Convert(ctx, conversion.Request{
		SourceID:     job.SourceID,
		OutputFormat: job.OutputFormat,
		Options:      job.Options,
	}, onProgress)

	container := conversion.ContainerOf(job.OutputFormat)
	cause := context.Cause(ctx)

	// The lease may be gone by now; terminal writes get their own deadline.
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer writeCancel()

	if err == nil {
		metrics.ConversionDuration.WithLabelValues(container, "completed").Observe(time.Since(start).Seconds())
		metrics.EnginePeakRSSBytes.Set(float64(result.Stats.PeakRSSBytes))
		return e.complete(writeCtx, logger, job, result)
	}

	kind := conversion.Kind(err)
	metrics.ConversionDuration.WithLabelValues(container, kind).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(cause, conversion.ErrStallTimeout):
		logger.Warn("conversion killed after stall", slog.Any("error", err))
		return nil
	case errors.Is(cause, conversion.ErrCancelled):
		logger.Info("conversion cancelled")
		return nil
	case errors.Is(cause, models.ErrLeaseLost):
		logger.Warn("lease lost during conversion", slog.Any("error", err))
		return nil
	case ctx.Err() != nil:
		if relErr := e.jobRepo.Release(writeCtx, job); relErr != nil && !errors.Is(relErr, models.ErrLeaseLost) {
			logger.Error("failed to release job", slog.Any("error", relErr))
			return relErr
		}
		logger.Info("job released for retry", slog.Any("cause", cause))
		return nil
	}

	logger.Error("job failed", slog.String("error_kind", kind), slog.Any("error", err))
	if failErr := e.jobRepo.Fail(writeCtx, job, kind, err.Error()); failErr != nil {
		if errors.Is(failErr, models.ErrLeaseLost) {
			logger.Warn("lease lost before failure could be recorded")
			return nil
		}
		logger.Error("failed to update job status", slog.Any("error", failErr))
		return failErr
	}
	metrics.JobsFinishedTotal.WithLabelValues(string(models.JobStatusFailed), kind).Inc()
	return nil
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, job *models.ConversionJob, result *conversion.Result) error {
	err := e.jobRepo.Complete(ctx, job, &result.ConversionResult)
	if err == nil {
		logger.Info("job completed",
			slog.String("output", result.Filename),
			slog.Int64("duration_ms", job.DurationMs),
			slog.Uint64("peak_rss_bytes", result.Stats.PeakRSSBytes))
		metrics.JobsFinishedTotal.WithLabelValues(string(models.JobStatusCompleted), "").Inc()
		return nil
	}

	// Someone else owns the job now; this output is orphaned.
	if rmErr := e.files.Remove(result.OutputPath); rmErr != nil {
		logger.Warn("failed to remove orphaned output", slog.String("path", result.OutputPath), slog.Any("error", rmErr))
	}
	if errors.Is(err, models.ErrLeaseLost) {
		logger.Warn("lease lost before completion could be recorded", slog.String("output", result.Filename))
		return nil
	}
	logger.Error("failed to update job status", slog.Any("error", err))
	return err
}
