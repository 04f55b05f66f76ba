// Package repository defines data access interfaces for convertarr entities.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/convertarr/internal/models"
)

// JobFilter narrows a job listing.
type JobFilter struct {
	// Status limits results to one status; empty means all.
	Status models.JobStatus
	// Limit caps the number of results; zero means no limit.
	Limit int
}

// ConversionJobRepository is the persisted queue of conversion jobs.
//
// Every write a worker makes after Acquire is conditioned on the lease token
// it was handed; once a lease is revoked (stall requeue, cancel) those writes
// return models.ErrLeaseLost instead of touching the row.
type ConversionJobRepository interface {
	// Create enqueues a new pending job.
	Create(ctx context.Context, job *models.ConversionJob) error
	// GetByID retrieves a job by ID. Returns nil, nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.ConversionJob, error)
	// List returns jobs newest first.
	List(ctx context.Context, filter JobFilter) ([]*models.ConversionJob, error)
	// CountByStatus returns the number of jobs in each status.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)

	// Acquire atomically leases the oldest pending job to workerID.
	// Returns nil, nil if no job is available.
	Acquire(ctx context.Context, workerID string) (*models.ConversionJob, error)
	// UpdateProgress records a progress report; the stored percent never decreases.
	UpdateProgress(ctx context.Context, job *models.ConversionJob, percent int) error
	// Complete marks a leased job completed with its output location.
	Complete(ctx context.Context, job *models.ConversionJob, result *models.ConversionResult) error
	// Fail marks a leased job permanently failed.
	Fail(ctx context.Context, job *models.ConversionJob, kind, message string) error
	// Release returns a leased job to the pending pool without counting a stall.
	Release(ctx context.Context, job *models.ConversionJob) error

	// FindStalled returns running jobs whose last progress report is older than cutoff.
	FindStalled(ctx context.Context, cutoff time.Time) ([]*models.ConversionJob, error)
	// RequeueStalled revokes a stalled job's lease. The job returns to pending, or
	// fails once its stall count exceeds maxStalls. Returns the resulting status.
	RequeueStalled(ctx context.Context, job *models.ConversionJob, maxStalls int, message string) (models.JobStatus, error)

	// Cancel moves a pending or running job to cancelled and returns it as it was
	// before cancellation.
	Cancel(ctx context.Context, id models.ULID) (*models.ConversionJob, error)
	// DeleteFinishedBefore permanently removes terminal jobs completed before the cutoff.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}
