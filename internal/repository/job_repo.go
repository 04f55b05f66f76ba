package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmylchreest/convertarr/internal/models"
)

// acquireBatch is how many pending candidates one Acquire call tries to claim
// before reporting the queue as empty.
const acquireBatch = 5

// maxStoredError keeps last_error within a MySQL TEXT column.
const maxStoredError = 60000

// storedError trims message to maxStoredError bytes on a rune boundary.
func storedError(message string) string {
	if len(message) <= maxStoredError {
		return message
	}
	return strings.ToValidUTF8(message[:maxStoredError], "") + "\n[truncated]"
}

// utcNow keeps stored timestamps in one zone so they compare correctly as
// SQLite text.
func utcNow() time.Time {
	return time.Now().UTC()
}

// jobRepo implements ConversionJobRepository using GORM.
type jobRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewConversionJobRepository creates a new job repository.
func NewConversionJobRepository(db *gorm.DB) ConversionJobRepository {
	return &jobRepo{db: db, now: utcNow}
}

// Create enqueues a new pending job.
func (r *jobRepo) Create(ctx context.Context, job *models.ConversionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	job.Status = models.JobStatusPending
	job.Progress = 0
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.ConversionJob, error) {
	var job models.ConversionJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// List returns jobs newest first.
func (r *jobRepo) List(ctx context.Context, filter JobFilter) ([]*models.ConversionJob, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var jobs []*models.ConversionJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status.
func (r *jobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.ConversionJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Acquire leases the oldest pending job. The claim is a single conditional
// UPDATE per candidate, so it is atomic on every supported backend without
// holding a read transaction open (SQLite cannot upgrade a WAL read snapshot
// to a write once another writer has committed).
func (r *jobRepo) Acquire(ctx context.Context, workerID string) (*models.ConversionJob, error) {
	var candidates []models.ULID
	err := r.db.WithContext(ctx).Model(&models.ConversionJob{}).
		Where("status = ?", models.JobStatusPending).
		Order("created_at ASC, id ASC").
		Limit(acquireBatch).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, fmt.Errorf("finding pending jobs: %w", err)
	}

	for _, id := range candidates {
		now := r.now()
		token := uuid.NewString()

		result := r.db.WithContext(ctx).Model(&models.ConversionJob{}).
			Where("id = ? AND status = ?", id, models.JobStatusPending).
			Updates(map[string]any{
				"status":           models.JobStatusRunning,
				"locked_by":        workerID,
				"lease_token":      token,
				"locked_at":        now,
				"last_progress_at": now,
				"started_at":       now,
				"attempt_count":    gorm.Expr("attempt_count + 1"),
			})
		if result.Error != nil {
			return nil, fmt.Errorf("acquiring job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// Another worker claimed it first.
			continue
		}

		job, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil || job.LeaseToken != token {
			// Revoked between claim and read (cancelled); try the next one.
			continue
		}
		return job, nil
	}

	return nil, nil
}

// leased scopes a query to the row as leased by job's current lease.
func (r *jobRepo) leased(ctx context.Context, job *models.ConversionJob) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.ConversionJob{}).
		Where("id = ? AND lease_token = ? AND status = ?", job.ID, job.LeaseToken, models.JobStatusRunning)
}

// UpdateProgress records a progress report.
func (r *jobRepo) UpdateProgress(ctx context.Context, job *models.ConversionJob, percent int) error {
	percent = max(0, min(percent, 100))
	now := r.now()

	result := r.leased(ctx, job).Updates(map[string]any{
		"progress":         gorm.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", percent, percent),
		"last_progress_at": now,
	})
	if result.Error != nil {
		return fmt.Errorf("updating job progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrLeaseLost
	}

	if percent > job.Progress {
		job.Progress = percent
	}
	job.LastProgressAt = &now
	return nil
}

// finish applies a terminal transition to a leased job.
func (r *jobRepo) finish(ctx context.Context, job *models.ConversionJob, status models.JobStatus, fields map[string]any) error {
	now := r.now()
	fields["status"] = status
	fields["completed_at"] = now
	fields["locked_by"] = ""
	fields["lease_token"] = ""
	fields["locked_at"] = nil
	var durationMs int64
	if job.StartedAt != nil {
		durationMs = now.Sub(*job.StartedAt).Milliseconds()
		fields["duration_ms"] = durationMs
	}

	result := r.leased(ctx, job).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("marking job %s: %w", status, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrLeaseLost
	}

	job.Status = status
	job.CompletedAt = &now
	job.DurationMs = durationMs
	job.LockedBy = ""
	job.LeaseToken = ""
	job.LockedAt = nil
	return nil
}

// Complete marks a leased job completed.
func (r *jobRepo) Complete(ctx context.Context, job *models.ConversionJob, result *models.ConversionResult) error {
	err := r.finish(ctx, job, models.JobStatusCompleted, map[string]any{
		"progress":        100,
		"error_kind":      "",
		"last_error":      "",
		"output_id":       result.OutputID,
		"output_path":     result.OutputPath,
		"output_filename": result.Filename,
	})
	if err != nil {
		return err
	}
	job.Progress = 100
	job.OutputID = result.OutputID
	job.OutputPath = result.OutputPath
	job.OutputFilename = result.Filename
	return nil
}

// Fail marks a leased job permanently failed.
func (r *jobRepo) Fail(ctx context.Context, job *models.ConversionJob, kind, message string) error {
	message = storedError(message)
	err := r.finish(ctx, job, models.JobStatusFailed, map[string]any{
		"error_kind": kind,
		"last_error": message,
	})
	if err != nil {
		return err
	}
	job.ErrorKind = kind
	job.LastError = message
	return nil
}

// Release returns a leased job to the pending pool.
func (r *jobRepo) Release(ctx context.Context, job *models.ConversionJob) error {
	result := r.leased(ctx, job).Updates(map[string]any{
		"status":      models.JobStatusPending,
		"locked_by":   "",
		"lease_token": "",
		"locked_at":   nil,
	})
	if result.Error != nil {
		return fmt.Errorf("releasing job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrLeaseLost
	}
	job.Status = models.JobStatusPending
	job.LeaseToken = ""
	job.LockedBy = ""
	job.LockedAt = nil
	return nil
}

// FindStalled returns running jobs with no progress since cutoff.
func (r *jobRepo) FindStalled(ctx context.Context, cutoff time.Time) ([]*models.ConversionJob, error) {
	var jobs []*models.ConversionJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_progress_at < ?", models.JobStatusRunning, cutoff.UTC()).
		Order("last_progress_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("finding stalled jobs: %w", err)
	}
	return jobs, nil
}

// RequeueStalled revokes a stalled job's lease.
func (r *jobRepo) RequeueStalled(ctx context.Context, job *models.ConversionJob, maxStalls int, message string) (models.JobStatus, error) {
	stalls := job.StallCount + 1

	if stalls > maxStalls {
		err := r.finish(ctx, job, models.JobStatusFailed, map[string]any{
			"stall_count": stalls,
			"error_kind":  "stall_timeout",
			"last_error":  message,
		})
		if err != nil {
			return "", err
		}
		job.StallCount = stalls
		job.ErrorKind = "stall_timeout"
		job.LastError = message
		return models.JobStatusFailed, nil
	}

	result := r.leased(ctx, job).Updates(map[string]any{
		"status":      models.JobStatusPending,
		"stall_count": stalls,
		"locked_by":   "",
		"lease_token": "",
		"locked_at":   nil,
		"last_error":  message,
	})
	if result.Error != nil {
		return "", fmt.Errorf("requeueing stalled job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", models.ErrLeaseLost
	}

	job.Status = models.JobStatusPending
	job.StallCount = stalls
	job.LeaseToken = ""
	job.LockedBy = ""
	job.LockedAt = nil
	job.LastError = message
	return models.JobStatusPending, nil
}

// Cancel moves a pending or running job to cancelled.
func (r *jobRepo) Cancel(ctx context.Context, id models.ULID) (*models.ConversionJob, error) {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	if job.IsFinished() {
		return job, models.ErrJobFinished
	}

	now := r.now()
	result := r.db.WithContext(ctx).Model(&models.ConversionJob{}).
		Where("id = ? AND status = ? AND lease_token = ?", job.ID, job.Status, job.LeaseToken).
		Updates(map[string]any{
			"status":       models.JobStatusCancelled,
			"completed_at": now,
			"error_kind":   "cancelled",
			"last_error":   "cancelled by request",
			"locked_by":    "",
			"lease_token":  "",
			"locked_at":    nil,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("cancelling job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// The job moved underneath us; report its current state.
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current != nil && current.IsFinished() {
			return current, models.ErrJobFinished
		}
		return nil, fmt.Errorf("cancelling job: concurrent update")
	}

	return job, nil
}

// DeleteFinishedBefore permanently removes old terminal jobs.
func (r *jobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("status IN ? AND completed_at < ?",
			[]models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
			before.UTC()).
		Delete(&models.ConversionJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure jobRepo implements ConversionJobRepository.
var _ ConversionJobRepository = (*jobRepo)(nil)
