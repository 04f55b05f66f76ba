package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/convertarr/internal/repository"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// cronParser accepts standard 5-field expressions, an optional leading
// seconds field and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// FileCleaner removes stale files from the managed directories.
type FileCleaner interface {
	CleanupOlderThan(kind storage.Kind, age time.Duration) (int, error)
}

// MaintenanceResult summarises one maintenance pass.
type MaintenanceResult struct {
	JobsDeleted    int64 `json:"jobs_deleted"`
	UploadsRemoved int   `json:"uploads_removed"`
	OutputsRemoved int   `json:"outputs_removed"`
}

// Maintenance prunes finished jobs and expired files on a cron schedule.
type Maintenance struct {
	mu sync.Mutex

	jobRepo  repository.ConversionJobRepository
	files    FileCleaner
	logger   *slog.Logger
	schedule string

	// Retention is how long finished jobs are kept; zero keeps them forever.
	retention time.Duration
	// maxFileAge is how long uploads and outputs are kept; zero keeps them forever.
	maxFileAge time.Duration

	cron *cron.Cron
}

// MaintenanceConfig holds configuration for maintenance.
type MaintenanceConfig struct {
	// Schedule is a cron expression.
	// Default: @hourly
	Schedule   string
	Retention  time.Duration
	MaxFileAge time.Duration
}

// NewMaintenance creates a maintenance scheduler.
func NewMaintenance(jobRepo repository.ConversionJobRepository, files FileCleaner, config MaintenanceConfig) *Maintenance {
	schedule := config.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Maintenance{
		jobRepo:    jobRepo,
		files:      files,
		logger:     slog.Default(),
		schedule:   schedule,
		retention:  config.Retention,
		maxFileAge: config.MaxFileAge,
	}
}

// WithLogger sets a custom logger.
func (m *Maintenance) WithLogger(logger *slog.Logger) *Maintenance {
	m.logger = logger
	return m
}

// Start registers the cleanup pass with cron and starts it.
func (m *Maintenance) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return fmt.Errorf("maintenance already started")
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	_, err := c.AddFunc(m.schedule, func() {
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Error("maintenance failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c

	next, _ := NextRun(m.schedule, time.Now())
	m.logger.Info("maintenance started",
		slog.String("schedule", m.schedule),
		slog.Duration("retention", m.retention),
		slog.Duration("max_file_age", m.maxFileAge),
		slog.Time("next_run", next))
	return nil
}

// Stop stops the cron scheduler and waits for a running pass to finish.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.logger.Info("maintenance stopped")
}

// RunOnce performs a single maintenance pass.
func (m *Maintenance) RunOnce(ctx context.Context) (MaintenanceResult, error) {
	var result MaintenanceResult

	if m.retention > 0 {
		deleted, err := m.jobRepo.DeleteFinishedBefore(ctx, time.Now().Add(-m.retention))
		if err != nil {
			return result, err
		}
		result.JobsDeleted = deleted
	}

	if m.maxFileAge > 0 && m.files != nil {
		uploads, err := m.files.CleanupOlderThan(storage.KindUploads, m.maxFileAge)
		if err != nil {
			return result, fmt.Errorf("cleaning uploads: %w", err)
		}
		outputs, err := m.files.CleanupOlderThan(storage.KindOutputs, m.maxFileAge)
		if err != nil {
			return result, fmt.Errorf("cleaning outputs: %w", err)
		}
		result.UploadsRemoved = uploads
		result.OutputsRemoved = outputs
	}

	if result != (MaintenanceResult{}) {
		m.logger.Info("maintenance completed",
			slog.Int64("jobs_deleted", result.JobsDeleted),
			slog.Int("uploads_removed", result.UploadsRemoved),
			slog.Int("outputs_removed", result.OutputsRemoved))
	}
	return result, nil
}

// ValidateCron validates a cron expression.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(from), nil
}
