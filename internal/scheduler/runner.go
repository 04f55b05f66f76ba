// Package scheduler runs queued conversions: a fixed pool of workers leasing
// jobs from the repository, a stall sweeper that reclaims jobs whose progress
// stopped, and cron-driven maintenance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/metrics"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/repository"
)

// ErrShuttingDown is the cancellation cause for jobs interrupted by Stop.
var ErrShuttingDown = errors.New("runner shutting down")

// Runner manages a pool of workers that execute jobs.
type Runner struct {
	mu sync.RWMutex

	jobRepo  repository.ConversionJobRepository
	executor *Executor
	logger   *slog.Logger

	// Configuration
	workerCount   int
	pollInterval  time.Duration
	lockDuration  time.Duration
	stallInterval time.Duration
	maxStalls     int
	workerID      string

	// In-flight jobs leased by this process.
	inflight map[models.ULID]context.CancelCauseFunc
	wake     chan struct{}

	// Running state
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers.
	// Default: 3
	WorkerCount int

	// PollInterval is how often idle workers poll for jobs.
	// Default: 1 second
	PollInterval time.Duration

	// LockDuration is how long a leased job may go without a progress
	// update before it is considered stalled.
	// Default: 5 minutes
	LockDuration time.Duration

	// StallInterval is how often the stall check runs.
	// Default: 60 seconds
	StallInterval time.Duration

	// MaxStalls is how many stall requeues a job gets before it fails.
	// Nil keeps the default; a pointer to 0 fails a job on its first stall.
	// Default: 2
	MaxStalls *int

	// WorkerID identifies this process in job leases.
	// Default: hostname-pid
	WorkerID string
}

const defaultMaxStalls = 2

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "convertarr"
	}
	maxStalls := defaultMaxStalls
	return RunnerConfig{
		WorkerCount:   3,
		PollInterval:  time.Second,
		LockDuration:  5 * time.Minute,
		StallInterval: time.Minute,
		MaxStalls:     &maxStalls,
		WorkerID:      fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// NewRunner creates a new job runner.
func NewRunner(jobRepo repository.ConversionJobRepository, executor *Executor) *Runner {
	config := DefaultRunnerConfig()
	return &Runner{
		jobRepo:       jobRepo,
		executor:      executor,
		logger:        slog.Default(),
		workerCount:   config.WorkerCount,
		pollInterval:  config.PollInterval,
		lockDuration:  config.LockDuration,
		stallInterval: config.StallInterval,
		maxStalls:     *config.MaxStalls,
		workerID:      config.WorkerID,
		inflight:      make(map[models.ULID]context.CancelCauseFunc),
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithConfig applies configuration to the runner. Zero values and a nil
// MaxStalls keep defaults.
func (r *Runner) WithConfig(config RunnerConfig) *Runner {
	if config.WorkerCount > 0 {
		r.workerCount = config.WorkerCount
	}
	if config.PollInterval > 0 {
		r.pollInterval = config.PollInterval
	}
	if config.LockDuration > 0 {
		r.lockDuration = config.LockDuration
	}
	if config.StallInterval > 0 {
		r.stallInterval = config.StallInterval
	}
	if config.MaxStalls != nil && *config.MaxStalls >= 0 {
		r.maxStalls = *config.MaxStalls
	}
	if config.WorkerID != "" {
		r.workerID = config.WorkerID
	}
	return r
}

// Start begins the runner with the configured number of workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}

	r.ctx, r.cancel = context.WithCancelCause(ctx)
	r.wake = make(chan struct{}, r.workerCount)

	for i := 0; i < r.workerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(r.ctx, workerID)
	}

	r.wg.Add(1)
	go r.stallLoop(r.ctx)

	r.logger.Info("runner started",
		slog.Int("workers", r.workerCount),
		slog.Duration("poll_interval", r.pollInterval),
		slog.Duration("lock_duration", r.lockDuration),
		slog.Duration("stall_interval", r.stallInterval),
		slog.Int("max_stalls", r.maxStalls),
		slog.String("worker_id", r.workerID))

	return nil
}

// Stop interrupts in-flight conversions, releases their jobs back to the
// queue and waits for workers to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel(ErrShuttingDown)
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("runner stopped")
}

// Notify wakes an idle worker, typically after a job is enqueued.
func (r *Runner) Notify() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.wake == nil {
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Cancel interrupts a job running in this process. It reports whether the
// job was found.
func (r *Runner) Cancel(jobID models.ULID) bool {
	return r.interrupt(jobID, conversion.ErrCancelled)
}

func (r *Runner) interrupt(jobID models.ULID, cause error) bool {
	r.mu.RLock()
	cancel, ok := r.inflight[jobID]
	r.mu.RUnlock()
	if ok {
		cancel(cause)
	}
	return ok
}

// worker is the main worker loop.
func (r *Runner) worker(ctx context.Context, workerID string) {
	defer r.wg.Done()

	r.logger.Debug("worker started", slog.String("worker_id", workerID))

	for {
		if ctx.Err() != nil {
			r.logger.Debug("worker stopping", slog.String("worker_id", workerID))
			return
		}

		err := r.processJob(ctx, workerID)
		if err == nil {
			continue
		}
		if !errors.Is(err, errNoJobs) && ctx.Err() == nil {
			r.logger.Error("error processing job",
				slog.String("worker_id", workerID),
				slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-time.After(r.pollInterval):
		}
	}
}

var errNoJobs = errors.New("no jobs available")

// processJob acquires and executes a single job.
func (r *Runner) processJob(ctx context.Context, workerID string) error {
	job, err := r.jobRepo.Acquire(ctx, workerID)
	if err != nil {
		return fmt.Errorf("acquiring job: %w", err)
	}
	if job == nil {
		return errNoJobs
	}

	r.logger.Debug("acquired job",
		slog.String("worker_id", workerID),
		slog.String("job_id", job.ID.String()))

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r.mu.Lock()
	r.inflight[job.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, job.ID)
		r.mu.Unlock()
	}()

	if err := r.executor.Execute(jobCtx, job); err != nil {
		return fmt.Errorf("executing job: %w", err)
	}
	return nil
}

// stallLoop periodically reclaims jobs whose progress stopped.
func (r *Runner) stallLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.stallInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkStalled(ctx)
		}
	}
}

// checkStalled requeues (or fails) every running job without a progress
// update in the last lock duration. Jobs executing in this process are
// killed first so a retry never runs alongside the stalled engine.
func (r *Runner) checkStalled(ctx context.Context) {
	cutoff := time.Now().Add(-r.lockDuration)
	stalled, err := r.jobRepo.FindStalled(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to find stalled jobs", slog.Any("error", err))
		return
	}

	for _, job := range stalled {
		logger := r.logger.With(slog.String("job_id", job.ID.String()), slog.String("locked_by", job.LockedBy))

		killed := r.interrupt(job.ID, conversion.ErrStallTimeout)

		msg := fmt.Sprintf("no progress for %s (stall %d)", r.lockDuration, job.StallCount+1)
		status, err := r.jobRepo.RequeueStalled(ctx, job, r.maxStalls, msg)
		if err != nil {
			if errors.Is(err, models.ErrLeaseLost) {
				// Finished or cancelled since it was read.
				continue
			}
			logger.Error("failed to requeue stalled job", slog.Any("error", err))
			continue
		}

		switch status {
		case models.JobStatusFailed:
			metrics.JobStallsTotal.WithLabelValues("failed").Inc()
			metrics.JobsFinishedTotal.WithLabelValues(string(models.JobStatusFailed), conversion.KindStallTimeout).Inc()
			logger.Warn("stalled job failed", slog.Int("stalls", job.StallCount), slog.Bool("killed", killed))
		default:
			metrics.JobStallsTotal.WithLabelValues("requeued").Inc()
			logger.Warn("stalled job requeued", slog.Int("stalls", job.StallCount), slog.Bool("killed", killed))
			r.Notify()
		}
	}
}

// GetStatus returns the current runner status.
func (r *Runner) GetStatus(ctx context.Context) RunnerStatus {
	r.mu.RLock()
	running := r.ctx != nil && r.ctx.Err() == nil
	inflight := make([]string, 0, len(r.inflight))
	for id := range r.inflight {
		inflight = append(inflight, id.String())
	}
	r.mu.RUnlock()
	slices.Sort(inflight)

	status := RunnerStatus{
		Running:       running,
		WorkerCount:   r.workerCount,
		WorkerID:      r.workerID,
		InFlight:      inflight,
		PollInterval:  r.pollInterval,
		LockDuration:  r.lockDuration,
		StallInterval: r.stallInterval,
		MaxStalls:     r.maxStalls,
	}

	counts, err := r.jobRepo.CountByStatus(ctx)
	if err != nil {
		r.logger.Warn("failed to count jobs", slog.Any("error", err))
		return status
	}
	status.PendingJobs = counts[models.JobStatusPending]
	status.RunningJobs = counts[models.JobStatusRunning]
	return status
}

// RunnerStatus represents the current state of the runner.
type RunnerStatus struct {
	Running       bool          `json:"running"`
	WorkerCount   int           `json:"worker_count"`
	WorkerID      string        `json:"worker_id"`
	InFlight      []string      `json:"in_flight"`
	PendingJobs   int64         `json:"pending_jobs"`
	RunningJobs   int64         `json:"running_jobs"`
	PollInterval  time.Duration `json:"poll_interval"`
	LockDuration  time.Duration `json:"lock_duration"`
	StallInterval time.Duration `json:"stall_interval"`
	MaxStalls     int           `json:"max_stalls"`
}
