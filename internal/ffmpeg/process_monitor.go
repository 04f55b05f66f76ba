package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage of an engine process.
type ProcessStats struct {
	PID            int           `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	PeakCPUPercent float64       `json:"peak_cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	PeakRSSBytes   uint64        `json:"peak_rss_bytes"`
	Samples        int           `json:"samples"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// ProcessMonitor samples a running process until stopped.
type ProcessMonitor struct {
	pid      int
	interval time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid sampling at interval.
func NewProcessMonitor(pid int, interval time.Duration) *ProcessMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &ProcessMonitor{
		pid:      pid,
		interval: interval,
		stats: ProcessStats{
			PID:       pid,
			StartedAt: time.Now(),
		},
	}
}

// Start begins sampling in the background.
func (pm *ProcessMonitor) Start(ctx context.Context) {
	ctx, pm.cancel = context.WithCancel(ctx)

	proc, err := process.NewProcessWithContext(ctx, int32(pm.pid)) //nolint:gosec // pids fit in int32
	if err != nil {
		// Process already gone; nothing to sample.
		return
	}

	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()
		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()

		pm.sample(ctx, proc)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.sample(ctx, proc)
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler to exit.
func (pm *ProcessMonitor) Stop() {
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.wg.Wait()
}

// Stats returns a copy of the latest statistics.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	stats := pm.stats
	stats.Duration = time.Since(stats.StartedAt)
	return stats
}

func (pm *ProcessMonitor) sample(ctx context.Context, proc *process.Process) {
	mem, memErr := proc.MemoryInfoWithContext(ctx)
	cpuPercent, cpuErr := proc.CPUPercentWithContext(ctx)
	if memErr != nil && cpuErr != nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.Samples++
	if memErr == nil && mem != nil {
		pm.stats.MemoryRSSBytes = mem.RSS
		pm.stats.PeakRSSBytes = max(pm.stats.PeakRSSBytes, mem.RSS)
	}
	if cpuErr == nil {
		pm.stats.CPUPercent = cpuPercent
		pm.stats.PeakCPUPercent = max(pm.stats.PeakCPUPercent, cpuPercent)
	}
}
