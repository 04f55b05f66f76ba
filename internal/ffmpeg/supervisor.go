package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSpawn is returned when the engine process cannot be started.
var ErrSpawn = errors.New("ffmpeg spawn failed")

// maxStderrBytes bounds the diagnostic text kept for error reports. Output
// past the limit is dropped and the report is marked as truncated.
const maxStderrBytes = 4 << 20

const truncatedMarker = "\n[stderr truncated]"

// ExitError is returned when ffmpeg exits with a non-zero status.
type ExitError struct {
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, e.Stderr)
}

// State is the lifecycle state of an Execution.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateSpawnError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSpawnError:
		return "spawn_error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSpawnError
}

// Supervisor spawns ffmpeg and turns its stderr into progress events.
type Supervisor struct {
	ffmpegPath     string
	sampleInterval time.Duration
	waitDelay      time.Duration
	logger         *slog.Logger
}

// NewSupervisor creates a supervisor for the given ffmpeg binary.
func NewSupervisor(ffmpegPath string, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		ffmpegPath:     ffmpegPath,
		sampleInterval: time.Second,
		waitDelay:      5 * time.Second,
		logger:         logger,
	}
}

// WithSampleInterval sets how often process resource usage is sampled.
func (s *Supervisor) WithSampleInterval(interval time.Duration) *Supervisor {
	if interval > 0 {
		s.sampleInterval = interval
	}
	return s
}

// Execution is a single supervised ffmpeg run.
type Execution struct {
	state    atomic.Int32
	progress chan int
	done     chan struct{}
	monitor  *ProcessMonitor

	mu        sync.Mutex
	err       error
	stats     ProcessStats
	stderr    strings.Builder
	truncated bool
}

// Start spawns ffmpeg with args. total is the source duration in seconds used
// for percentage math. Cancelling ctx kills ffmpeg and anything it spawned.
func (s *Supervisor) Start(ctx context.Context, args []string, total float64) (*Execution, error) {
	e := &Execution{
		progress: make(chan int, 1),
		done:     make(chan struct{}),
	}
	e.state.Store(int32(StateStarting))

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.WaitDelay = s.waitDelay
	killProcessGroup(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return e.spawnFailed(err)
	}
	if err := cmd.Start(); err != nil {
		return e.spawnFailed(err)
	}

	s.logger.DebugContext(ctx, "ffmpeg started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("args", strings.Join(args, " ")),
	)

	e.monitor = NewProcessMonitor(cmd.Process.Pid, s.sampleInterval)
	e.monitor.Start(ctx)
	e.state.Store(int32(StateRunning))

	go func() {
		tracker := &progressTracker{total: total}
		scanner := newProgressScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			e.appendStderr(line)
			if p, ok := tracker.observe(line); ok {
				e.publish(p)
			}
		}

		// stderr is drained; Wait closes the pipe.
		waitErr := cmd.Wait()
		e.monitor.Stop()
		e.finish(ctx, waitErr, cmd)
	}()

	return e, nil
}

func (e *Execution) spawnFailed(err error) (*Execution, error) {
	e.state.Store(int32(StateSpawnError))
	e.err = fmt.Errorf("%w: %w", ErrSpawn, err)
	close(e.progress)
	close(e.done)
	return nil, e.err
}

func (e *Execution) finish(ctx context.Context, waitErr error, cmd *exec.Cmd) {
	e.mu.Lock()
	e.stats = e.monitor.Stats()
	switch {
	case waitErr == nil:
		e.mu.Unlock()
		e.publish(100)
		e.state.Store(int32(StateSucceeded))
	case ctx.Err() != nil:
		e.err = fmt.Errorf("ffmpeg interrupted: %w", context.Cause(ctx))
		e.mu.Unlock()
		e.state.Store(int32(StateFailed))
	default:
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		stderr := e.stderr.String()
		if e.truncated {
			stderr += truncatedMarker
		}
		e.err = &ExitError{ExitCode: exitCode, Stderr: stderr}
		e.mu.Unlock()
		e.state.Store(int32(StateFailed))
	}

	close(e.progress)
	close(e.done)
}

// publish offers p on the progress channel, replacing an unread value.
func (e *Execution) publish(p int) {
	for {
		select {
		case e.progress <- p:
			return
		default:
		}
		select {
		case <-e.progress:
		default:
		}
	}
}

// appendStderr accumulates every stderr line, progress included, up to
// maxStderrBytes.
func (e *Execution) appendStderr(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.truncated {
		return
	}
	need := len(line)
	if e.stderr.Len() > 0 {
		need++
	}
	if e.stderr.Len()+need > maxStderrBytes {
		e.truncated = true
		return
	}
	if e.stderr.Len() > 0 {
		e.stderr.WriteByte('\n')
	}
	e.stderr.WriteString(line)
}

// Progress delivers increasing percentages. A slow reader only sees the most
// recent value. The channel closes after the process exits; a successful run
// always ends with 100.
func (e *Execution) Progress() <-chan int {
	return e.progress
}

// Done is closed once the process has exited and been reaped.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// State returns the current lifecycle state.
func (e *Execution) State() State {
	return State(e.state.Load())
}

// Wait blocks until the process exits and returns its outcome.
func (e *Execution) Wait() error {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Stats returns resource usage. Final values are available after Done.
func (e *Execution) Stats() ProcessStats {
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.stats
	default:
	}
	if e.monitor == nil {
		return ProcessStats{}
	}
	return e.monitor.Stats()
}

// Run starts ffmpeg, forwards progress to onProgress and waits for exit.
func (s *Supervisor) Run(ctx context.Context, args []string, total float64, onProgress func(int)) (ProcessStats, error) {
	run, err := s.Start(ctx, args, total)
	if err != nil {
		return ProcessStats{}, err
	}
	for p := range run.Progress() {
		if onProgress != nil {
			onProgress(p)
		}
	}
	err = run.Wait()
	return run.Stats(), err
}
