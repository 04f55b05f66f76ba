package conversion

import (
	"context"
	"errors"
	"fmt"
)

// Conversion failure causes. Errors returned by the Orchestrator wrap at most
// one of these; malformed requests fail with models validation errors and
// anything else classifies as KindInternal.
var (
	ErrSourceNotFound    = errors.New("source file not found")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrMetadataRead      = errors.New("metadata read failure")
	ErrEngineSpawn       = errors.New("engine spawn failure")
	ErrEngineExecution   = errors.New("engine execution failure")
	ErrStallTimeout      = errors.New("stall timeout")
	ErrCancelled         = errors.New("conversion cancelled")
)

// Error kinds persisted on failed jobs.
const (
	KindSourceNotFound    = "source_not_found"
	KindUnsupportedFormat = "unsupported_format"
	KindMetadataRead      = "metadata_read_failure"
	KindEngineSpawn       = "engine_spawn_failure"
	KindEngineExecution   = "engine_execution_failure"
	KindStallTimeout      = "stall_timeout"
	KindCancelled         = "cancelled"
	KindInternal          = "internal"
)

// ExecutionError carries the engine's exit status and diagnostic output.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit code %d", ErrEngineExecution, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", ErrEngineExecution, e.ExitCode, e.Stderr)
}

func (e *ExecutionError) Unwrap() error {
	return ErrEngineExecution
}

// Kind classifies err into one of the persisted error kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceNotFound):
		return KindSourceNotFound
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrMetadataRead):
		return KindMetadataRead
	case errors.Is(err, ErrEngineSpawn):
		return KindEngineSpawn
	case errors.Is(err, ErrStallTimeout):
		return KindStallTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrEngineExecution):
		return KindEngineExecution
	default:
		return KindInternal
	}
}
