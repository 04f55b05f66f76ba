// Package conversion turns a conversion request into an ffmpeg invocation:
// codec/container policy, bitrate normalization, probing, execution and
// cleanup of partial output.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jmylchreest/convertarr/internal/ffmpeg"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/observability"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// FileStore locates sources and manages output files.
type FileStore interface {
	FindByPrefix(kind storage.Kind, id string) ([]string, error)
	ResolvePath(kind storage.Kind, name string) (string, error)
	Remove(path string) error
}

// Prober reads source metadata.
type Prober interface {
	ProbeMetadata(ctx context.Context, path string) (*ffmpeg.SourceMetadata, error)
}

// Engine runs ffmpeg to completion, reporting progress.
type Engine interface {
	Run(ctx context.Context, args []string, total float64, onProgress func(int)) (ffmpeg.ProcessStats, error)
}

// Request is one conversion to perform.
type Request struct {
	SourceID     string
	OutputFormat string
	Options      models.ConversionOptions
}

// Result is a finished conversion.
type Result struct {
	models.ConversionResult
	SourcePath string
	Plan       *Plan
	Metadata   *ffmpeg.SourceMetadata
	Stats      ffmpeg.ProcessStats

	// Sources lists every input of a concatenation, in order.
	Sources []string
}

// Orchestrator composes policy resolution, probing and execution.
type Orchestrator struct {
	files  FileStore
	prober Prober
	engine Engine
	args   EngineArgs
	logger *slog.Logger
	newID  func() string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(files FileStore, prober Prober, engine Engine, args EngineArgs, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		files:  files,
		prober: prober,
		engine: engine,
		args:   args,
		logger: observability.WithComponent(logger, "orchestrator"),
		newID:  uuid.NewString,
	}
}

// Convert runs one conversion. onProgress may be nil. Any partially written
// output is removed when Convert fails.
func (o *Orchestrator) Convert(ctx context.Context, req Request, onProgress func(int)) (result *Result, err error) {
	logger := o.logger.With(slog.String("source_id", req.SourceID))

	source, err := o.locate(logger, req.SourceID)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(strings.TrimSpace(req.OutputFormat))
	outputID := o.newID()
	filename := outputID + "." + format

	// Resolve before probing so unsupported formats fail without spawning anything.
	plan, err := Resolve(format, filename, req.Options)
	if err != nil {
		return nil, err
	}

	outputPath, err := o.files.ResolvePath(storage.KindOutputs, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	defer func() {
		if err != nil {
			o.removePartial(logger, outputPath)
		}
	}()

	meta, err := o.prober.ProbeMetadata(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataRead, err)
	}
	plan.AdaptToSource(meta)

	if err := context.Cause(ctx); err != nil {
		return nil, interrupted(err)
	}

	args := plan.Args(source, outputPath, o.args)
	logger.Debug("starting conversion",
		slog.String("output", outputPath),
		slog.String("container", plan.Container),
		slog.String("video_codec", plan.VideoCodec),
		slog.String("audio_codec", plan.AudioCodec),
		slog.Float64("duration", meta.Duration),
	)

	stats, err := o.engine.Run(ctx, args, meta.Duration, onProgress)
	if err != nil {
		return nil, classifyEngineError(ctx, err)
	}

	return &Result{
		ConversionResult: models.ConversionResult{
			OutputID:     outputID,
			OutputPath:   outputPath,
			Filename:     filename,
			DownloadPath: models.DownloadPath(filename),
		},
		SourcePath: source,
		Plan:       plan,
		Metadata:   meta,
		Stats:      stats,
	}, nil
}

// locate returns the first upload whose name starts with id.
func (o *Orchestrator) locate(logger *slog.Logger, id string) (string, error) {
	sources, err := o.files.FindByPrefix(storage.KindUploads, id)
	if err != nil {
		return "", fmt.Errorf("locating source: %w", err)
	}
	if len(sources) == 0 {
		return "", fmt.Errorf("%w: %q", ErrSourceNotFound, id)
	}
	if len(sources) > 1 {
		logger.Warn("source id matches multiple files, using the first",
			slog.Int("matches", len(sources)),
			slog.String("source", sources[0]),
		)
	}
	return sources[0], nil
}

// removePartial deletes an output left behind by a failed run.
func (o *Orchestrator) removePartial(logger *slog.Logger, path string) {
	if rmErr := o.files.Remove(path); rmErr != nil {
		logger.Debug("failed to remove partial output",
			slog.String("path", path),
			slog.String("error", rmErr.Error()),
		)
	}
}

// classifyEngineError maps supervisor errors onto the conversion taxonomy.
func classifyEngineError(ctx context.Context, err error) error {
	var exitErr *ffmpeg.ExitError
	switch {
	case errors.Is(err, ffmpeg.ErrSpawn):
		return fmt.Errorf("%w: %w", ErrEngineSpawn, err)
	case ctx.Err() != nil:
		return interrupted(context.Cause(ctx))
	case errors.As(err, &exitErr):
		return &ExecutionError{ExitCode: exitErr.ExitCode, Stderr: exitErr.Stderr}
	default:
		return fmt.Errorf("%w: %w", ErrEngineExecution, err)
	}
}

// interrupted keeps stall and cancel causes recognisable, and treats a bare
// context cancellation as a cancel.
func interrupted(cause error) error {
	if errors.Is(cause, ErrStallTimeout) || errors.Is(cause, ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
