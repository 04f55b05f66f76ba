package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/convertarr/internal/ffmpeg"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// ConcatRequest joins uploads end to end without re-encoding.
type ConcatRequest struct {
	SourceIDs []string
	// OutputFormat is the container extension; the first source's extension
	// when empty.
	OutputFormat string
}

func (r ConcatRequest) validate() error {
	if len(r.SourceIDs) < 2 {
		return models.ErrValidation{Field: "source_ids", Message: "at least two sources are required"}
	}
	for i, id := range r.SourceIDs {
		if strings.TrimSpace(id) == "" {
			return models.ErrValidation{Field: "source_ids", Message: fmt.Sprintf("entry %d is empty", i)}
		}
	}
	return nil
}

// concatFormat resolves the output extension and muxer. Stream copy leaves
// codecs alone, so only the container policy is consulted.
func concatFormat(requested, firstSource string) (ext, muxer string, err error) {
	format := strings.ToLower(strings.TrimSpace(requested))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(firstSource)), ".")
	}
	if !formatPattern.MatchString(format) {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	ext = ContainerOf(format)
	c, ok := LookupContainer(ext)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return ext, c.Format, nil
}

// Concat joins uploads in request order into one output using ffmpeg's concat
// demuxer with stream copy. The sources should share codecs and parameters.
// onProgress may be nil; percentages are measured against the summed source
// durations.
func (o *Orchestrator) Concat(ctx context.Context, req ConcatRequest, onProgress func(int)) (result *Result, err error) {
	logger := o.logger.With(slog.Int("sources", len(req.SourceIDs)))

	if err := req.validate(); err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(req.SourceIDs))
	for _, id := range req.SourceIDs {
		source, err := o.locate(logger.With(slog.String("source_id", id)), id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	ext, muxer, err := concatFormat(req.OutputFormat, sources[0])
	if err != nil {
		return nil, err
	}

	outputID := o.newID()
	filename := outputID + "." + ext
	outputPath, err := o.files.ResolvePath(storage.KindOutputs, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	defer func() {
		if err != nil {
			o.removePartial(logger, outputPath)
		}
	}()

	var total float64
	for _, source := range sources {
		meta, err := o.prober.ProbeMetadata(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMetadataRead, filepath.Base(source), err)
		}
		total += meta.Duration
	}

	if err := context.Cause(ctx); err != nil {
		return nil, interrupted(err)
	}

	listPath, err := writeConcatList(sources)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(listPath); rmErr != nil {
			logger.Debug("failed to remove concat list", slog.String("path", listPath), slog.String("error", rmErr.Error()))
		}
	}()

	args := ffmpeg.NewCommandBuilder().
		HideBanner().
		NoStdin().
		Stats().
		Overwrite().
		LogLevel(o.args.LogLevel).
		InputArgs(o.args.InputArgs...).
		InputFormat("concat").
		InputArgs("-safe", "0").
		Input(listPath).
		CopyStreams().
		Format(muxer).
		OutputArgs(o.args.OutputArgs...).
		Output(outputPath).
		Build()

	logger.Debug("starting concatenation",
		slog.String("output", outputPath),
		slog.String("format", muxer),
		slog.Float64("duration", total),
	)

	stats, err := o.engine.Run(ctx, args, total, onProgress)
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
		SourcePath: sources[0],
		Sources:    sources,
		Stats:      stats,
	}, nil
}

// writeConcatList writes the demuxer script to a temporary file.
func writeConcatList(sources []string) (string, error) {
	f, err := os.CreateTemp("", "convertarr-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating concat list: %w", err)
	}
	if _, err := f.WriteString(ffmpeg.ConcatList(sources)); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing concat list: %w", err)
	}
	return f.Name(), nil
}
