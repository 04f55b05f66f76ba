package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmylchreest/convertarr/internal/ffmpeg"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// Thumbnail defaults.
const (
	DefaultThumbnailTimestamp = 1.0
	DefaultThumbnailWidth     = 320
	DefaultThumbnailHeight    = 240
	DefaultThumbnailFormat    = "jpg"
)

var thumbnailFormats = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"webp": true,
	"bmp":  true,
}

// ThumbnailRequest is a single frame to grab from an uploaded video.
type ThumbnailRequest struct {
	SourceID string
	// Timestamp is the source position in seconds. Nil means
	// DefaultThumbnailTimestamp.
	Timestamp *float64
	// Width and Height bound the frame. Both zero gives 320x240; one zero
	// keeps the source aspect ratio.
	Width  int
	Height int
	// Format is the image extension; jpg when empty.
	Format string
}

func (r ThumbnailRequest) validate() (format string, err error) {
	if strings.TrimSpace(r.SourceID) == "" {
		return "", models.ErrSourceIDRequired
	}
	format = strings.ToLower(strings.TrimSpace(r.Format))
	if format == "" {
		format = DefaultThumbnailFormat
	}
	if !thumbnailFormats[format] {
		return "", fmt.Errorf("%w: %q is not an image format", ErrUnsupportedFormat, format)
	}
	if r.Timestamp != nil && *r.Timestamp < 0 {
		return "", models.ErrValidation{Field: "timestamp", Message: "must not be negative"}
	}
	if r.Width < 0 || r.Height < 0 {
		return "", models.ErrValidation{Field: "size", Message: "width and height must not be negative"}
	}
	return format, nil
}

// scale renders the scale filter for the requested bounds.
func (r ThumbnailRequest) scale() string {
	w, h := r.Width, r.Height
	switch {
	case w == 0 && h == 0:
		w, h = DefaultThumbnailWidth, DefaultThumbnailHeight
	case w == 0:
		w = -2
	case h == 0:
		h = -2
	}
	return "scale=" + strconv.Itoa(w) + ":" + strconv.Itoa(h)
}

// Thumbnail grabs one frame of an uploaded video as an image in the outputs
// directory. A timestamp past the end of the source falls back to the first
// frame.
func (o *Orchestrator) Thumbnail(ctx context.Context, req ThumbnailRequest) (result *Result, err error) {
	logger := o.logger.With(slog.String("source_id", req.SourceID))

	format, err := req.validate()
	if err != nil {
		return nil, err
	}

	source, err := o.locate(logger, req.SourceID)
	if err != nil {
		return nil, err
	}

	outputID := o.newID()
	filename := outputID + "." + format
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
	if !meta.HasVideo() {
		return nil, fmt.Errorf("%w: source has no video stream", ErrUnsupportedFormat)
	}

	timestamp := DefaultThumbnailTimestamp
	if req.Timestamp != nil {
		timestamp = *req.Timestamp
	}
	if meta.Duration > 0 && timestamp >= meta.Duration {
		timestamp = 0
	}

	args := ffmpeg.NewCommandBuilder().
		HideBanner().
		NoStdin().
		Overwrite().
		LogLevel(o.args.LogLevel).
		InputArgs(o.args.InputArgs...).
		SeekInput(timestamp).
		Input(source).
		Frames(1).
		VideoFilters(req.scale()).
		Output(outputPath).
		Build()

	logger.Debug("grabbing thumbnail",
		slog.String("output", outputPath),
		slog.Float64("timestamp", timestamp),
	)

	stats, err := o.engine.Run(ctx, args, 0, nil)
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
		Metadata:   meta,
		Stats:      stats,
	}, nil
}
