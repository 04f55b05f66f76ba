package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/pkg/format"
)

var (
	thumbnailAt     float64
	thumbnailSize   string
	thumbnailFormat string
)

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail <source-id>",
	Short: "Grab a single frame of an uploaded video",
	Long: `Grab one frame of a video in the upload directory as an image in the
output directory.

A size with one side left out keeps the aspect ratio of the source.

  convertarr thumbnail 3f2a9c
  convertarr thumbnail 3f2a9c --at 42.5 --size 640x --format png`,
	Args: cobra.ExactArgs(1),
	RunE: runThumbnail,
}

func init() {
	rootCmd.AddCommand(thumbnailCmd)

	f := thumbnailCmd.Flags()
	f.Float64Var(&thumbnailAt, "at", conversion.DefaultThumbnailTimestamp, "Source position in seconds")
	f.StringVar(&thumbnailSize, "size", fmt.Sprintf("%dx%d", conversion.DefaultThumbnailWidth, conversion.DefaultThumbnailHeight), "Frame size as WIDTHxHEIGHT")
	f.StringVar(&thumbnailFormat, "format", conversion.DefaultThumbnailFormat, "Image format (jpg, png, webp, bmp)")
}

// parseSize reads "WIDTHxHEIGHT"; either side may be empty.
func parseSize(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", s)
	}
	if w != "" {
		if width, err = strconv.Atoi(w); err != nil || width < 0 {
			return 0, 0, fmt.Errorf("invalid width in size %q", s)
		}
	}
	if h != "" {
		if height, err = strconv.Atoi(h); err != nil || height < 0 {
			return 0, 0, fmt.Errorf("invalid height in size %q", s)
		}
	}
	if width == 0 && height == 0 {
		return 0, 0, fmt.Errorf("invalid size %q: set a width or a height", s)
	}
	return width, height, nil
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	width, height, err := parseSize(thumbnailSize)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	eng, err := newEngine(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	at := thumbnailAt
	result, err := eng.orchestrator.Thumbnail(ctx, conversion.ThumbnailRequest{
		SourceID:  args[0],
		Timestamp: &at,
		Width:     width,
		Height:    height,
		Format:    thumbnailFormat,
	})
	if err != nil {
		return fmt.Errorf("creating thumbnail of %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Thumbnail of %s\n", args[0])
	fmt.Fprintf(out, "  Output: %s\n", result.OutputPath)
	if info, err := os.Stat(result.OutputPath); err == nil {
		fmt.Fprintf(out, "  Size:   %s\n", format.Bytes(info.Size()))
	}
	return nil
}
