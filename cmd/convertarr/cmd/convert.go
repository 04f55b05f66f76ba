package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/pkg/format"
)

// convertFlags holds the conversion option flags.
type convertFlags struct {
	videoCodec   string
	audioCodec   string
	videoBitrate string
	audioBitrate string
	width        int
	height       int
	rotation     int
	start        float64
	duration     float64
	fps          string
	quality      int
	preset       string
}

var convertOpts convertFlags

var convertCmd = &cobra.Command{
	Use:   "convert <source-id> <format>",
	Short: "Convert an uploaded file without queueing it",
	Long: `Convert one file from the upload directory and wait for it to finish.

The source id is the file name up to its first dot. The converted file is
written to the output directory under a new id.

  convertarr convert 3f2a9c song.mp3
  convertarr convert 3f2a9c mp4 --width 1280 --video-bitrate 2M`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	f := convertCmd.Flags()
	f.StringVar(&convertOpts.videoCodec, "video-codec", "", "Video codec (e.g. libx264, copy)")
	f.StringVar(&convertOpts.audioCodec, "audio-codec", "", "Audio codec (e.g. aac, libmp3lame)")
	f.StringVar(&convertOpts.videoBitrate, "video-bitrate", "", "Video bitrate (e.g. 2M, 2500k)")
	f.StringVar(&convertOpts.audioBitrate, "audio-bitrate", "", "Audio bitrate (e.g. 192k)")
	f.IntVar(&convertOpts.width, "width", 0, "Output width in pixels")
	f.IntVar(&convertOpts.height, "height", 0, "Output height in pixels")
	f.IntVar(&convertOpts.rotation, "rotation", 0, "Rotate by 90, 180 or 270 degrees")
	f.Float64Var(&convertOpts.start, "start", 0, "Start offset in seconds")
	f.Float64Var(&convertOpts.duration, "duration", 0, "Duration in seconds")
	f.StringVar(&convertOpts.fps, "fps", "", "Output frame rate")
	f.IntVar(&convertOpts.quality, "quality", 0, "CRF quality for x264/x265")
	f.StringVar(&convertOpts.preset, "preset", "", "Encoder preset")
}

func convertOptions(cmd *cobra.Command) models.ConversionOptions {
	opts := models.ConversionOptions{
		VideoCodec:   convertOpts.videoCodec,
		AudioCodec:   convertOpts.audioCodec,
		VideoBitrate: convertOpts.videoBitrate,
		AudioBitrate: convertOpts.audioBitrate,
		Width:        convertOpts.width,
		Height:       convertOpts.height,
		Rotation:     convertOpts.rotation,
		FPS:          convertOpts.fps,
		Preset:       convertOpts.preset,
	}
	if cmd.Flags().Changed("start") {
		opts.StartTime = &convertOpts.start
	}
	if cmd.Flags().Changed("duration") {
		opts.Duration = &convertOpts.duration
	}
	if cmd.Flags().Changed("quality") {
		opts.Quality = &convertOpts.quality
	}
	return opts
}

func runConvert(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	last := -1
	onProgress := func(percent int) {
		if percent == last {
			return
		}
		last = percent
		fmt.Fprintf(out, "\r%s", format.ProgressBar(percent, 40))
	}

	start := time.Now()
	result, err := eng.orchestrator.Convert(ctx, conversion.Request{
		SourceID:     args[0],
		OutputFormat: args[1],
		Options:      convertOptions(cmd),
	}, onProgress)
	if last >= 0 {
		fmt.Fprintln(out)
	}
	if err != nil {
		return fmt.Errorf("converting %s: %w", args[0], err)
	}

	fmt.Fprintf(out, "Converted %s in %s\n", args[0], time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "  Output:   %s\n", result.OutputPath)
	fmt.Fprintf(out, "  Duration: %s\n", format.MediaDuration(result.Metadata.Duration))
	if info, err := os.Stat(result.OutputPath); err == nil {
		fmt.Fprintf(out, "  Size:     %s\n", format.Bytes(info.Size()))
	}
	if result.Stats.PeakRSSBytes > 0 {
		fmt.Fprintf(out, "  Peak RSS: %s\n", format.Bytes(int64(result.Stats.PeakRSSBytes)))
	}
	return nil
}
