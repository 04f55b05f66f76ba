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
	"github.com/jmylchreest/convertarr/pkg/format"
)

var concatFormat string

var concatCmd = &cobra.Command{
	Use:   "concat <source-id> <source-id>...",
	Short: "Join uploaded files end to end without re-encoding",
	Long: `Join files from the upload directory, in the order given, into one output.

Streams are copied, so the sources should share codecs and parameters. The
output container defaults to the extension of the first source.

  convertarr concat 3f2a9c 77b01e
  convertarr concat part1 part2 part3 --format mkv`,
	Args: cobra.MinimumNArgs(2),
	RunE: runConcat,
}

func init() {
	rootCmd.AddCommand(concatCmd)

	concatCmd.Flags().StringVar(&concatFormat, "format", "", "Output container (default: first source's extension)")
}

func runConcat(cmd *cobra.Command, args []string) error {
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
	result, err := eng.orchestrator.Concat(ctx, conversion.ConcatRequest{
		SourceIDs:    args,
		OutputFormat: concatFormat,
	}, onProgress)
	if last >= 0 {
		fmt.Fprintln(out)
	}
	if err != nil {
		return fmt.Errorf("concatenating %d sources: %w", len(args), err)
	}

	fmt.Fprintf(out, "Joined %d sources in %s\n", len(result.Sources), time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "  Output: %s\n", result.OutputPath)
	if info, err := os.Stat(result.OutputPath); err == nil {
		fmt.Fprintf(out, "  Size:   %s\n", format.Bytes(info.Size()))
	}
	return nil
}
