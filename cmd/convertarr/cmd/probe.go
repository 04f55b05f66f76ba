package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/convertarr/internal/storage"
	"github.com/jmylchreest/convertarr/pkg/format"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe <source-id>",
	Short: "Show stream metadata for an uploaded file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output metadata as JSON")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	eng, err := newEngine(cfg, slog.Default())
	if err != nil {
		return err
	}

	matches, err := eng.files.FindByPrefix(storage.KindUploads, args[0])
	if err != nil {
		return fmt.Errorf("locating source: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no upload matches %q", args[0])
	}

	meta, err := eng.prober.ProbeMetadata(context.Background(), matches[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if probeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}

	fmt.Fprintf(out, "File:     %s\n", matches[0])
	fmt.Fprintf(out, "Format:   %s\n", meta.FormatName)
	fmt.Fprintf(out, "Duration: %s\n", format.MediaDuration(meta.Duration))
	fmt.Fprintf(out, "Size:     %s\n", format.Bytes(meta.Size))
	fmt.Fprintf(out, "Bitrate:  %s\n", format.Bitrate(meta.BitRate))
	if v := meta.Video; v != nil {
		fmt.Fprintf(out, "Video:    %s %dx%d @ %.2f fps, %s\n",
			v.Codec, v.Width, v.Height, v.FPS, format.Bitrate(v.BitRate))
	}
	if a := meta.Audio; a != nil {
		fmt.Fprintf(out, "Audio:    %s %d Hz, %d ch, %s\n",
			a.Codec, a.SampleRate, a.Channels, format.Bitrate(a.BitRate))
	}
	return nil
}
