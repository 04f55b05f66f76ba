package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/convertarr/internal/storage"
	"github.com/jmylchreest/convertarr/pkg/format"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Inspect and prune managed files",
}

var filesListCmd = &cobra.Command{
	Use:       "list <uploads|outputs>",
	Short:     "List files in the upload or output directory",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(storage.KindUploads), string(storage.KindOutputs)},
	RunE:      runFilesList,
}

var filesRemoveCmd = &cobra.Command{
	Use:   "rm <uploads|outputs> <id>",
	Short: "Remove every file whose name starts with id",
	Args:  cobra.ExactArgs(2),
	RunE:  runFilesRemove,
}

var filesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove uploads and outputs older than storage.max_file_age",
	RunE:  runFilesCleanup,
}

func init() {
	rootCmd.AddCommand(filesCmd)
	filesCmd.AddCommand(filesListCmd, filesRemoveCmd, filesCleanupCmd)
}

func openFileStore() (*storage.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return storage.NewFileStore(cfg.Storage.UploadDir, cfg.Storage.OutputDir, slog.Default())
}

func runFilesList(cmd *cobra.Command, args []string) error {
	kind, err := storage.ParseKind(args[0])
	if err != nil {
		return err
	}
	files, err := openFileStore()
	if err != nil {
		return err
	}

	list, err := files.List(kind)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tSIZE\tMODIFIED")
	for _, f := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Filename, format.Bytes(f.Size), format.RelativeTimeShort(f.ModifiedAt))
	}
	return w.Flush()
}

func runFilesRemove(cmd *cobra.Command, args []string) error {
	kind, err := storage.ParseKind(args[0])
	if err != nil {
		return err
	}
	files, err := openFileStore()
	if err != nil {
		return err
	}

	removed, err := files.RemoveByID(kind, args[1])
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("no %s match %q", kind, args[1])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d file(s)\n", removed)
	return nil
}

func runFilesCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Storage.MaxFileAge <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "storage.max_file_age is 0; nothing to do")
		return nil
	}
	files, err := storage.NewFileStore(cfg.Storage.UploadDir, cfg.Storage.OutputDir, slog.Default())
	if err != nil {
		return err
	}

	for _, kind := range []storage.Kind{storage.KindUploads, storage.KindOutputs} {
		removed, err := files.CleanupOlderThan(kind, cfg.Storage.MaxFileAge)
		if err != nil {
			return fmt.Errorf("cleaning %s: %w", kind, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %s\n", kind, format.Number(int64(removed)))
	}
	return nil
}
