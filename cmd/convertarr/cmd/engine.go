package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/convertarr/internal/config"
	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/ffmpeg"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// engine bundles the pieces needed to run conversions locally.
type engine struct {
	files        *storage.FileStore
	prober       *ffmpeg.Prober
	detector     *ffmpeg.BinaryDetector
	orchestrator *conversion.Orchestrator
}

// newEngine resolves the ffmpeg binaries and wires the conversion pipeline
// over the configured upload and output directories.
func newEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	files, err := storage.NewFileStore(cfg.Storage.UploadDir, cfg.Storage.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := files.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("creating storage directories: %w", err)
	}

	detector := ffmpeg.NewBinaryDetector(cfg.Engine.FFmpegPath, cfg.Engine.FFprobePath)
	ffmpegPath, ffprobePath, err := detector.Paths()
	if err != nil {
		return nil, fmt.Errorf("locating ffmpeg: %w", err)
	}

	prober := ffmpeg.NewProber(ffprobePath).WithTimeout(cfg.Engine.ProbeTimeout)
	supervisor := ffmpeg.NewSupervisor(ffmpegPath, logger)

	orchestrator := conversion.NewOrchestrator(files, prober, supervisor, conversion.EngineArgs{
		LogLevel:   cfg.Engine.LogLevel,
		InputArgs:  ffmpeg.ParseOptions(cfg.Engine.InputArgs),
		OutputArgs: ffmpeg.ParseOptions(cfg.Engine.OutputArgs),
	}, logger)

	return &engine{
		files:        files,
		prober:       prober,
		detector:     detector,
		orchestrator: orchestrator,
	}, nil
}
