package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/convertarr/internal/database"
	internalhttp "github.com/jmylchreest/convertarr/internal/http"
	"github.com/jmylchreest/convertarr/internal/http/handlers"
	"github.com/jmylchreest/convertarr/internal/metrics"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/observability"
	"github.com/jmylchreest/convertarr/internal/repository"
	"github.com/jmylchreest/convertarr/internal/scheduler"
	"github.com/jmylchreest/convertarr/internal/service"
	"github.com/jmylchreest/convertarr/internal/storage"
	"github.com/jmylchreest/convertarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the convertarr server",
	Long: `Start the convertarr HTTP server, job workers and maintenance scheduler.

The server provides:
- REST API for queueing, polling and cancelling conversions
- Synchronous conversion endpoint
- Downloads of converted files under /output/
- Health probes and Prometheus metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("queue-url", "", "Queue backend URL (sqlite://, postgres://, mysql://)")
	serveCmd.Flags().Int("workers", 0, "Number of concurrent conversion workers")
	serveCmd.Flags().String("upload-dir", "", "Directory holding uploaded sources")
	serveCmd.Flags().String("output-dir", "", "Directory receiving converted files")
	serveCmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origins (default any)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("queue.url", serveCmd.Flags().Lookup("queue-url"))
	mustBindPFlag("queue.workers", serveCmd.Flags().Lookup("workers"))
	mustBindPFlag("storage.upload_dir", serveCmd.Flags().Lookup("upload-dir"))
	mustBindPFlag("storage.output_dir", serveCmd.Flags().Lookup("output-dir"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Queue, cfg.Database, observability.WithComponent(logger, "database"), nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	if err := db.Migrate(ctx, &models.ConversionJob{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	if info, err := eng.detector.Detect(ctx); err != nil {
		logger.Warn("ffmpeg version check failed", slog.String("error", err.Error()))
	} else {
		logger.Info("ffmpeg detected",
			slog.String("ffmpeg", info.FFmpegPath),
			slog.String("ffprobe", info.FFprobePath),
			slog.String("version", info.Version),
			slog.Int("encoders", len(info.Encoders)),
		)
	}

	jobRepo := repository.NewConversionJobRepository(db.DB)

	executor := scheduler.NewExecutor(jobRepo, eng.orchestrator, eng.files).
		WithLogger(logger)
	runner := scheduler.NewRunner(jobRepo, executor).
		WithLogger(logger).
		WithConfig(scheduler.RunnerConfig{
			WorkerCount:   cfg.Queue.Workers,
			PollInterval:  cfg.Queue.PollInterval,
			LockDuration:  cfg.Queue.LockDuration,
			StallInterval: cfg.Queue.StallInterval,
			MaxStalls:     &cfg.Queue.MaxStalls,
		})
	maintenance := scheduler.NewMaintenance(jobRepo, eng.files, scheduler.MaintenanceConfig{
		Schedule:   cfg.Queue.CleanupSchedule,
		Retention:  cfg.Queue.Retention,
		MaxFileAge: cfg.Storage.MaxFileAge,
	}).WithLogger(logger)

	conversionService := service.NewConversionService(jobRepo, eng.orchestrator, eng.files).
		WithLogger(logger).
		WithRunner(runner)

	corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origin")
	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     internalhttp.DefaultServerConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     corsOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithRunner(runner).
		Register(server.API())
	handlers.NewConversionHandler(conversionService).Register(server.API())
	handlers.NewJobHandler(conversionService).Register(server.API())
	handlers.NewFileHandler(conversionService).Register(server.API())

	outputs, err := storage.NewSandbox(eng.files.Dir(storage.KindOutputs))
	if err != nil {
		return fmt.Errorf("initializing output sandbox: %w", err)
	}
	handlers.NewOutputHandler(outputs).
		WithLogger(logger).
		RegisterFileServer(server.Router())

	metrics.SetAppInfo(version.Version, version.Commit, runtime.Version())

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}
	defer maintenance.Stop()

	logger.Info("starting convertarr server",
		slog.String("address", server.Address()),
		slog.String("queue_backend", db.Driver()),
		slog.Int("workers", cfg.Queue.Workers),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
