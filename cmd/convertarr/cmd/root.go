// Package cmd implements the CLI commands for convertarr.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/convertarr/internal/config"
	"github.com/jmylchreest/convertarr/internal/observability"
	"github.com/jmylchreest/convertarr/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "convertarr",
	Short:   "Queued media conversion service",
	Version: version.Short(),
	Long: `convertarr converts uploaded audio and video files into other formats
using ffmpeg.

Conversions are queued in a database-backed job queue and processed by a
pool of workers with lease-based stall detection. Results are served over
HTTP for download.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// initLogging references rootCmd.PersistentFlags
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Not bound to viper: they override env/config only when set explicitly.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/convertarr/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/convertarr")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.convertarr")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	cobra.CheckErr(config.BindEnv(viper.GetViper()))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (CONVERTARR_LOGGING_LEVEL, CONVERTARR_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if logCfg.Level == "" {
		logCfg.Level = "info"
	}
	if logCfg.Format == "" {
		logCfg.Format = "json"
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	// Keep the validated config in step with the flags.
	viper.Set("logging.level", logCfg.Level)
	viper.Set("logging.format", logCfg.Format)

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)

	return nil
}

// loadConfig unmarshals and validates the merged flag/env/file configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	slog.Debug("configuration loaded",
		slog.String("config_file", viper.ConfigFileUsed()),
		slog.String("queue_url", cfg.Queue.URL),
	)
	return cfg, nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
