package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/callingjournal/internal/config"
)

var (
	configPath string
	logOutput  io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "journald",
	Short: "Voice journaling companion service",
	Long: `journald holds short reflective conversations with each owner,
turns finished conversations into journal entries and serves them back.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("JOURNAL_CONFIG_FILE"), "optional YAML config file; environment variables take precedence")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(repairCmd)
}

// loadConfig reads configuration and installs the process logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
