package cli

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/badgeminter/internal/core/config"
)

var (
	cfgPath   string
	isDebug   bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "minter",
	Short: "Badge minting service",
	Long: `Minter turns completed game runs into on-chain badge mints. It keeps a durable
retry queue of mint attempts and recovers run-completion events the live listener missed.`,
	Run: runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: pretty, text or json (overrides config)")
}

// loadConfig loads the configuration and installs the default logger.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		return nil, err
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	setupLogging(cfg.Logging, isDebug)
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(cfg config.LoggingConfig, debug bool) {
	level := parseLevel(cfg.Level)
	if debug {
		level = slog.LevelDebug
	}

	switch cfg.Format {
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	default:
		stylelog.InitDefault(&tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}
}
