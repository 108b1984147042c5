package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/badgeminter/internal/control"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the minting daemon",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewMinter(ctx, *cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize minter", "error", err)
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start minter", "error", err)
		_ = app.Stop(context.Background())
		os.Exit(1)
	}

	slog.Info("Minter started", "config", cfgPath)

	select {
	case <-ctx.Done():
		slog.Info("Received signal, shutting down...")
	case <-app.Done():
		slog.Error("Background component failed, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
