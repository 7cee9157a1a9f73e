package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for remote control",
	Long: `Start the MemoCapture HTTP API to record, play and manage memos from
any device on the same network. Prometheus metrics are served on /metrics.

The trash is swept on startup and then every trash.sweep_interval.
Retention and the playback completion threshold are reloaded when the
config file changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				slog.Warn("Failed to close database", "error", err)
			}
		}()

		go a.RunSweeper(ctx, cfg.Trash.SweepInterval)

		loader.Watch(func(next *config.Config) {
			a.Apply(next)
		})

		srv := server.New(a.Service, a.Metrics, port)
		slog.Info("MemoCapture server starting", "port", port, "config", loader.Path())

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the HTTP API (default from config)")
}
