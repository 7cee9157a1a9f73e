package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/memocapture/internal/app"
	"github.com/audiolibrelab/memocapture/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	loader       *config.Loader
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "memocapture",
	Short: "Voice memo recorder with folders, playback and a trash",
	Long: `MemoCapture records voice memos from the default input device,
files them into folders and plays them back.

Deleted memos stay in the trash for a retention period (15 days by
default) before they are purged. Run 'memocapture serve' to control
everything from a phone on the same network.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = config.DefaultPath()
		}

		// init must work even when the existing file is broken
		if cmd == configInitCmd {
			return nil
		}

		loader = config.NewLoader(cfgFile)
		var err error
		cfg, err = loader.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "path", cfgFile)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/memocapture.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(foldersCmd)
	rootCmd.AddCommand(trashCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}

// openApp builds the application for one command. The caller must Close it.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to start memocapture: %w", err)
	}
	return a, nil
}

// withApp runs fn against a freshly opened application and closes it after.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(ctx); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}()
	return fn(ctx, a)
}
