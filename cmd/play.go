package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/memocapture/internal/app"
	"github.com/audiolibrelab/memocapture/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [recording-id]",
	Short: "Play a recording",
	Long: `Play a recording through the configured player (ffplay, mpv or vlc).
Playback ends when the memo reaches its end or Ctrl+C is pressed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return play(ctx, a.Service, args[0])
		})
	},
}

func play(ctx context.Context, svc service.Service, id string) error {
	states, unsubscribe := svc.SubscribePlayback()
	defer unsubscribe()

	st, err := svc.Expand(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer svc.Collapse(ctx)
	if st.RecoveredPath != "" {
		fmt.Printf("File was moved, playing from %s\n", st.RecoveredPath)
	}
	if _, err := svc.TogglePlayback(ctx); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr)
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if st.Err != nil {
				fmt.Fprintln(os.Stderr)
				return fmt.Errorf("playback failed: %w", st.Err)
			}
			if st.HasCompleted {
				fmt.Fprintf(os.Stderr, "\r%s / %s\n", formatElapsed(st.Duration), formatElapsed(st.Duration))
				return nil
			}
			fmt.Fprintf(os.Stderr, "\r%s / %s ", formatElapsed(st.Position), formatElapsed(st.Duration))
		}
	}
}
