package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/memocapture/internal/app"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record a voice memo",
	Long: `Record from the configured input until Enter or Ctrl+C is pressed.
Without a name the memo is called after the current date and time.
Press Ctrl+C twice to discard the recording instead of saving it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.StartRequest{}
		if len(args) == 1 {
			req.Name = args[0]
		}
		req.FolderID, _ = cmd.Flags().GetString("folder")
		req.Format, _ = cmd.Flags().GetString("format")
		req.SampleRate, _ = cmd.Flags().GetInt("sample-rate")
		req.BitRate, _ = cmd.Flags().GetInt("bit-rate")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return record(ctx, a.Service, req)
		})
	},
}

func record(ctx context.Context, svc service.Service, req service.StartRequest) error {
	phases, unsubscribe := svc.SubscribeRecording()
	defer unsubscribe()

	if err := svc.StartRecording(ctx, req); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	slog.Info("Recording... Press Enter to stop and save")

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()

	for {
		select {
		case <-enter:
			return stopRecording(ctx, svc)
		case <-sigChan:
			slog.Info("Stopping recording... Press Ctrl+C again to discard it")
			select {
			case <-sigChan:
				if err := svc.CancelRecording(ctx); err != nil {
					return fmt.Errorf("failed to cancel recording: %w", err)
				}
				fmt.Println("Recording discarded")
				return nil
			case <-time.After(time.Second):
			}
			return stopRecording(ctx, svc)
		case p, ok := <-phases:
			if !ok {
				return nil
			}
			switch p := p.(type) {
			case recording.Active:
				fmt.Fprintf(os.Stderr, "\r%s %s ", formatElapsed(p.Elapsed), levelMeter(p.Amplitude, 20))
			case recording.Failed:
				fmt.Fprintln(os.Stderr)
				return fmt.Errorf("recording failed: %w", p.Err)
			}
		}
	}
}

func stopRecording(ctx context.Context, svc service.Service) error {
	fmt.Fprintln(os.Stderr)
	rec, err := svc.StopRecording(ctx)
	if err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}
	fmt.Printf("Saved %q (%s, %s) to %s\n", rec.Name, formatElapsed(rec.Duration), formatSize(rec.FileSizeBytes), rec.FilePath)
	return nil
}

func init() {
	recordCmd.Flags().String("folder", "", "folder id to file the memo in (default from config)")
	recordCmd.Flags().String("format", "", "wav, m4a or flac (default from config)")
	recordCmd.Flags().Int("sample-rate", 0, "sample rate in Hz (default from config)")
	recordCmd.Flags().Int("bit-rate", 0, "m4a bit rate in bits per second (default from config)")
}
