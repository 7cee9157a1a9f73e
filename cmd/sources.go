package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/memocapture/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long: `List the PipeWire/JACK capture ports. A port name can be set as
permission.source to require that exact device before recording starts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw := audio.NewPipeWire(nil)
		sources, err := pw.CapturePorts(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}

		fmt.Printf("Capture sources (%s, %d found):\n", runtime.GOOS, len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		if cfg.Permission.Source != "" {
			if err := pw.ValidatePort(cmd.Context(), cfg.Permission.Source); err != nil {
				fmt.Printf("\nConfigured source %q: %v\n", cfg.Permission.Source, err)
			} else {
				fmt.Printf("\nConfigured source %q is available\n", cfg.Permission.Source)
			}
		}
		return nil
	},
}
