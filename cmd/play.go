package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecapture/internal/service"
)

var playCmd = &cobra.Command{
	Use:   "play [recording]",
	Short: "Play a recording",
	Long: `Play a recording with the first available player (ffplay, mpv, vlc, aplay).
Without an argument the latest recording is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		svc := service.New(cfg, nil)

		if err := svc.Play(cmd.Context(), name); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		return nil
	},
}
