package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecapture/internal/service"
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode [recording]",
	Short: "Convert a recording to the configured voice format",
	Long: `Convert a finished WAV recording with ffmpeg using the codec, bitrate and
container from the transcode section of the config. Without an argument
the latest recording is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		if codec, _ := cmd.Flags().GetString("codec"); codec != "" {
			cfg.Transcode.Codec = codec
		}
		if bitrate, _ := cmd.Flags().GetString("bitrate"); bitrate != "" {
			cfg.Transcode.Bitrate = bitrate
		}
		if format, _ := cmd.Flags().GetString("format"); format != "" {
			cfg.Transcode.Format = format
		}

		svc := service.New(cfg, nil)

		fmt.Printf("Transcoding with %s at %s...\n", cfg.Transcode.Codec, cfg.Transcode.Bitrate)
		out, err := svc.Transcode(cmd.Context(), name)
		if err != nil {
			return fmt.Errorf("transcoding failed: %w", err)
		}
		fmt.Printf("Transcoding completed: %s\n", out)

		// Execute pipeline if specified
		return executePipeline(svc, out, 't')
	},
}

func init() {
	transcodeCmd.Flags().String("codec", "", "audio codec (overrides config)")
	transcodeCmd.Flags().StringP("bitrate", "b", "", "target bitrate (overrides config)")
	transcodeCmd.Flags().StringP("format", "f", "", "output container/extension (overrides config)")
}
