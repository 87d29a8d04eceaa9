package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecapture/internal/recordings"
	"github.com/audiolibrelab/voicecapture/internal/service"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [recording]",
	Short: "Show the WAV header of a recording",
	Long: `Display the format and size fields of a recording and check that the
header agrees with the file length. Without an argument the latest
recording is inspected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		svc := service.New(cfg, nil)
		info, err := svc.GetRecordingInfo(name)
		if err != nil {
			return fmt.Errorf("failed to inspect recording: %w", err)
		}

		fmt.Printf("=== %s ===\n", info.Path)
		fmt.Printf("sample_rate: %d\n", info.SampleRate)
		fmt.Printf("channels: %d\n", info.Channels)
		fmt.Printf("bit_depth: %d\n", info.BitDepth)
		fmt.Printf("riff_size: %d\n", info.RIFFSize)
		fmt.Printf("data_size: %d\n", info.DataSize)
		fmt.Printf("file_size: %d (%s)\n", info.FileSize, recordings.FormatBytes(info.FileSize))
		fmt.Printf("duration: %s\n", info.Duration)

		if info.Consistent() {
			fmt.Println("header: consistent")
		} else {
			fmt.Println("header: INCONSISTENT (recording was not finalized)")
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, nil)
		list, err := svc.ListRecordings()
		if err != nil {
			return err
		}

		fmt.Printf("Recordings in %s (%d)\n", cfg.Output.Directory, len(list))
		for _, r := range list {
			state := ""
			if r.Extension == ".wav" && !r.Complete {
				state = "  [incomplete]"
			}
			fmt.Printf("  %-32s %10s  %s%s\n", r.Name, r.SizeHuman, r.ModTimeHuman, state)
		}
		return nil
	},
}
