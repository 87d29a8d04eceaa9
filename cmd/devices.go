package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecapture/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available input devices",
	Long:    `List the capture devices visible to the configured audio backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.NewBackend(cfg)
		devices, err := backend.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", backend.GetType(), err)
		}

		fmt.Printf("Input devices (%s, %s backend)\n\n", runtime.GOOS, backend.GetType())
		if len(devices) == 0 {
			fmt.Println("  none found")
			return nil
		}
		for i, d := range devices {
			marker := ""
			if d.IsDefault {
				marker = " (default)"
			}
			fmt.Printf("  %d. %s%s\n", i+1, d.Name, marker)
		}

		fmt.Printf("\nSelect one with audio.device in the config (substring match).\n")

		var others []string
		for _, b := range audio.GetAvailableBackends() {
			if b != backend.GetType() {
				others = append(others, string(b))
			}
		}
		fmt.Printf("Other backends: %s (set audio.backend)\n", strings.Join(others, ", "))
		return nil
	},
}
