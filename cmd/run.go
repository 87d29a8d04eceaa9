package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecapture/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run [recording]",
	Short: "Execute pipeline steps",
	Long: `Execute the pipeline steps given with -p. A record step creates a new
recording which later steps operate on. Without a record step the named
recording, or the latest one, is used.

Ctrl+C ends a record step early; the file is still finalized.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rtp)")
		}

		var name string
		if len(args) == 1 {
			name = args[0]
		}
		duration, _ := cmd.Flags().GetDuration("duration")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := service.New(cfg, nil)
		defer svc.Shutdown(context.Background())

		fmt.Printf("Pipeline: executing steps '%s'...\n", pipeline)
		if err := svc.RunPipeline(ctx, name, strings.ToLower(pipeline), duration); err != nil {
			return err
		}
		fmt.Println("Pipeline: completed")
		return nil
	},
}

func init() {
	runCmd.Flags().Duration("duration", 0, "recording duration for the r step (0 = until the configured cap)")
}
