package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecapture/internal/recordings"
	"github.com/audiolibrelab/voicecapture/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the microphone",
	Long: `Record the default input device into a mono 16-bit 48 kHz WAV file.
Recording stops on Ctrl+C, after --duration, or when the maximum duration
configured in output.max_duration_seconds is reached.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputDir, _ := cmd.Flags().GetString("output")
		duration, _ := cmd.Flags().GetDuration("duration")
		maxSeconds, _ := cmd.Flags().GetInt("max-duration")
		if maxSeconds <= 0 {
			maxSeconds = cfg.Output.MaxDurationSeconds
		}
		if duration > 0 {
			maxSeconds = int((duration + time.Second - 1) / time.Second)
		}

		slog.Debug("Creating service instance")
		svc := service.New(cfg, nil)
		defer svc.Shutdown(context.Background())

		res, err := svc.StartRecording(cmd.Context(), outputDir, maxSeconds)
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		slog.Info("Recording started - Press Ctrl+C to stop",
			"path", res.OutputPath,
			"session", res.SessionID,
			"max_duration", maxSeconds)

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		ticker := time.NewTicker(cfg.Session.PollInterval)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-sigChan:
				slog.Info("Stopping recording...")
				break wait
			case <-ticker.C:
				// the session ends on its own at the cap or on a device fault
				if !svc.GetRecordingStatus().IsRecording {
					break wait
				}
			}
		}

		path, err := svc.StopRecording(context.Background())
		if err != nil {
			ended := svc.LastEnded()
			if ended == nil || ended.SessionID != res.SessionID {
				return fmt.Errorf("failed to stop recording: %w", err)
			}
			if ended.Err != nil {
				return fmt.Errorf("recording ended (%s): %w", ended.Reason, ended.Err)
			}
			path = ended.Path
			slog.Info("Recording ended", "reason", ended.Reason)
		}

		if info, err := svc.GetRecordingInfo(path); err == nil {
			fmt.Printf("Saved %s (%s, %s)\n", path, info.Duration.Round(10*time.Millisecond), recordings.FormatBytes(info.FileSize))
		} else {
			fmt.Printf("Saved %s\n", path)
		}

		// Execute pipeline if specified
		return executePipeline(svc, path, 'r')
	},
}

// executePipeline runs the pipeline steps that follow startStep
func executePipeline(svc service.Service, name string, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := strings.ToLower(pipeline)
	i := strings.IndexRune(steps, startStep)
	if i == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}
	rest := steps[i+1:]
	if rest == "" {
		return nil
	}

	fmt.Printf("Pipeline: executing remaining steps '%s'...\n", rest)
	return svc.RunPipeline(context.Background(), name, rest, 0)
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	recordCmd.Flags().DurationP("duration", "d", 0, "stop after this long")
	recordCmd.Flags().Int("max-duration", 0, "maximum duration in seconds (overrides config)")
}
