package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/pcmfile"
	"github.com/audiolibrelab/voicecapture/internal/pipeline"
)

// Transcoder turns a finished WAV recording into a voice-message file.
type Transcoder struct {
	cfg config.TranscodeConfig
}

func New(cfg config.TranscodeConfig) *Transcoder {
	return &Transcoder{cfg: cfg}
}

// OutputPath is where Transcode writes the result for input.
func (t *Transcoder) OutputPath(input string) string {
	return strings.TrimSuffix(input, ".wav") + "." + t.cfg.Format
}

// Transcode encodes input with ffmpeg and returns the output path. The input
// header must be finalized.
func (t *Transcoder) Transcode(ctx context.Context, input string) (string, error) {
	info, err := pcmfile.Inspect(input)
	if err != nil {
		return "", fmt.Errorf("input file not usable: %w", err)
	}
	if !info.Consistent() {
		return "", fmt.Errorf("input file %s is not finalized", input)
	}

	output := t.OutputPath(input)
	os.Remove(output)

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.buildArgs(input, output)...)
	slog.Debug("Running FFmpeg for transcoding", "command", strings.Join(cmd.Args, " "))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("FFmpeg transcoding failed: %w\nOutput: %s", err, string(out))
	}

	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("output file not created: %s", output)
	}

	slog.Info("Transcoded recording saved to", "file", output, "duration", info.Duration)
	return output, nil
}

func (t *Transcoder) buildArgs(input, output string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-ac", fmt.Sprintf("%d", pipeline.TargetChannels),
		"-ar", fmt.Sprintf("%d", pipeline.TargetSampleRate),
		"-c:a", t.cfg.Codec,
	}
	if t.cfg.Bitrate != "" {
		args = append(args, "-b:a", t.cfg.Bitrate)
	}
	if t.cfg.Codec == "libopus" {
		args = append(args, "-application", "voip")
	}
	return append(args, "-y", output)
}
