package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// players in order of preference
var players = []string{"ffplay", "mpv", "vlc", "aplay"}

type Player struct {
	lookPath func(string) (string, error)
}

func New() *Player {
	return &Player{lookPath: exec.LookPath}
}

// Play blocks until playback of path finishes or ctx is cancelled.
func (p *Player) Play(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args, err := playerArgs(player, path)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, player, args...)

	slog.Info("Playing", "file", path, "player", player)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "file", path)
	return nil
}

func playerArgs(player, path string) ([]string, error) {
	switch player {
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", path}, nil
	case "mpv":
		return []string{"--no-video", path}, nil
	case "vlc":
		return []string{"--play-and-exit", path}, nil
	case "aplay":
		// aplay only understands WAV
		if !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil, fmt.Errorf("aplay requires WAV format, got %s", filepath.Ext(path))
		}
		return []string{path}, nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
