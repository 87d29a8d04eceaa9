package recordings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/pcmfile"
)

// Recording is a file in the output directory.
type Recording struct {
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	Size         int64         `json:"size"`
	SizeHuman    string        `json:"size_human"`
	ModTime      time.Time     `json:"mod_time"`
	ModTimeHuman string        `json:"mod_time_human"`
	Extension    string        `json:"extension"`
	Duration     time.Duration `json:"duration,omitempty"`
	Complete     bool          `json:"complete"`
}

var supportedExts = map[string]bool{
	".wav":  true,
	".ogg":  true,
	".opus": true,
}

// List returns recordings in dir whose name starts with prefix, newest first.
// WAV headers are inspected so unfinished files can be told apart.
func List(dir, prefix string) ([]Recording, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var list []Recording
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), prefix+"_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !supportedExts[ext] {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		rec := Recording{
			Name:         file.Name(),
			Path:         filepath.Join(dir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    FormatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Extension:    strings.TrimPrefix(ext, "."),
			Complete:     ext != ".wav",
		}
		if ext == ".wav" {
			if hdr, err := pcmfile.Inspect(rec.Path); err == nil {
				rec.Duration = hdr.Duration
				rec.Complete = hdr.Consistent()
			}
		}
		list = append(list, rec)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ModTime.After(list[j].ModTime)
	})
	return list, nil
}

// Resolve maps a recording name to a path. Absolute or relative paths that
// exist are returned as is; bare names are looked up in dir, with ".wav"
// appended when no extension is given.
func Resolve(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("recording name is empty")
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("recording not found: %s", name)
		}
		return name, nil
	}

	path := filepath.Join(dir, name)
	if filepath.Ext(name) == "" {
		path += ".wav"
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("recording not found: %s", path)
	}
	return path, nil
}

// Latest returns the newest complete WAV recording in dir.
func Latest(dir, prefix string) (string, error) {
	list, err := List(dir, prefix)
	if err != nil {
		return "", err
	}
	for _, rec := range list {
		if rec.Extension == "wav" && rec.Complete {
			return rec.Path, nil
		}
	}
	return "", fmt.Errorf("no recordings in %s", dir)
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
