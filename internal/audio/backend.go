package audio

import (
	"context"
	"strings"

	"github.com/audiolibrelab/voicecapture/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMalgo    BackendType = "malgo"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeFile     BackendType = "file"
	BackendTypeAuto     BackendType = "auto"
)

// Sink receives raw interleaved blocks from a device callback.
// Implementations must not block.
type Sink interface {
	Write(p []byte) int
}

// DeviceInfo describes an input device visible to a backend.
type DeviceInfo struct {
	Name      string      `json:"name"`
	IsDefault bool        `json:"is_default"`
	Backend   BackendType `json:"backend"`
}

// Device is an opened input stream with a negotiated native format.
// Close releases the stream and is safe to call more than once.
type Device interface {
	Name() string
	Format() Format
	Start(sink Sink) error
	// Faults reports asynchronous failures raised from the capture context.
	Faults() <-chan error
	Close() error
}

// AudioBackend defines the interface for audio backend implementations
type AudioBackend interface {
	// Open the configured (or default) input device in its native format
	OpenDefault(ctx context.Context) (Device, error)

	// List available input devices
	ListDevices() ([]DeviceInfo, error)

	// Get the backend type
	GetType() BackendType
}

// NewBackend creates the backend selected by configuration
func NewBackend(cfg *config.Config) AudioBackend {
	switch determineBackend(cfg) {
	case BackendTypeFile:
		return NewFileBackend(cfg.Audio.InputFile, cfg.Audio.Realtime)
	case BackendTypePipeWire:
		return NewPipeWireBackend(cfg.Audio.Device)
	default:
		return NewMalgoBackend(cfg.Audio.Device)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "file":
		return BackendTypeFile
	case "malgo":
		return BackendTypeMalgo
	case "pipewire":
		return BackendTypePipeWire
	}

	// auto: an input file replaces the microphone
	if cfg.Audio.InputFile != "" {
		return BackendTypeFile
	}
	return BackendTypeMalgo
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeMalgo, BackendTypePipeWire, BackendTypeFile}
}
