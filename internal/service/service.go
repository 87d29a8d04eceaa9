package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/pcmfile"
	"github.com/audiolibrelab/voicecapture/internal/play"
	"github.com/audiolibrelab/voicecapture/internal/recordings"
	"github.com/audiolibrelab/voicecapture/internal/session"
	"github.com/audiolibrelab/voicecapture/internal/transcode"
)

// Service represents the core VoiceCapture service interface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, outputDir string, maxDurationSeconds int) (session.StartResult, error)
	StopRecording(ctx context.Context) (string, error)
	GetRecordingStatus() session.Status

	// Post-processing operations
	Transcode(ctx context.Context, name string) (string, error)
	Play(ctx context.Context, name string) error

	// Pipeline operations
	RunPipeline(ctx context.Context, name string, steps string, duration time.Duration) error

	// Information operations
	ListDevices() ([]audio.DeviceInfo, error)
	ListRecordings() ([]recordings.Recording, error)
	GetRecordingInfo(name string) (*pcmfile.Info, error)
	GetConfig() *config.Config
	GetLastError() string
	LastEnded() *session.Ended

	Shutdown(ctx context.Context) error
}

// VoiceCaptureService is the main service implementation
type VoiceCaptureService struct {
	cfg        *config.Config
	backend    audio.AudioBackend
	controller *session.Controller
	transcoder *transcode.Transcoder
	player     *play.Player

	// Error tracking
	lastError      string
	lastEnded      *session.Ended
	lastErrorMutex sync.RWMutex

	// callers waiting for a specific session to end, by session ID
	waiters   map[string]chan session.Ended
	waitersMu sync.Mutex

	// auto transcodes still running
	background sync.WaitGroup
}

// New creates a new VoiceCapture service instance
func New(cfg *config.Config, backend audio.AudioBackend) *VoiceCaptureService {
	if backend == nil {
		backend = audio.NewBackend(cfg)
	}
	s := &VoiceCaptureService{
		cfg:        cfg,
		backend:    backend,
		transcoder: transcode.New(cfg.Transcode),
		player:     play.New(),
		waiters:    make(map[string]chan session.Ended),
	}
	opts := session.OptionsFromConfig(cfg)
	opts.Events = s
	s.controller = session.NewController(backend, opts)
	return s
}

// StartRecording begins a new session. An empty outputDir uses the configured directory.
func (s *VoiceCaptureService) StartRecording(ctx context.Context, outputDir string, maxDurationSeconds int) (session.StartResult, error) {
	slog.Debug("Service.StartRecording called", "output_dir", outputDir, "max_duration", maxDurationSeconds)
	s.clearLastError() // Clear any previous errors when starting a new operation

	if outputDir == "" {
		outputDir = s.cfg.Output.Directory
	}
	res, err := s.controller.Start(ctx, outputDir, maxDurationSeconds)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return res, err
	}
	return res, nil
}

// StopRecording stops the current recording session
func (s *VoiceCaptureService) StopRecording(ctx context.Context) (string, error) {
	path, err := s.controller.Stop(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return "", err
	}
	s.clearLastError() // Clear error on successful stop
	return path, nil
}

// GetRecordingStatus returns the current recording status
func (s *VoiceCaptureService) GetRecordingStatus() session.Status {
	return s.controller.Status()
}

// Transcode converts a recording into the configured voice-message format
func (s *VoiceCaptureService) Transcode(ctx context.Context, name string) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	out, err := s.transcoder.Transcode(ctx, path)
	if err != nil {
		s.setLastError(fmt.Sprintf("Transcode failed for %s: %v", path, err))
		return "", err
	}
	return out, nil
}

// Play plays a recording, or the latest one when name is empty
func (s *VoiceCaptureService) Play(ctx context.Context, name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	return s.player.Play(ctx, path)
}

// RunPipeline executes a sequence of operations (r=record, t=transcode, p=play).
// Record runs for duration, or until the session ends on its own.
func (s *VoiceCaptureService) RunPipeline(ctx context.Context, name string, steps string, duration time.Duration) error {
	current := name
	for _, step := range steps {
		switch step {
		case 'r':
			path, err := s.recordFor(ctx, duration)
			if err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			current = path
		case 't':
			out, err := s.Transcode(ctx, current)
			if err != nil {
				return fmt.Errorf("pipeline transcode failed: %w", err)
			}
			current = out
		case 'p':
			if err := s.Play(ctx, current); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, t=transcode, p=play)", step)
		}
	}
	return nil
}

func (s *VoiceCaptureService) recordFor(ctx context.Context, duration time.Duration) (string, error) {
	seconds := s.cfg.Output.MaxDurationSeconds
	if duration > 0 {
		// the cap ends the session even if nobody calls stop
		seconds = int((duration + time.Second - 1) / time.Second)
	}
	res, err := s.StartRecording(ctx, "", seconds)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(s.cfg.Session.PollInterval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-ticker.C:
			if !s.controller.Status().IsRecording {
				break wait
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.FinalizeTimeout*2)
	defer cancel()
	path, err := s.StopRecording(stopCtx)
	if !errors.Is(err, session.ErrNotRecording) {
		return path, err
	}

	// ended on its own; the end notification may still be in flight
	ended, err := s.awaitEnded(stopCtx, res.SessionID)
	if err != nil {
		return "", fmt.Errorf("waiting for session %s to end: %w", res.SessionID, err)
	}
	if ended.Err != nil {
		return "", ended.Err
	}
	return ended.Path, nil
}

// awaitEnded returns the end notification of session id, waiting for it if
// it has not been delivered yet.
func (s *VoiceCaptureService) awaitEnded(ctx context.Context, id string) (session.Ended, error) {
	s.waitersMu.Lock()
	if ended := s.LastEnded(); ended != nil && ended.SessionID == id {
		s.waitersMu.Unlock()
		return *ended, nil
	}
	ch := make(chan session.Ended, 1)
	s.waiters[id] = ch
	s.waitersMu.Unlock()

	defer func() {
		s.waitersMu.Lock()
		delete(s.waiters, id)
		s.waitersMu.Unlock()
	}()

	select {
	case ended := <-ch:
		return ended, nil
	case <-ctx.Done():
		return session.Ended{}, ctx.Err()
	}
}

// ListDevices returns the input devices of the configured backend
func (s *VoiceCaptureService) ListDevices() ([]audio.DeviceInfo, error) {
	return s.backend.ListDevices()
}

// ListRecordings returns recordings in the output directory, newest first
func (s *VoiceCaptureService) ListRecordings() ([]recordings.Recording, error) {
	return recordings.List(s.cfg.Output.Directory, s.cfg.Output.Prefix)
}

// GetRecordingInfo reads the header of a recording
func (s *VoiceCaptureService) GetRecordingInfo(name string) (*pcmfile.Info, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	info, err := pcmfile.Inspect(path)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetConfig returns the current configuration
func (s *VoiceCaptureService) GetConfig() *config.Config {
	return s.cfg
}

// Shutdown stops any running session and waits for background transcodes.
func (s *VoiceCaptureService) Shutdown(ctx context.Context) error {
	err := s.controller.Shutdown(ctx)
	s.background.Wait()
	return err
}

// SessionStarted implements session.EventSink
func (s *VoiceCaptureService) SessionStarted(status session.Status) {
	slog.Debug("Session started", "session", status.SessionID, "path", status.OutputPath)
}

// SessionEnded implements session.EventSink. It runs for explicit stops and
// for sessions that ended on their own.
func (s *VoiceCaptureService) SessionEnded(ended session.Ended) {
	s.waitersMu.Lock()
	s.lastErrorMutex.Lock()
	s.lastEnded = &ended
	s.lastErrorMutex.Unlock()
	waiter := s.waiters[ended.SessionID]
	s.waitersMu.Unlock()
	if waiter != nil {
		waiter <- ended
	}

	if ended.Err != nil {
		s.setLastError(fmt.Sprintf("Recording %s ended (%s): %v", ended.Path, ended.Reason, ended.Err))
		return
	}

	if ended.Reason == session.ReasonDurationCap {
		slog.Info("Recording reached maximum duration", "path", ended.Path, "duration", ended.Summary.Duration)
	}

	if s.cfg.Transcode.Auto {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := s.transcoder.Transcode(ctx, ended.Path); err != nil {
				s.setLastError(fmt.Sprintf("Auto transcode failed for %s: %v", ended.Path, err))
			}
		}()
	}
}

// LastEnded returns the most recent session end notification, if any.
func (s *VoiceCaptureService) LastEnded() *session.Ended {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastEnded
}

// GetLastError returns the last error message (thread-safe)
func (s *VoiceCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *VoiceCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *VoiceCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// resolve maps a name to a recording path; empty means the latest recording.
func (s *VoiceCaptureService) resolve(name string) (string, error) {
	if name == "" {
		return recordings.Latest(s.cfg.Output.Directory, s.cfg.Output.Prefix)
	}
	return recordings.Resolve(s.cfg.Output.Directory, name)
}
