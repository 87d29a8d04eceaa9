package session

import (
	"errors"

	"github.com/audiolibrelab/voicecapture/internal/audio"
)

var (
	ErrAlreadyRecording  = errors.New("already recording")
	ErrNotRecording      = errors.New("not recording")
	ErrNoInputDevice     = audio.ErrNoInputDevice
	ErrUnsupportedFormat = audio.ErrUnsupportedFormat
	ErrIO                = errors.New("i/o error")
	ErrFileNotFound      = errors.New("recording file not found")
	ErrFileTooSmall      = errors.New("recording file too small")
	ErrFinalizeTimeout   = errors.New("timed out waiting for recording to finalize")

	// ErrLockFailure means the session state could not be acquired before the
	// caller's context ended.
	ErrLockFailure = errors.New("session state unavailable")
)
