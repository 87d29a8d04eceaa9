package session

import (
	"github.com/audiolibrelab/voicecapture/internal/pcmfile"
)

// Reason says why a session ended.
type Reason string

const (
	ReasonStopped     Reason = "stopped"
	ReasonDurationCap Reason = "duration_cap"
	ReasonWriteError  Reason = "write_error"
	ReasonDeviceFault Reason = "device_fault"
)

// Ended is delivered once per session, whichever path ended it.
type Ended struct {
	SessionID string          `json:"session_id"`
	Path      string          `json:"path"`
	Reason    Reason          `json:"reason"`
	Summary   pcmfile.Summary `json:"summary"`
	Err       error           `json:"-"`
}

// EventSink receives session lifecycle notifications. Calls are made from
// controller goroutines and must not block for long.
type EventSink interface {
	SessionStarted(status Status)
	SessionEnded(ended Ended)
}

type nopSink struct{}

func (nopSink) SessionStarted(Status) {}
func (nopSink) SessionEnded(Ended)    {}
