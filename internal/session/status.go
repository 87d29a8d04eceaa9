package session

import "time"

type Status struct {
	IsRecording   bool      `json:"is_recording"`
	OutputPath    string    `json:"output_path,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	SampleRate    int       `json:"sample_rate,omitempty"`
	Channels      int       `json:"channels,omitempty"`
	Device        string    `json:"device,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	FramesWritten int64     `json:"frames_written"`
	DroppedBlocks uint64    `json:"dropped_blocks"`
	// Stale is set when the snapshot was served without the state lock.
	Stale bool `json:"stale,omitempty"`
}

// StartResult is returned by a successful Start.
type StartResult struct {
	OutputPath string `json:"output_path"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	SessionID  string `json:"session_id"`
}
