package audio

import (
	"time"
)

// CutReason records why a recording cycle ended.
type CutReason int

const (
	CutNone CutReason = iota
	CutMaxDuration
	CutPause
	CutStopped
)

// String returns the metric/log label for the reason.
func (r CutReason) String() string {
	switch r {
	case CutMaxDuration:
		return "max_duration"
	case CutPause:
		return "pause"
	case CutStopped:
		return "stopped"
	default:
		return "none"
	}
}

// AudioChunk is one finalized recording cycle.
type AudioChunk struct {
	ID         string        `json:"id"`
	Data       []byte        `json:"-"`
	Format     string        `json:"format"`
	MIMEType   string        `json:"mime_type"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`    // elapsed sampling time at the cut
	MinimumMet bool          `json:"minimum_met"` // duration reached MinChunkDuration
	Reason     CutReason     `json:"reason"`
	SizeBytes  int           `json:"size_bytes"`
}

// FileName returns the multipart file name for the chunk, e.g. "chunk.wav".
func (c *AudioChunk) FileName(base string) string {
	if base == "" {
		base = "chunk"
	}
	if c.Format == "" {
		return base
	}
	return base + "." + c.Format
}
