package audio

import (
	"fmt"
	"time"
)

// Policy holds the segmentation timing rules. It is copied into the
// Segmenter at construction and never changes afterwards.
type Policy struct {
	MinChunkDuration    time.Duration
	MaxChunkDuration    time.Duration
	SilenceCutThreshold time.Duration
	SampleInterval      time.Duration
	VolumeThreshold     float64 // mean byte magnitude above which a sample is speech
	MinChunkBytes       int     // chunks of this size or smaller are discarded
	RetryBackoff        time.Duration
	MaxStartRetries     int // per streaming session
}

// DefaultPolicy returns the standard segmentation policy.
func DefaultPolicy() Policy {
	return Policy{
		MinChunkDuration:    2000 * time.Millisecond,
		MaxChunkDuration:    8000 * time.Millisecond,
		SilenceCutThreshold: 1500 * time.Millisecond,
		SampleInterval:      100 * time.Millisecond,
		VolumeThreshold:     10,
		MinChunkBytes:       3000,
		RetryBackoff:        1000 * time.Millisecond,
		MaxStartRetries:     1,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive, got %v", p.SampleInterval)
	}
	if p.MinChunkDuration < 0 {
		return fmt.Errorf("min chunk duration must not be negative, got %v", p.MinChunkDuration)
	}
	if p.MaxChunkDuration < p.SampleInterval {
		return fmt.Errorf("max chunk duration (%v) must be at least one sample interval (%v)",
			p.MaxChunkDuration, p.SampleInterval)
	}
	if p.MinChunkDuration > p.MaxChunkDuration {
		return fmt.Errorf("min chunk duration (%v) exceeds max chunk duration (%v)",
			p.MinChunkDuration, p.MaxChunkDuration)
	}
	if p.SilenceCutThreshold <= 0 {
		return fmt.Errorf("silence cut threshold must be positive, got %v", p.SilenceCutThreshold)
	}
	if p.VolumeThreshold < 0 || p.VolumeThreshold > 255 {
		return fmt.Errorf("volume threshold must be between 0 and 255, got %f", p.VolumeThreshold)
	}
	if p.MinChunkBytes < 0 {
		return fmt.Errorf("min chunk bytes must not be negative, got %d", p.MinChunkBytes)
	}
	if p.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative, got %v", p.RetryBackoff)
	}
	if p.MaxStartRetries < 0 {
		return fmt.Errorf("max start retries must not be negative, got %d", p.MaxStartRetries)
	}
	return nil
}

// Evaluate applies the cut rules in order; the first match wins.
func (p Policy) Evaluate(elapsed, silence time.Duration) CutReason {
	switch {
	case elapsed >= p.MaxChunkDuration:
		return CutMaxDuration
	case elapsed >= p.MinChunkDuration && silence >= p.SilenceCutThreshold:
		return CutPause
	default:
		return CutNone
	}
}

// Accepts reports whether a chunk of size bytes should be dispatched.
func (p Policy) Accepts(size int) bool {
	return size > p.MinChunkBytes
}

// cycle is the timing state of one recording cycle.
type cycle struct {
	startedAt time.Time
	elapsed   time.Duration
	silence   time.Duration
}

// tick advances the cycle by one sample interval and returns the cut
// decision for the new state.
func (c *cycle) tick(speaking bool, p Policy) CutReason {
	c.elapsed += p.SampleInterval
	if speaking {
		c.silence = 0
	} else {
		c.silence += p.SampleInterval
	}
	return p.Evaluate(c.elapsed, c.silence)
}
