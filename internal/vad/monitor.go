package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/capture"
)

// FrequencySource produces byte-scaled frequency snapshots.
type FrequencySource interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte) int
}

// Config configures a Monitor.
type Config struct {
	Bins            int     // Snapshot width averaged per sample
	VolumeThreshold float64 // Speaking iff mean > threshold (0-255 scale)
	Analyser        AnalyserConfig
}

// DefaultConfig returns a 128-bin monitor with threshold 10.
func DefaultConfig() Config {
	return Config{
		Bins:            128,
		VolumeThreshold: 10,
		Analyser:        DefaultAnalyserConfig(),
	}
}

// Result is one classification.
type Result struct {
	Mean     float64   `json:"mean"`
	Speaking bool      `json:"speaking"`
	At       time.Time `json:"at"`
}

// MonitorStats represents monitor statistics.
type MonitorStats struct {
	Attached        bool      `json:"attached"`
	TotalSamples    uint64    `json:"total_samples"`
	VoiceSamples    uint64    `json:"voice_samples"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastMean        float64   `json:"last_mean"`
	LastSampled     time.Time `json:"last_sampled"`
	Threshold       float64   `json:"threshold"`
}

// Monitor classifies voice activity from a frequency snapshot. Each sample
// is independent of the previous one; the counters are for reporting only.
type Monitor struct {
	handle    capture.Handle
	analyser  *Analyser
	source    FrequencySource
	threshold float64
	bins      []byte

	mu           sync.Mutex
	attached     bool
	totalSamples uint64
	voiceSamples uint64
	lastMean     float64
	lastSampled  time.Time
}

// NewMonitor creates a monitor that analyses the audio track of handle.
// Nothing is read from the handle until Attach.
func NewMonitor(handle capture.Handle, cfg Config) (*Monitor, error) {
	analyser, err := NewAnalyser(cfg.Analyser)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyser: %w", err)
	}
	m, err := NewMonitorFromSource(analyser, cfg.Bins, cfg.VolumeThreshold)
	if err != nil {
		return nil, err
	}
	m.handle = handle
	m.analyser = analyser
	return m, nil
}

// NewMonitorFromSource creates a monitor over an existing frequency source.
// The monitor is considered attached from the start.
func NewMonitorFromSource(src FrequencySource, bins int, threshold float64) (*Monitor, error) {
	if bins <= 0 || bins > src.FrequencyBinCount() {
		return nil, fmt.Errorf("bins must be in [1, %d], got %d", src.FrequencyBinCount(), bins)
	}
	if threshold < 0 || threshold > 255 {
		return nil, fmt.Errorf("volume threshold must be between 0 and 255, got %f", threshold)
	}
	return &Monitor{
		source:    src,
		threshold: threshold,
		bins:      make([]byte, bins),
		attached:  true,
	}, nil
}

// Attach connects the analyser to the handle's current audio track.
func (m *Monitor) Attach() error {
	if m.handle == nil {
		return nil
	}
	track, err := m.handle.AudioTrack()
	if err != nil {
		return fmt.Errorf("failed to get audio track: %w", err)
	}
	if err := m.analyser.Attach(track); err != nil {
		return err
	}

	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()
	return nil
}

// Detach disconnects the analyser from the capture track.
func (m *Monitor) Detach() {
	if m.analyser != nil {
		m.analyser.Detach()
	}
	if m.handle != nil {
		m.mu.Lock()
		m.attached = false
		m.mu.Unlock()
	}
}

// Sample takes one snapshot and classifies it.
func (m *Monitor) Sample() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.source.ByteFrequencyData(m.bins)
	var sum int
	for _, b := range m.bins[:n] {
		sum += int(b)
	}
	mean := 0.0
	if n > 0 {
		mean = float64(sum) / float64(n)
	}

	res := Result{
		Mean:     mean,
		Speaking: mean > m.threshold,
		At:       time.Now(),
	}

	m.totalSamples++
	if res.Speaking {
		m.voiceSamples++
	}
	m.lastMean = mean
	m.lastSampled = res.At
	return res
}

// IsSpeaking samples once and reports whether the user is speaking.
func (m *Monitor) IsSpeaking() bool {
	return m.Sample().Speaking
}

// GetStats returns current monitor statistics.
func (m *Monitor) GetStats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	pct := float64(0)
	if m.totalSamples > 0 {
		pct = float64(m.voiceSamples) / float64(m.totalSamples) * 100
	}
	return MonitorStats{
		Attached:        m.attached,
		TotalSamples:    m.totalSamples,
		VoiceSamples:    m.voiceSamples,
		VoicePercentage: pct,
		LastMean:        m.lastMean,
		LastSampled:     m.lastSampled,
		Threshold:       m.threshold,
	}
}
