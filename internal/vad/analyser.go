package vad

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/M1TCH3llM/VideoChat/internal/capture"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// AnalyserConfig configures the frequency analyser.
type AnalyserConfig struct {
	FFTSize     int     // Power of two between 32 and 32768
	Smoothing   float64 // Time smoothing between snapshots, 0 disables
	MinDecibels float64 // Mapped to byte 0
	MaxDecibels float64 // Mapped to byte 255
}

// DefaultAnalyserConfig returns a 256-point analyser with no smoothing.
func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:     256,
		Smoothing:   0,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// Validate checks the analyser configuration.
func (c AnalyserConfig) Validate() error {
	if c.FFTSize < 32 || c.FFTSize > 32768 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft size must be a power of two in [32, 32768], got %d", c.FFTSize)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("smoothing must be in [0, 1), got %f", c.Smoothing)
	}
	if c.MinDecibels >= c.MaxDecibels {
		return fmt.Errorf("min decibels (%f) must be below max decibels (%f)", c.MinDecibels, c.MaxDecibels)
	}
	return nil
}

// Analyser computes byte frequency snapshots over the latest FFTSize samples.
type Analyser struct {
	cfg AnalyserConfig
	fft *fourier.FFT

	mu       sync.Mutex
	ring     []float64 // normalized to [-1, 1)
	pos      int
	seq      []float64
	smoothed []float64

	sub  *capture.Subscription
	done chan struct{}
}

// NewAnalyser creates an analyser.
func NewAnalyser(cfg AnalyserConfig) (*Analyser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyser{
		cfg:      cfg,
		fft:      fourier.NewFFT(cfg.FFTSize),
		ring:     make([]float64, cfg.FFTSize),
		seq:      make([]float64, cfg.FFTSize),
		smoothed: make([]float64, cfg.FFTSize/2),
	}, nil
}

// FrequencyBinCount returns the number of bins in a snapshot.
func (a *Analyser) FrequencyBinCount() int {
	return a.cfg.FFTSize / 2
}

// Write feeds PCM samples into the analysis window.
func (a *Analyser) Write(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) > len(a.ring) {
		samples = samples[len(samples)-len(a.ring):]
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// Attach subscribes to track and feeds its frames into the analyser until
// Detach is called or the track ends. Any previous attachment is dropped.
func (a *Analyser) Attach(track capture.Track) error {
	sub, err := track.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to audio track: %w", err)
	}

	a.Detach()
	a.Reset()

	done := make(chan struct{})
	a.mu.Lock()
	a.sub = sub
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		for frame := range sub.C {
			a.Write(frame)
		}
	}()
	return nil
}

// Detach stops consuming the attached track, if any.
func (a *Analyser) Detach() {
	a.mu.Lock()
	sub, done := a.sub, a.done
	a.sub, a.done = nil, nil
	a.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
}

// Reset clears the window and smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// ByteFrequencyData writes the current snapshot into dst and returns the
// number of bins written. Magnitudes are Blackman-windowed, normalized by
// the FFT size and mapped linearly from [MinDecibels, MaxDecibels] onto
// [0, 255].
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	// oldest sample first
	copy(a.seq, a.ring[a.pos:])
	copy(a.seq[n-a.pos:], a.ring[:a.pos])
	window.Blackman(a.seq)

	coeffs := a.fft.Coefficients(nil, a.seq)

	bins := min(len(dst), len(a.smoothed))
	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	tau := a.cfg.Smoothing
	for i := range a.smoothed {
		mag := cmplx.Abs(coeffs[i]) / float64(n)
		a.smoothed[i] = tau*a.smoothed[i] + (1-tau)*mag
		if i >= bins {
			continue
		}

		if a.smoothed[i] <= 0 {
			dst[i] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[i])
		scaled := math.Floor(255 / span * (db - a.cfg.MinDecibels))
		switch {
		case scaled < 0:
			dst[i] = 0
		case scaled > 255:
			dst[i] = 255
		default:
			dst[i] = byte(scaled)
		}
	}
	return bins
}
