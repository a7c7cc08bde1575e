package audio

import (
	"fmt"
	"sync"

	"github.com/M1TCH3llM/VideoChat/internal/capture"
	"github.com/M1TCH3llM/VideoChat/internal/wav"
)

// Recorder starts recording cycles.
type Recorder interface {
	StartRecording() (Recording, error)
}

// Recording is an in-progress recording cycle.
type Recording interface {
	// Stop ends the cycle and returns the encoded payload. An empty
	// payload is not an error.
	Stop() ([]byte, error)
}

// PCMRecorder records the capture handle's audio track into WAV payloads.
type PCMRecorder struct {
	handle     capture.Handle
	maxSamples int
}

// NewPCMRecorder creates a recorder over handle. maxSamples caps the PCM
// retained per cycle; 0 means unbounded.
func NewPCMRecorder(handle capture.Handle, maxSamples int) *PCMRecorder {
	return &PCMRecorder{handle: handle, maxSamples: maxSamples}
}

// Format returns the container produced by the recorder.
func (r *PCMRecorder) Format() (format, mimeType string) {
	return "wav", wav.MIMEType
}

// StartRecording subscribes to the current audio track. It fails when the
// handle is inactive or the track has ended.
func (r *PCMRecorder) StartRecording() (Recording, error) {
	if !r.handle.IsActive() {
		return nil, fmt.Errorf("capture handle is not active: %w", capture.ErrEnded)
	}
	track, err := r.handle.AudioTrack()
	if err != nil {
		return nil, fmt.Errorf("failed to get audio track: %w", err)
	}
	if track.Ended() {
		return nil, fmt.Errorf("audio track has ended: %w", capture.ErrEnded)
	}
	sub, err := track.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to audio track: %w", err)
	}

	rec := &pcmRecording{
		sub:        sub,
		sampleRate: track.SampleRate(),
		maxSamples: r.maxSamples,
		done:       make(chan struct{}),
	}
	go rec.collect()
	return rec, nil
}

type pcmRecording struct {
	sub        *capture.Subscription
	sampleRate int
	maxSamples int
	done       chan struct{}

	mu      sync.Mutex
	samples []int16
	stopped bool
}

func (r *pcmRecording) collect() {
	defer close(r.done)
	for frame := range r.sub.C {
		r.mu.Lock()
		if r.maxSamples > 0 && len(r.samples)+len(frame) > r.maxSamples {
			frame = frame[:max(0, r.maxSamples-len(r.samples))]
		}
		r.samples = append(r.samples, frame...)
		r.mu.Unlock()
	}
}

func (r *pcmRecording) Stop() ([]byte, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, fmt.Errorf("recording already stopped")
	}
	r.stopped = true
	r.mu.Unlock()

	r.sub.Close()
	<-r.done

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	if len(samples) == 0 {
		return nil, nil
	}
	data, err := wav.Encode(samples, r.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}
	return data, nil
}
