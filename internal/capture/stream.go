package capture

import (
	"errors"
	"sync"
)

// ErrEnded is returned when the handle has been stopped or the track ended.
var ErrEnded = errors.New("capture: track ended")

// Handle is an open capture source with live/ended status.
type Handle interface {
	// AudioTrack returns the live audio track or ErrEnded.
	AudioTrack() (Track, error)
	// IsActive reports whether the source is still producing.
	IsActive() bool
	// StopAll ends every track and releases the source. Safe to call twice.
	StopAll()
}

// Track is a single audio track of a Handle.
type Track interface {
	SampleRate() int
	// Subscribe returns an independent consumer of the track's frames.
	Subscribe() (*Subscription, error)
	Ended() bool
}

// Subscription receives mono PCM-16 frames until closed or the track ends.
type Subscription struct {
	C <-chan []int16

	ch     chan []int16
	stream *Stream
	once   sync.Once
}

// Close detaches the subscription from its track.
func (s *Subscription) Close() {
	s.stream.unsubscribe(s)
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// StreamStats holds counters for a Stream.
type StreamStats struct {
	SampleRate    int    `json:"sample_rate"`
	BufferSize    int    `json:"buffer_size"`
	Active        bool   `json:"active"`
	Subscribers   int    `json:"subscribers"`
	FramesPushed  uint64 `json:"frames_pushed"`
	FramesDropped uint64 `json:"frames_dropped"`
}

// Stream is an in-memory capture source. It is both the Handle and its only
// audio Track. Frames pushed into it fan out to every subscriber; a slow
// subscriber loses frames rather than blocking the producer.
type Stream struct {
	sampleRate int
	bufferSize int

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	ended   bool
	pushed  uint64
	dropped uint64
	onStop  []func()
}

// NewStream creates a live stream. bufferSize is the per-subscriber frame
// backlog.
func NewStream(sampleRate, bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Stream{
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		subs:       make(map[*Subscription]struct{}),
	}
}

// AudioTrack implements Handle.
func (s *Stream) AudioTrack() (Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrEnded
	}
	return s, nil
}

// IsActive implements Handle.
func (s *Stream) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// Ended implements Track.
func (s *Stream) Ended() bool {
	return !s.IsActive()
}

// SampleRate implements Track.
func (s *Stream) SampleRate() int {
	return s.sampleRate
}

// Subscribe implements Track.
func (s *Stream) Subscribe() (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrEnded
	}
	ch := make(chan []int16, s.bufferSize)
	sub := &Subscription{C: ch, ch: ch, stream: s}
	s.subs[sub] = struct{}{}
	return sub, nil
}

func (s *Stream) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.closeChan()
}

// Push delivers a frame to all subscribers. It returns ErrEnded after StopAll.
func (s *Stream) Push(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrEnded
	}
	s.pushed++
	for sub := range s.subs {
		select {
		case sub.ch <- frame:
		default:
			s.dropped++
		}
	}
	return nil
}

// OnStop registers fn to run once when the stream is stopped.
func (s *Stream) OnStop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = append(s.onStop, fn)
}

// StopAll implements Handle.
func (s *Stream) StopAll() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	subs := s.subs
	s.subs = make(map[*Subscription]struct{})
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	for sub := range subs {
		sub.closeChan()
	}
	for _, fn := range hooks {
		fn()
	}
}

// GetStats returns a snapshot of the stream counters.
func (s *Stream) GetStats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamStats{
		SampleRate:    s.sampleRate,
		BufferSize:    s.bufferSize,
		Active:        !s.ended,
		Subscribers:   len(s.subs),
		FramesPushed:  s.pushed,
		FramesDropped: s.dropped,
	}
}
