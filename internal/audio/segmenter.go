package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/google/uuid"
)

// VoiceMonitor classifies voice activity on the capture track.
type VoiceMonitor interface {
	Attach() error
	IsSpeaking() bool
	Detach()
}

// Sink receives dispatched chunks. Dispatch must not block.
type Sink interface {
	Dispatch(chunk *AudioChunk)
}

// Ticker delivers sample ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithTicker replaces the sample ticker factory.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(s *Segmenter) { s.newTicker = newTicker }
}

// WithAfter replaces the retry backoff timer.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Segmenter) { s.after = after }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithFormat sets the container labels stamped on chunks.
func WithFormat(format, mimeType string) Option {
	return func(s *Segmenter) {
		s.format = format
		s.mimeType = mimeType
	}
}

// SegmenterStats represents segmenter statistics.
type SegmenterStats struct {
	Streaming         bool   `json:"streaming"`
	Recording         bool   `json:"recording"`
	Cycles            uint64 `json:"cycles"`
	ChunksDispatched  uint64 `json:"chunks_dispatched"`
	ChunksDiscarded   uint64 `json:"chunks_discarded"`
	StartFailures     uint64 `json:"start_failures"`
	StopFailures      uint64 `json:"stop_failures"`
	LastChunkReason   string `json:"last_chunk_reason,omitempty"`
	LastChunkDuration string `json:"last_chunk_duration,omitempty"`
}

// Segmenter runs the record, sample, cut, restart loop while streaming.
// At most one loop goroutine exists at a time.
type Segmenter struct {
	policy   Policy
	recorder Recorder
	monitor  VoiceMonitor
	sink     Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	format   string
	mimeType string

	newTicker func(time.Duration) Ticker
	after     func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu        sync.Mutex
	streaming bool
	running   bool
	recording bool
	closed    bool
	stats     SegmenterStats
}

// NewSegmenter creates a segmenter. The policy is validated and copied.
func NewSegmenter(policy Policy, recorder Recorder, monitor VoiceMonitor, sink Sink,
	logger *slog.Logger, opts ...Option) (*Segmenter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmentation policy: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Segmenter{
		policy:   policy,
		recorder: recorder,
		monitor:  monitor,
		sink:     sink,
		logger:   logger,
		format:   "wav",
		mimeType: "audio/wav",
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{t: time.NewTicker(d)}
		},
		after:  time.After,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the segmenter's policy.
func (s *Segmenter) Policy() Policy {
	return s.policy
}

// Start sets the streaming flag and launches the loop if it is not already
// running. It returns true only when a new loop was launched.
func (s *Segmenter) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.streaming = true
	s.metrics.SetStreaming(true)
	if s.running {
		return false
	}

	s.running = true
	s.wg.Add(1)
	go s.run()

	s.logger.Info("Audio streaming started")
	return true
}

// Stop clears the streaming flag. The loop finalizes the current cycle and
// exits within one sample interval. Stopping an idle segmenter is a no-op.
func (s *Segmenter) Stop() {
	s.mu.Lock()
	wasStreaming := s.streaming
	s.streaming = false
	s.mu.Unlock()

	s.metrics.SetStreaming(false)
	select {
	case s.wake <- struct{}{}:
	default:
	}

	if wasStreaming {
		s.logger.Info("Audio streaming stopped")
	}
}

// IsStreaming reports the streaming flag.
func (s *Segmenter) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// IsRecording reports whether a recording cycle is in progress.
func (s *Segmenter) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Close stops streaming and waits for the loop to exit.
func (s *Segmenter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until no loop goroutine is running.
func (s *Segmenter) Wait() {
	s.wg.Wait()
}

// GetStats returns current segmenter statistics.
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Streaming = s.streaming
	stats.Recording = s.recording
	return stats
}

// continueLoop is checked at the top of every cycle. When streaming has been
// cleared it detaches the monitor and marks the loop as exited under the
// same lock Start uses, so a concurrent Start either sees running=true or
// launches a fresh loop whose Attach comes after this Detach.
func (s *Segmenter) continueLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming && s.ctx.Err() == nil {
		return true
	}
	s.exitLocked()
	return false
}

// giveUp ends the streaming session after exhausting start retries.
func (s *Segmenter) giveUp() {
	s.mu.Lock()
	s.streaming = false
	s.exitLocked()
	s.mu.Unlock()
	s.metrics.SetStreaming(false)
}

// exitLocked releases the monitor and clears running. Callers hold s.mu.
func (s *Segmenter) exitLocked() {
	s.monitor.Detach()
	s.running = false
}

func (s *Segmenter) setRecording(v bool) {
	s.mu.Lock()
	s.recording = v
	if v {
		s.stats.Cycles++
	}
	s.mu.Unlock()
}

func (s *Segmenter) run() {
	defer s.wg.Done()

	if err := s.monitor.Attach(); err != nil {
		s.logger.Warn("Failed to attach voice activity monitor",
			slog.String("error", err.Error()))
	}

	failures := 0
	for s.continueLoop() {
		rec, err := s.recorder.StartRecording()
		if err != nil {
			failures++
			s.mu.Lock()
			s.stats.StartFailures++
			s.mu.Unlock()
			s.metrics.RecordRecorderStartFailure()

			if failures > s.policy.MaxStartRetries {
				s.logger.Error("Recorder failed to start, giving up until next start",
					slog.String("error", err.Error()),
					slog.Int("attempts", failures))
				s.giveUp()
				return
			}

			s.logger.Warn("Recorder failed to start, retrying",
				slog.String("error", err.Error()),
				slog.Duration("backoff", s.policy.RetryBackoff))
			s.backoff()
			continue
		}

		failures = 0
		s.record(rec)
	}
}

// backoff waits out RetryBackoff, returning early if streaming is stopped.
func (s *Segmenter) backoff() {
	timer := s.after(s.policy.RetryBackoff)
	for {
		select {
		case <-timer:
			return
		case <-s.ctx.Done():
			return
		case <-s.wake:
			if !s.IsStreaming() {
				return
			}
		}
	}
}

// record runs one cycle from start to finalization.
func (s *Segmenter) record(rec Recording) {
	s.setRecording(true)
	defer s.setRecording(false)

	ticker := s.newTicker(s.policy.SampleInterval)
	c := cycle{startedAt: time.Now()}
	reason := CutStopped

sampling:
	for {
		select {
		case <-s.ctx.Done():
			break sampling
		case <-s.wake:
			if !s.IsStreaming() {
				break sampling
			}
			continue
		case <-ticker.C():
		}

		if !s.IsStreaming() {
			break sampling
		}

		speaking := s.monitor.IsSpeaking()
		s.metrics.RecordVoiceSample(speaking)
		if r := c.tick(speaking, s.policy); r != CutNone {
			reason = r
			break sampling
		}
	}
	ticker.Stop()

	data, err := rec.Stop()
	if err != nil {
		s.mu.Lock()
		s.stats.StopFailures++
		s.mu.Unlock()
		s.logger.Warn("Failed to finalize recording", slog.String("error", err.Error()))
		return
	}
	s.finalize(c, data, reason)
}

func (s *Segmenter) finalize(c cycle, data []byte, reason CutReason) {
	chunk := &AudioChunk{
		ID:         uuid.NewString(),
		Data:       data,
		Format:     s.format,
		MIMEType:   s.mimeType,
		StartedAt:  c.startedAt,
		Duration:   c.elapsed,
		MinimumMet: c.elapsed >= s.policy.MinChunkDuration,
		Reason:     reason,
		SizeBytes:  len(data),
	}

	accepted := s.policy.Accepts(chunk.SizeBytes)
	s.metrics.RecordChunk(reason.String(), chunk.Duration.Seconds(), chunk.SizeBytes, !accepted)

	s.mu.Lock()
	if accepted {
		s.stats.ChunksDispatched++
	} else {
		s.stats.ChunksDiscarded++
	}
	s.stats.LastChunkReason = reason.String()
	s.stats.LastChunkDuration = chunk.Duration.String()
	s.mu.Unlock()

	if !accepted {
		s.logger.Debug("Discarding undersized chunk",
			slog.String("chunk_id", chunk.ID),
			slog.Int("size_bytes", chunk.SizeBytes),
			slog.String("reason", reason.String()))
		return
	}

	s.logger.Debug("Chunk ready",
		slog.String("chunk_id", chunk.ID),
		slog.Int("size_bytes", chunk.SizeBytes),
		slog.Duration("duration", chunk.Duration),
		slog.String("reason", reason.String()))
	s.sink.Dispatch(chunk)
}
