package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/wav"
)

// Config describes how to open the local capture source.
type Config struct {
	WAVPath    string        // Replayed file; empty means a silent source
	SampleRate int           // Used for the silent source only
	FrameSize  time.Duration // Pacing of pushed frames
	Loop       bool          // Restart the file at EOF instead of ending
	BufferSize int           // Per-subscriber frame backlog; 0 uses the stream default
}

// Open starts a paced capture source and returns its handle. The source runs
// until ctx is done, StopAll is called, or a non-looping file is exhausted.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Stream, error) {
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %v", cfg.FrameSize)
	}

	var samples []int16
	rate := cfg.SampleRate
	if cfg.WAVPath != "" {
		data, err := os.ReadFile(cfg.WAVPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read capture file: %w", err)
		}
		var info wav.Info
		samples, info, err = wav.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode capture file %s: %w", cfg.WAVPath, err)
		}
		rate = info.SampleRate
		logger.Info("Capture source opened",
			slog.String("path", cfg.WAVPath),
			slog.Int("sample_rate", info.SampleRate),
			slog.Float64("duration_seconds", info.Duration),
			slog.Bool("loop", cfg.Loop))
	} else {
		if rate <= 0 {
			return nil, fmt.Errorf("sample rate must be positive, got %d", rate)
		}
		logger.Info("Capture source opened (silence)", slog.Int("sample_rate", rate))
	}

	frameLen := int(int64(rate) * int64(cfg.FrameSize) / int64(time.Second))
	if frameLen <= 0 {
		return nil, fmt.Errorf("frame size %v too small for %d Hz", cfg.FrameSize, rate)
	}

	stream := NewStream(rate, cfg.BufferSize)
	pumpCtx, cancel := context.WithCancel(ctx)
	stream.OnStop(cancel)

	go pump(pumpCtx, stream, samples, frameLen, cfg.FrameSize, cfg.Loop, logger)
	return stream, nil
}

func pump(ctx context.Context, s *Stream, samples []int16, frameLen int, every time.Duration, loop bool, logger *slog.Logger) {
	defer s.StopAll()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	silent := len(samples) == 0
	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := make([]int16, frameLen)
		if !silent {
			if pos >= len(samples) {
				if !loop {
					logger.Info("Capture source exhausted")
					return
				}
				pos = 0
			}
			pos += copy(frame, samples[pos:])
		}
		if err := s.Push(frame); err != nil {
			return
		}
	}
}
