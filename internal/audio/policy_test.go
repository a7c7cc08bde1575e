package audio

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if p.MinChunkDuration != 2*time.Second || p.MaxChunkDuration != 8*time.Second {
		t.Errorf("unexpected chunk bounds: %v / %v", p.MinChunkDuration, p.MaxChunkDuration)
	}
	if p.SilenceCutThreshold != 1500*time.Millisecond || p.SampleInterval != 100*time.Millisecond {
		t.Errorf("unexpected timing: %v / %v", p.SilenceCutThreshold, p.SampleInterval)
	}
	if p.VolumeThreshold != 10 || p.MinChunkBytes != 3000 {
		t.Errorf("unexpected thresholds: %f / %d", p.VolumeThreshold, p.MinChunkBytes)
	}
	if p.RetryBackoff != time.Second || p.MaxStartRetries != 1 {
		t.Errorf("unexpected retry policy: %v / %d", p.RetryBackoff, p.MaxStartRetries)
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero interval", func(p *Policy) { p.SampleInterval = 0 }},
		{"min above max", func(p *Policy) { p.MinChunkDuration = 9 * time.Second }},
		{"max below interval", func(p *Policy) { p.MaxChunkDuration = 50 * time.Millisecond; p.MinChunkDuration = 0 }},
		{"zero silence", func(p *Policy) { p.SilenceCutThreshold = 0 }},
		{"volume above 255", func(p *Policy) { p.VolumeThreshold = 256 }},
		{"negative bytes", func(p *Policy) { p.MinChunkBytes = -1 }},
		{"negative retries", func(p *Policy) { p.MaxStartRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPolicyEvaluate(t *testing.T) {
	p := DefaultPolicy()
	ms := time.Millisecond
	tests := []struct {
		name    string
		elapsed time.Duration
		silence time.Duration
		want    CutReason
	}{
		{"too early", 1000 * ms, 1000 * ms, CutNone},
		{"minimum without silence", 2000 * ms, 0, CutNone},
		{"silence before minimum", 1900 * ms, 1900 * ms, CutNone},
		{"minimum and silence", 2000 * ms, 1500 * ms, CutPause},
		{"silence just short", 3000 * ms, 1400 * ms, CutNone},
		{"max while speaking", 8000 * ms, 0, CutMaxDuration},
		{"max wins over pause", 8000 * ms, 2000 * ms, CutMaxDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Evaluate(tt.elapsed, tt.silence); got != tt.want {
				t.Errorf("Evaluate(%v, %v) = %v, want %v", tt.elapsed, tt.silence, got, tt.want)
			}
		})
	}
}

func TestPolicyAccepts(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		size int
		want bool
	}{
		{0, false},
		{2000, false},
		{3000, false},
		{3001, true},
		{5000, true},
	}
	for _, tt := range tests {
		if got := p.Accepts(tt.size); got != tt.want {
			t.Errorf("Accepts(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestCycleTickScriptedSpeech(t *testing.T) {
	p := DefaultPolicy()
	c := cycle{}

	// speaking for the first 1000ms, silent afterwards
	var reason CutReason
	ticks := 0
	for reason == CutNone && ticks < 200 {
		ticks++
		reason = c.tick(ticks <= 10, p)
	}

	if reason != CutPause {
		t.Fatalf("expected pause cut, got %v", reason)
	}
	if c.elapsed != 2500*time.Millisecond {
		t.Errorf("expected cut at 2500ms, got %v", c.elapsed)
	}
	if c.silence != 1500*time.Millisecond {
		t.Errorf("expected 1500ms of silence, got %v", c.silence)
	}
}

func TestCycleTickSpeechResetsSilence(t *testing.T) {
	p := DefaultPolicy()
	c := cycle{}
	for i := 0; i < 14; i++ {
		c.tick(false, p)
	}
	c.tick(true, p)
	if c.silence != 0 {
		t.Errorf("expected silence reset by speech, got %v", c.silence)
	}
}

func TestCutReasonString(t *testing.T) {
	tests := map[CutReason]string{
		CutNone:        "none",
		CutMaxDuration: "max_duration",
		CutPause:       "pause",
		CutStopped:     "stopped",
	}
	for r, want := range tests {
		if r.String() != want {
			t.Errorf("expected %q, got %q", want, r.String())
		}
	}
}

func TestChunkFileName(t *testing.T) {
	c := &AudioChunk{Format: "wav"}
	if got := c.FileName(""); got != "chunk.wav" {
		t.Errorf("expected chunk.wav, got %s", got)
	}
	if got := c.FileName("segment"); got != "segment.wav" {
		t.Errorf("expected segment.wav, got %s", got)
	}
}
