// Package transcript keeps the transcript lines delivered during a session.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Line is one delivered transcript fragment.
type Line struct {
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Buffer is an append-only transcript, cleared only by Reset.
type Buffer struct {
	mu    sync.RWMutex
	lines []Line
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds text from sender. Blank text is ignored.
func (b *Buffer) Append(sender, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, Line{Sender: sender, Text: text, ReceivedAt: time.Now()})
	return true
}

// Lines returns a copy of all lines.
func (b *Buffer) Lines() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// Text joins all lines with spaces.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	parts := make([]string, len(b.lines))
	for i, l := range b.lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, " ")
}

// Len returns the number of lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Reset clears the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
}
