package call

import (
	"context"
	"log/slog"

	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/M1TCH3llM/VideoChat/internal/protocol"
	"github.com/M1TCH3llM/VideoChat/internal/transcript"
)

// Dispatcher routes signaling messages to the machine and the transcript.
// It observes the machine so that every connected call starts with an empty
// transcript, with or without a console attached.
type Dispatcher struct {
	machine    *Machine
	transcript *transcript.Buffer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(machine *Machine, buf *transcript.Buffer, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		machine:    machine,
		transcript: buf,
		logger:     logger,
		metrics:    m,
	}
	machine.Observe(d)
	return d
}

// OnCallEvent implements Observer.
func (d *Dispatcher) OnCallEvent(e Event) {
	if e.Kind == EventConnected {
		d.transcript.Reset()
	}
}

// Run handles messages one at a time until ctx is done or msgs is closed.
// A closed channel resets the session to Idle.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan protocol.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				d.logger.Info("Signaling channel closed, resetting call session")
				d.machine.Reset("Signaling connection lost. Call ended.")
				return nil
			}
			d.Handle(msg)
		}
	}
}

// Handle routes a single message. Messages that fail validation are dropped.
func (d *Dispatcher) Handle(msg protocol.Message) {
	if err := msg.Validate(); err != nil {
		d.logger.Debug("Ignoring invalid signaling message",
			slog.String("message", msg.String()),
			slog.String("error", err.Error()))
		return
	}

	switch {
	case msg.IsCall(protocol.ActionRing):
		d.machine.HandleRing(msg.Sender, msg.CallID)
	case msg.IsCall(protocol.ActionAnswered):
		d.machine.HandleAnswered(msg.Responder, msg.CallID)
	case msg.IsCall(protocol.ActionHangup):
		d.machine.HandleHangup()
	case msg.Type == protocol.TypeTranscript:
		if d.transcript.Append(msg.Sender, msg.Text) {
			d.metrics.RecordTranscriptLine()
		}
	default:
		d.logger.Debug("Ignoring signaling message", slog.String("type", msg.Type))
	}
}
