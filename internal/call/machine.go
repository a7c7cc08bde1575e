package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/M1TCH3llM/VideoChat/internal/protocol"
)

var (
	// ErrInvalidPeer is returned when placing a call without a peer.
	ErrInvalidPeer = errors.New("please enter a valid username to call")

	// ErrSelfCall is returned when placing a call to oneself.
	ErrSelfCall = errors.New("please enter a valid username to call: cannot call yourself")

	// ErrCallInProgress is returned when placing a call while not idle.
	ErrCallInProgress = errors.New("a call is already in progress")

	// ErrNoIncomingCall is returned when answering without a ringing caller.
	ErrNoIncomingCall = errors.New("you cannot answer a call you initiated")
)

// Actions issues the REST side of call control. The server relays each
// action to the peer over the signaling channel.
type Actions interface {
	Ring(ctx context.Context, receiver string) error
	Answer(ctx context.Context, callID protocol.CallID, caller string) error
	Hangup(ctx context.Context, callID protocol.CallID, peer string) error
}

// Streamer is the audio pipeline as seen by the machine.
type Streamer interface {
	Start() bool
	Stop()
}

// EventKind classifies machine events.
type EventKind int

const (
	EventCalling EventKind = iota
	EventIncoming
	EventConnected
	EventPeerHungUp
	EventEnded
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventCalling:
		return "calling"
	case EventIncoming:
		return "incoming"
	case EventConnected:
		return "connected"
	case EventPeerHungUp:
		return "peer_hung_up"
	case EventEnded:
		return "ended"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is emitted after every transition, outside the machine lock.
type Event struct {
	Kind    EventKind
	Notice  string
	Session Session
}

// Observer receives machine events.
type Observer interface {
	OnCallEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnCallEvent implements Observer.
func (f ObserverFunc) OnCallEvent(e Event) { f(e) }

// Config configures a Machine.
type Config struct {
	Self          string          // local username
	DefaultCallID protocol.CallID // used when the server supplies none
}

// Machine serializes all call transitions. It is not reentrant: each
// transition, including its REST action and streamer start/stop, completes
// before the next one begins.
type Machine struct {
	cfg       Config
	actions   Actions
	streamer  Streamer
	logger    *slog.Logger
	metrics   *metrics.Metrics

	obsMu     sync.RWMutex
	observers []Observer

	mu      sync.Mutex
	session Session
}

// NewMachine creates a machine in the Idle state.
func NewMachine(cfg Config, actions Actions, streamer Streamer, logger *slog.Logger, m *metrics.Metrics, observers ...Observer) *Machine {
	if cfg.DefaultCallID == 0 {
		cfg.DefaultCallID = protocol.DefaultCallID
	}
	return &Machine{
		cfg:       cfg,
		actions:   actions,
		streamer:  streamer,
		logger:    logger,
		metrics:   m,
		observers: observers,
		session:   idleSession(),
	}
}

// Snapshot returns a copy of the session.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// PlaceCall rings peer and moves to Ringing as the caller.
func (m *Machine) PlaceCall(ctx context.Context, peer string) error {
	peer = strings.TrimSpace(peer)

	m.mu.Lock()
	ev, err := m.placeCall(ctx, peer)
	m.mu.Unlock()

	m.emit(ev)
	return err
}

func (m *Machine) placeCall(ctx context.Context, peer string) (*Event, error) {
	if peer == "" {
		return nil, ErrInvalidPeer
	}
	if peer == m.cfg.Self {
		return nil, ErrSelfCall
	}
	if m.session.Status != StatusIdle {
		return nil, fmt.Errorf("%w with %s", ErrCallInProgress, m.session.Peer)
	}

	if err := m.actions.Ring(ctx, peer); err != nil {
		return nil, fmt.Errorf("failed to ring %s: %w", peer, err)
	}

	m.transition(Session{
		Status: StatusRinging,
		Role:   RoleCaller,
		Peer:   peer,
		CallID: m.cfg.DefaultCallID,
	})
	return m.event(EventCalling, fmt.Sprintf("Calling %s...", peer)), nil
}

// Answer accepts the ringing incoming call and starts streaming.
func (m *Machine) Answer(ctx context.Context) error {
	m.mu.Lock()
	ev, err := m.answer(ctx)
	m.mu.Unlock()

	m.emit(ev)
	return err
}

func (m *Machine) answer(ctx context.Context) (*Event, error) {
	s := m.session
	if s.Status != StatusRinging || s.Role != RoleReceiver || s.Peer == "" {
		return nil, ErrNoIncomingCall
	}

	if err := m.actions.Answer(ctx, s.CallID, s.Peer); err != nil {
		return nil, fmt.Errorf("failed to answer %s: %w", s.Peer, err)
	}

	s.Status = StatusActive
	s.RemoteMirrored = true
	m.transition(s)
	m.streamer.Start()
	return m.event(EventConnected, fmt.Sprintf("Call Answered. Connected to %s.", s.Peer)), nil
}

// Hangup ends the call locally and notifies the peer. The session returns
// to Idle and streaming stops even if the notification fails; the failure
// is returned.
func (m *Machine) Hangup(ctx context.Context) error {
	m.mu.Lock()
	ev, err := m.hangup(ctx)
	m.mu.Unlock()

	m.emit(ev)
	return err
}

func (m *Machine) hangup(ctx context.Context) (*Event, error) {
	if m.session.Status == StatusIdle {
		m.streamer.Stop()
		return nil, nil
	}

	s := m.session
	err := m.actions.Hangup(ctx, s.CallID, s.Peer)
	if err != nil {
		err = fmt.Errorf("failed to notify %s of hangup: %w", s.Peer, err)
		m.logger.Warn("Hangup notification failed, ending call locally",
			slog.String("peer", s.Peer),
			slog.String("error", err.Error()))
	}

	m.streamer.Stop()
	m.transition(idleSession())
	return m.event(EventEnded, "Call Ended. Ready for new call."), err
}

// HandleRing applies an inbound RING from sender.
func (m *Machine) HandleRing(sender string, callID protocol.CallID) {
	m.mu.Lock()
	ev := m.handleRing(strings.TrimSpace(sender), callID)
	m.mu.Unlock()

	m.emit(ev)
}

func (m *Machine) handleRing(sender string, callID protocol.CallID) *Event {
	if sender == "" {
		m.logger.Debug("Ignoring RING without sender")
		return nil
	}
	callID = callID.OrDefault(m.cfg.DefaultCallID)

	s := m.session
	if s.Status == StatusRinging && s.Role == RoleReceiver && s.Peer == sender && s.CallID == callID {
		return nil
	}
	if s.Status == StatusActive {
		m.streamer.Stop()
	}

	m.transition(Session{
		Status: StatusRinging,
		Role:   RoleReceiver,
		Peer:   sender,
		CallID: callID,
	})
	return m.event(EventIncoming, fmt.Sprintf("INCOMING CALL from %s!", sender))
}

// HandleAnswered applies an inbound ANSWERED. Only the caller of a ringing
// call reacts; anything else is stale and ignored.
func (m *Machine) HandleAnswered(responder string, callID protocol.CallID) {
	m.mu.Lock()
	ev := m.handleAnswered(strings.TrimSpace(responder), callID)
	m.mu.Unlock()

	m.emit(ev)
}

func (m *Machine) handleAnswered(responder string, callID protocol.CallID) *Event {
	s := m.session
	if s.Role != RoleCaller || s.Status != StatusRinging {
		m.logger.Debug("Ignoring ANSWERED",
			slog.String("status", s.Status.String()),
			slog.String("role", s.Role.String()),
			slog.String("responder", responder))
		return nil
	}

	if responder != "" {
		s.Peer = responder
	}
	s.CallID = callID.OrDefault(s.CallID)
	s.Status = StatusActive
	s.RemoteMirrored = true
	m.transition(s)
	m.streamer.Start()
	return m.event(EventConnected, fmt.Sprintf("Connected to %s", s.Peer))
}

// HandleHangup applies an inbound HANGUP. It is a no-op when Idle.
func (m *Machine) HandleHangup() {
	m.mu.Lock()
	ev := m.handleHangup()
	m.mu.Unlock()

	m.emit(ev)
}

func (m *Machine) handleHangup() *Event {
	m.streamer.Stop()
	if m.session.Status == StatusIdle {
		return nil
	}
	m.transition(idleSession())
	return m.event(EventPeerHungUp, "The other user ended the call.")
}

// Reset forces the session to Idle, e.g. on logout or when the signaling
// channel is gone.
func (m *Machine) Reset(reason string) {
	m.mu.Lock()
	m.streamer.Stop()
	var ev *Event
	if m.session.Status != StatusIdle {
		m.transition(idleSession())
		ev = m.event(EventReset, reason)
	}
	m.mu.Unlock()

	m.emit(ev)
}

// transition replaces the session. Callers hold m.mu.
func (m *Machine) transition(next Session) {
	prev := m.session
	if next.Since.IsZero() {
		next.Since = time.Now()
	}
	if err := next.Validate(); err != nil {
		// unreachable through the public API
		m.logger.Error("Invalid call session", slog.String("error", err.Error()))
	}
	m.session = next

	m.metrics.RecordCallTransition(strings.ToLower(prev.Status.String()), strings.ToLower(next.Status.String()))
	m.logger.Info("Call state changed",
		slog.String("from", prev.Status.String()),
		slog.String("to", next.Status.String()),
		slog.String("role", next.Role.String()),
		slog.String("peer", next.Peer),
		slog.Int64("call_id", int64(next.CallID)))
}

func (m *Machine) event(kind EventKind, notice string) *Event {
	return &Event{Kind: kind, Notice: notice, Session: m.session}
}

func (m *Machine) emit(ev *Event) {
	if ev == nil {
		return
	}
	m.obsMu.RLock()
	observers := m.observers
	m.obsMu.RUnlock()
	for _, o := range observers {
		o.OnCallEvent(*ev)
	}
}

// Observe registers o for every event emitted after the call returns.
func (m *Machine) Observe(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers[:len(m.observers):len(m.observers)], o)
}
