package call

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/protocol"
)

type actionCall struct {
	action string
	peer   string
	callID protocol.CallID
}

type fakeActions struct {
	mu        sync.Mutex
	calls     []actionCall
	ringErr   error
	answerErr error
	hangupErr error
}

func (f *fakeActions) record(action, peer string, id protocol.CallID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, actionCall{action: action, peer: peer, callID: id})
}

func (f *fakeActions) Ring(_ context.Context, receiver string) error {
	f.record("ring", receiver, 0)
	return f.ringErr
}

func (f *fakeActions) Answer(_ context.Context, id protocol.CallID, caller string) error {
	f.record("answer", caller, id)
	return f.answerErr
}

func (f *fakeActions) Hangup(_ context.Context, id protocol.CallID, peer string) error {
	f.record("hangup", peer, id)
	return f.hangupErr
}

func (f *fakeActions) Calls() []actionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]actionCall(nil), f.calls...)
}

type fakeStreamer struct {
	mu        sync.Mutex
	streaming bool
	starts    int
	stops     int
}

func (f *fakeStreamer) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.streaming {
		return false
	}
	f.streaming = true
	return true
}

func (f *fakeStreamer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.streaming = false
}

func (f *fakeStreamer) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnCallEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Notices() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Notice
	}
	return out
}

func newTestMachine(self string) (*Machine, *fakeActions, *fakeStreamer, *eventLog) {
	actions := &fakeActions{}
	streamer := &fakeStreamer{}
	events := &eventLog{}
	m := NewMachine(Config{Self: self},
		actions, streamer,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil, events)
	return m, actions, streamer, events
}

func TestPlaceCallAnswered(t *testing.T) {
	m, actions, streamer, events := newTestMachine("alice")
	ctx := context.Background()

	if err := m.PlaceCall(ctx, " bob "); err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	s := m.Snapshot()
	if s.Status != StatusRinging || s.Role != RoleCaller || s.Peer != "bob" {
		t.Fatalf("unexpected session after ring: %+v", s)
	}
	if s.CallID != protocol.DefaultCallID {
		t.Errorf("expected default call id, got %d", s.CallID)
	}

	m.HandleAnswered("bob", 0)
	s = m.Snapshot()
	if s.Status != StatusActive || s.Peer != "bob" || !s.RemoteMirrored {
		t.Fatalf("unexpected session after answered: %+v", s)
	}
	if !streamer.Streaming() {
		t.Error("expected streaming to start")
	}

	// duplicate ANSWERED is ignored
	m.HandleAnswered("bob", 0)
	if streamer.starts != 1 {
		t.Errorf("expected 1 start, got %d", streamer.starts)
	}

	m.HandleHangup()
	s = m.Snapshot()
	if s.Status != StatusIdle || s.Peer != "" || s.Role != RoleNone {
		t.Fatalf("unexpected session after hangup: %+v", s)
	}
	if streamer.Streaming() {
		t.Error("expected streaming to stop")
	}

	want := []string{"Calling bob...", "Connected to bob", "The other user ended the call."}
	got := events.Notices()
	if len(got) != len(want) {
		t.Fatalf("expected notices %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notice %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	calls := actions.Calls()
	if len(calls) != 1 || calls[0].action != "ring" || calls[0].peer != "bob" {
		t.Errorf("unexpected actions: %+v", calls)
	}
}

func TestIncomingCallAnswerAndHangup(t *testing.T) {
	m, actions, streamer, events := newTestMachine("bob")
	ctx := context.Background()

	m.HandleRing("carol", 42)
	s := m.Snapshot()
	if s.Status != StatusRinging || s.Role != RoleReceiver || s.Peer != "carol" || s.CallID != 42 {
		t.Fatalf("unexpected session after RING: %+v", s)
	}

	if err := m.Answer(ctx); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if s := m.Snapshot(); s.Status != StatusActive {
		t.Fatalf("expected Active, got %s", s.Status)
	}
	if !streamer.Streaming() {
		t.Error("expected streaming after answer")
	}

	if err := m.Hangup(ctx); err != nil {
		t.Fatalf("Hangup failed: %v", err)
	}
	if s := m.Snapshot(); s.Status != StatusIdle {
		t.Fatalf("expected Idle, got %s", s.Status)
	}
	if streamer.Streaming() {
		t.Error("expected streaming to stop after hangup")
	}

	calls := actions.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 actions, got %+v", calls)
	}
	if calls[0] != (actionCall{action: "answer", peer: "carol", callID: 42}) {
		t.Errorf("unexpected answer call: %+v", calls[0])
	}
	if calls[1] != (actionCall{action: "hangup", peer: "carol", callID: 42}) {
		t.Errorf("unexpected hangup call: %+v", calls[1])
	}

	notices := events.Notices()
	if notices[0] != "INCOMING CALL from carol!" || notices[1] != "Call Answered. Connected to carol." || notices[2] != "Call Ended. Ready for new call." {
		t.Errorf("unexpected notices: %q", notices)
	}
}

func TestRingDefaultsCallID(t *testing.T) {
	m, _, _, _ := newTestMachine("bob")
	m.HandleRing("carol", 0)
	if got := m.Snapshot().CallID; got != protocol.DefaultCallID {
		t.Errorf("expected default call id, got %d", got)
	}
}

func TestPlaceCallGuards(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m *Machine)
		peer    string
		wantErr error
	}{
		{name: "empty peer", peer: "   ", wantErr: ErrInvalidPeer},
		{name: "self call", peer: "alice", wantErr: ErrSelfCall},
		{
			name:    "already ringing",
			setup:   func(m *Machine) { m.HandleRing("carol", 0) },
			peer:    "bob",
			wantErr: ErrCallInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, actions, _, _ := newTestMachine("alice")
			if tt.setup != nil {
				tt.setup(m)
			}
			before := m.Snapshot()

			err := m.PlaceCall(context.Background(), tt.peer)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(actions.Calls()) != 0 {
				t.Error("expected no REST action")
			}
			if after := m.Snapshot(); after.Status != before.Status || after.Peer != before.Peer {
				t.Errorf("session changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestAnswerWithoutIncomingCall(t *testing.T) {
	m, actions, streamer, _ := newTestMachine("alice")
	ctx := context.Background()

	if err := m.Answer(ctx); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall when idle, got %v", err)
	}

	if err := m.PlaceCall(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := m.Answer(ctx); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall as caller, got %v", err)
	}
	if streamer.starts != 0 {
		t.Error("streaming must not start")
	}
	if len(actions.Calls()) != 1 {
		t.Errorf("expected only the ring action, got %+v", actions.Calls())
	}
}

func TestRESTFailureLeavesSessionUnchanged(t *testing.T) {
	m, actions, streamer, events := newTestMachine("bob")
	actions.ringErr = errors.New("boom")
	actions.answerErr = errors.New("boom")

	if err := m.PlaceCall(context.Background(), "carol"); err == nil {
		t.Fatal("expected ring error")
	}
	if s := m.Snapshot(); s.Status != StatusIdle {
		t.Fatalf("expected Idle after failed ring, got %s", s.Status)
	}

	m.HandleRing("carol", 0)
	if err := m.Answer(context.Background()); err == nil {
		t.Fatal("expected answer error")
	}
	if s := m.Snapshot(); s.Status != StatusRinging {
		t.Fatalf("expected Ringing after failed answer, got %s", s.Status)
	}
	if streamer.starts != 0 {
		t.Error("streaming must not start on failed answer")
	}
	if n := len(events.Notices()); n != 1 {
		t.Errorf("expected only the incoming notice, got %d", n)
	}
}

func TestHangupFailureStillEndsCall(t *testing.T) {
	m, actions, streamer, _ := newTestMachine("bob")
	actions.hangupErr = errors.New("unreachable")

	m.HandleRing("carol", 0)
	if err := m.Answer(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := m.Hangup(context.Background())
	if err == nil || !errors.Is(err, actions.hangupErr) {
		t.Fatalf("expected wrapped hangup error, got %v", err)
	}
	if s := m.Snapshot(); s.Status != StatusIdle {
		t.Fatalf("expected Idle, got %s", s.Status)
	}
	if streamer.Streaming() {
		t.Error("expected streaming to stop")
	}
}

func TestHangupIdempotent(t *testing.T) {
	m, actions, streamer, events := newTestMachine("alice")

	for i := 0; i < 3; i++ {
		if err := m.Hangup(context.Background()); err != nil {
			t.Fatalf("Hangup %d: %v", i, err)
		}
		m.HandleHangup()
	}

	if len(actions.Calls()) != 0 {
		t.Errorf("expected no REST actions while idle, got %+v", actions.Calls())
	}
	if len(events.Notices()) != 0 {
		t.Errorf("expected no notices, got %q", events.Notices())
	}
	if streamer.Streaming() {
		t.Error("expected streaming off")
	}
	if s := m.Snapshot(); s.Status != StatusIdle {
		t.Errorf("expected Idle, got %s", s.Status)
	}
}

func TestRingWhileActiveStopsStreaming(t *testing.T) {
	m, _, streamer, _ := newTestMachine("bob")

	m.HandleRing("carol", 0)
	if err := m.Answer(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.HandleRing("dave", 7)

	s := m.Snapshot()
	if s.Status != StatusRinging || s.Peer != "dave" || s.Role != RoleReceiver {
		t.Fatalf("unexpected session: %+v", s)
	}
	if streamer.Streaming() {
		t.Error("expected streaming to stop when leaving Active")
	}
}

func TestDuplicateRingIgnored(t *testing.T) {
	m, _, _, events := newTestMachine("bob")
	m.HandleRing("carol", 5)
	m.HandleRing("carol", 5)
	if n := len(events.Notices()); n != 1 {
		t.Errorf("expected 1 notice, got %d", n)
	}
}

func TestAnsweredIgnoredUnlessCallerRinging(t *testing.T) {
	m, _, streamer, _ := newTestMachine("bob")

	m.HandleAnswered("carol", 0)
	if s := m.Snapshot(); s.Status != StatusIdle {
		t.Fatalf("expected Idle, got %s", s.Status)
	}

	m.HandleRing("carol", 0)
	m.HandleAnswered("carol", 0)
	if s := m.Snapshot(); s.Status != StatusRinging {
		t.Fatalf("receiver must ignore ANSWERED, got %s", s.Status)
	}
	if streamer.starts != 0 {
		t.Error("streaming must not start")
	}
}

func TestAnsweredKeepsPeerWhenResponderMissing(t *testing.T) {
	m, _, _, _ := newTestMachine("alice")
	if err := m.PlaceCall(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	m.HandleAnswered("", 9)
	s := m.Snapshot()
	if s.Peer != "bob" || s.CallID != 9 || s.Status != StatusActive {
		t.Errorf("unexpected session: %+v", s)
	}
}

func TestReset(t *testing.T) {
	m, _, streamer, events := newTestMachine("bob")
	m.HandleRing("carol", 0)
	if err := m.Answer(context.Background()); err != nil {
		t.Fatal(err)
	}

	m.Reset("gone")
	if s := m.Snapshot(); s.Status != StatusIdle {
		t.Fatalf("expected Idle, got %s", s.Status)
	}
	if streamer.Streaming() {
		t.Error("expected streaming to stop")
	}
	notices := events.Notices()
	if notices[len(notices)-1] != "gone" {
		t.Errorf("expected reset notice, got %q", notices)
	}

	m.Reset("again")
	if len(events.Notices()) != len(notices) {
		t.Error("reset while idle must not notify")
	}
}

// Same event sequence from the same starting state must end in the same state.
func TestTransitionsDeterministic(t *testing.T) {
	type step func(m *Machine)
	var (
		ring       = func(m *Machine) { _ = m.PlaceCall(context.Background(), "bob") }
		answer     = func(m *Machine) { _ = m.Answer(context.Background()) }
		hangup     = func(m *Machine) { _ = m.Hangup(context.Background()) }
		inRing     = func(m *Machine) { m.HandleRing("carol", 0) }
		inAnswered = func(m *Machine) { m.HandleAnswered("bob", 0) }
		inHangup   = func(m *Machine) { m.HandleHangup() }
	)

	tests := []struct {
		name      string
		steps     []step
		want      Status
		wantRole  Role
		wantPeer  string
		streaming bool
	}{
		{name: "ring", steps: []step{ring}, want: StatusRinging, wantRole: RoleCaller, wantPeer: "bob"},
		{name: "ring answered", steps: []step{ring, inAnswered}, want: StatusActive, wantRole: RoleCaller, wantPeer: "bob", streaming: true},
		{name: "ring answered hangup", steps: []step{ring, inAnswered, hangup}, want: StatusIdle},
		{name: "incoming", steps: []step{inRing}, want: StatusRinging, wantRole: RoleReceiver, wantPeer: "carol"},
		{name: "incoming answer", steps: []step{inRing, answer}, want: StatusActive, wantRole: RoleReceiver, wantPeer: "carol", streaming: true},
		{name: "incoming answer peer hangup", steps: []step{inRing, answer, inHangup}, want: StatusIdle},
		{name: "incoming rejected", steps: []step{inRing, hangup}, want: StatusIdle},
		{name: "caller cancels", steps: []step{ring, hangup, inAnswered}, want: StatusIdle},
		{name: "ring while ringing", steps: []step{ring, inRing}, want: StatusRinging, wantRole: RoleReceiver, wantPeer: "carol"},
		{name: "hangup idle", steps: []step{hangup, inHangup}, want: StatusIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []Session
			for run := 0; run < 2; run++ {
				m, _, streamer, _ := newTestMachine("alice")
				for _, s := range tt.steps {
					s(m)
				}
				got := m.Snapshot()
				if got.Status != tt.want || got.Role != tt.wantRole || got.Peer != tt.wantPeer {
					t.Fatalf("run %d: expected %s/%s/%q, got %s/%s/%q",
						run, tt.want, tt.wantRole, tt.wantPeer, got.Status, got.Role, got.Peer)
				}
				if streamer.Streaming() != tt.streaming {
					t.Errorf("run %d: expected streaming=%v", run, tt.streaming)
				}
				if err := got.Validate(); err != nil {
					t.Errorf("run %d: %v", run, err)
				}
				got.Since = time.Time{}
				results = append(results, got)
			}
			if results[0] != results[1] {
				t.Errorf("runs diverged: %+v vs %+v", results[0], results[1])
			}
		})
	}
}

func TestRingWithoutCallIDUsesConfiguredDefault(t *testing.T) {
	m := NewMachine(Config{Self: "bob", DefaultCallID: 42},
		&fakeActions{}, &fakeStreamer{},
		slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	m.HandleRing("carol", 0)
	if got := m.Snapshot().CallID; got != 42 {
		t.Fatalf("expected configured call id 42, got %d", got)
	}

	m.HandleRing("carol", 0)
	if got := m.Snapshot().CallID; got != 42 {
		t.Errorf("expected duplicate RING to keep call id 42, got %d", got)
	}
}

func TestAnsweredWithoutCallIDKeepsCurrent(t *testing.T) {
	m, _, _, _ := newTestMachine("alice")
	if err := m.PlaceCall(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	m.HandleAnswered("bob", 0)
	if got := m.Snapshot().CallID; got != protocol.DefaultCallID {
		t.Errorf("expected call id %d, got %d", protocol.DefaultCallID, got)
	}
}
