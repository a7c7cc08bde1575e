package call

import (
	"fmt"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/protocol"
)

// Status is the call status.
type Status int

const (
	StatusIdle Status = iota
	StatusRinging
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusRinging:
		return "Ringing"
	case StatusActive:
		return "Active"
	default:
		return "Idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Role is the local party's role in the call.
type Role int

const (
	RoleNone Role = iota
	RoleCaller
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "Caller"
	case RoleReceiver:
		return "Receiver"
	default:
		return "None"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Session is the authoritative local call state.
type Session struct {
	Status Status          `json:"status"`
	Role   Role            `json:"role"`
	Peer   string          `json:"peer,omitempty"`
	CallID protocol.CallID `json:"call_id,omitempty"`

	// RemoteMirrored is set while the remote view shows the local capture.
	// There is no peer media path; this only mirrors what the user sees.
	RemoteMirrored bool      `json:"remote_mirrored"`
	Since          time.Time `json:"since"`
}

// Validate checks the session invariants.
func (s Session) Validate() error {
	switch s.Status {
	case StatusIdle:
		if s.Peer != "" || s.Role != RoleNone {
			return fmt.Errorf("idle session has peer %q and role %s", s.Peer, s.Role)
		}
	case StatusRinging, StatusActive:
		if s.Peer == "" {
			return fmt.Errorf("%s session has no peer", s.Status)
		}
	}
	return nil
}

func idleSession() Session {
	return Session{Status: StatusIdle, Role: RoleNone, Since: time.Now()}
}
