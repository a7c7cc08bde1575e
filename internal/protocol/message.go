package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Message types
const (
	TypeRegister   = "REGISTER"
	TypeCall       = "CALL"
	TypeTranscript = "TRANSCRIPT"
)

// Call actions
const (
	ActionRing     = "RING"
	ActionAnswered = "ANSWERED"
	ActionHangup   = "HANGUP"
)

// DefaultCallID is used when a message carries no call identifier.
const DefaultCallID CallID = 1001

// ErrMissingType is returned for messages without a type discriminator.
var ErrMissingType = errors.New("protocol: message has no type")

// CallID identifies a call. It decodes from a JSON number or a numeric string.
type CallID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *CallID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid callId %s: %w", data, err)
	}
	*id = CallID(v)
	return nil
}

// String returns the decimal form used in query strings.
func (id CallID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// OrDefault returns id, or def when id is unset. A zero def falls back to
// DefaultCallID.
func (id CallID) OrDefault(def CallID) CallID {
	if id != 0 {
		return id
	}
	if def != 0 {
		return def
	}
	return DefaultCallID
}

// Message is a signaling message. Fields unused by a type are omitted.
type Message struct {
	Type      string `json:"type"`
	Action    string `json:"action,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Receiver  string `json:"receiver,omitempty"`
	Responder string `json:"responder,omitempty"`
	CallID    CallID `json:"callId,omitempty"`
	Text      string `json:"text,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Parse decodes a message and normalizes its type and action to upper case.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	msg.Type = strings.ToUpper(strings.TrimSpace(msg.Type))
	msg.Action = strings.ToUpper(strings.TrimSpace(msg.Action))
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

// Encode returns the JSON form of msg.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// NewRegister builds the handshake sent when the channel opens.
func NewRegister(username string) Message {
	return Message{Type: TypeRegister, Username: username}
}

// IsCall reports whether msg is a CALL message with the given action.
func (m Message) IsCall(action string) bool {
	return m.Type == TypeCall && m.Action == action
}

// Validate checks the fields required by the message's type.
func (m Message) Validate() error {
	switch m.Type {
	case TypeRegister:
		if m.Username == "" {
			return fmt.Errorf("REGISTER requires username")
		}
	case TypeCall:
		switch m.Action {
		case ActionRing:
			if m.Sender == "" {
				return fmt.Errorf("CALL/RING requires sender")
			}
		case ActionAnswered, ActionHangup:
		default:
			return fmt.Errorf("unknown CALL action %q", m.Action)
		}
	case TypeTranscript:
	case "":
		return ErrMissingType
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// String returns a compact description for logs.
func (m Message) String() string {
	switch m.Type {
	case TypeCall:
		return fmt.Sprintf("CALL/%s sender=%s responder=%s callId=%d", m.Action, m.Sender, m.Responder, m.CallID)
	case TypeTranscript:
		return fmt.Sprintf("TRANSCRIPT sender=%s len=%d", m.Sender, len(m.Text))
	case TypeRegister:
		return fmt.Sprintf("REGISTER username=%s", m.Username)
	default:
		return m.Type
	}
}
