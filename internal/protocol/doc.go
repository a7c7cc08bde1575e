// Package protocol defines the JSON messages exchanged over the signaling
// channel: REGISTER sent by the client on connect, CALL messages carrying a
// RING, ANSWERED or HANGUP action, and TRANSCRIPT messages with recognized
// text.
package protocol
