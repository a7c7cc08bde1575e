// Package signaling is the client side of the signaling WebSocket. The
// channel registers the user on connect, delivers inbound messages in
// arrival order, and reconnects with exponential backoff after an abnormal
// close.
package signaling
