// Package call owns the local view of the two-party call. A Machine holds
// the single Session and applies local actions (place call, answer, hang up)
// and inbound signaling events (RING, ANSWERED, HANGUP) one at a time,
// starting and stopping audio streaming as the call becomes active or ends.
// A Dispatcher feeds signaling messages to the Machine in arrival order.
package call
