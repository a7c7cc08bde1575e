// Package api is the REST client for the call server: login and the
// ring, answer and hangup call actions. Call actions are relayed by the
// server to the peer over the signaling channel.
package api
