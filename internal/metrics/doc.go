// Package metrics defines the Prometheus metrics exported by the call
// console's status server.
package metrics
