// Package server exposes the local status HTTP server: health, the current
// call session, the live transcript, component statistics and Prometheus
// metrics.
package server
