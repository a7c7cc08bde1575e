package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/call"
	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/M1TCH3llM/VideoChat/internal/transcript"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionSource provides the current call session.
type SessionSource interface {
	Snapshot() call.Session
}

// TranscriptSource provides the live transcript.
type TranscriptSource interface {
	Lines() []transcript.Line
	Text() string
}

// StatsFunc returns a JSON-encodable statistics snapshot for one component.
type StatsFunc func() any

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
}

// IdentitySource reports the logged-in user; "" when logged out.
type IdentitySource interface {
	Username() string
}

// Deps are the components the status server reports on.
type Deps struct {
	Identity   IdentitySource
	Session    SessionSource
	Transcript TranscriptSource
	Stats      map[string]StatsFunc
	Gatherer   prometheus.Gatherer // nil serves the default registry
}

// HTTPServer provides HTTP endpoints for monitoring the call console
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	deps    Deps
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new status server
func NewHTTPServer(cfg HTTPServerConfig, deps Deps, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the route multiplexer.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// no request metrics for the metrics endpoint
	if h.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting status server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Status server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping status server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}
	if h.deps.Identity != nil {
		health["user"] = h.deps.Identity.Username()
	}
	if h.deps.Session != nil {
		health["call_status"] = h.deps.Session.Snapshot().Status
	}

	h.writeJSON(w, health)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if h.deps.Session == nil {
		http.Error(w, "Session unavailable", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, h.deps.Session.Snapshot())
}

// handleTranscript implements the /transcript endpoint
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if h.deps.Transcript == nil {
		http.Error(w, "Transcript unavailable", http.StatusServiceUnavailable)
		return
	}

	lines := h.deps.Transcript.Lines()
	h.writeJSON(w, map[string]any{
		"text":  h.deps.Transcript.Text(),
		"count": len(lines),
		"lines": lines,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	for name, fn := range h.deps.Stats {
		stats[name] = fn()
	}

	h.writeJSON(w, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	components := make([]string, 0, len(h.deps.Stats))
	for name := range h.deps.Stats {
		components = append(components, name)
	}
	sort.Strings(components)

	h.writeJSON(w, map[string]any{
		"service": "Call Console",
		"endpoints": map[string]string{
			"GET /":           "API documentation",
			"GET /health":     "Health check",
			"GET /session":    "Current call session",
			"GET /transcript": "Live transcript",
			"GET /stats":      "Component statistics",
			"GET /metrics":    "Prometheus metrics",
		},
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}
