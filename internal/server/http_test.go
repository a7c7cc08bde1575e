package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/M1TCH3llM/VideoChat/internal/auth"
	"github.com/M1TCH3llM/VideoChat/internal/call"
	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/M1TCH3llM/VideoChat/internal/transcript"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticSession call.Session

func (s staticSession) Snapshot() call.Session { return call.Session(s) }

func newTestServer(t *testing.T) (*HTTPServer, *metrics.Metrics) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	buf := transcript.NewBuffer()
	buf.Append("AI", "hello")
	buf.Append("AI", "world")

	store := &auth.Store{}
	if err := store.Set(auth.Credential{Username: "alice", Token: "t"}); err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Identity: store,
		Session: staticSession{
			Status: call.StatusActive,
			Role:   call.RoleCaller,
			Peer:   "bob",
			CallID: 1001,
		},
		Transcript: buf,
		Stats: map[string]StatsFunc{
			"uploader": func() any { return map[string]int{"started": 3} },
		},
		Gatherer: reg,
	}
	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0}, deps,
		slog.New(slog.NewTextHandler(io.Discard, nil)), m)
	return h, m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSessionEndpoint(t *testing.T) {
	h, m := newTestServer(t)

	rec := get(t, h.Handler(), "/session")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "Active" || body["role"] != "Caller" || body["peer"] != "bob" {
		t.Errorf("unexpected session body: %v", body)
	}

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/session", "200"))
	if got != 1 {
		t.Errorf("expected 1 recorded request, got %v", got)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	rec := get(t, h.Handler(), "/transcript")
	var body struct {
		Text  string `json:"text"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Text != "hello world" || body.Count != 2 {
		t.Errorf("unexpected transcript: %+v", body)
	}
}

func TestHealthAndStats(t *testing.T) {
	h, _ := newTestServer(t)

	rec := get(t, h.Handler(), "/health")
	if !strings.Contains(rec.Body.String(), `"call_status":"Active"`) {
		t.Errorf("expected call status in health, got %s", rec.Body.String())
	}

	rec = get(t, h.Handler(), "/stats")
	if !strings.Contains(rec.Body.String(), `"uploader":{"started":3}`) {
		t.Errorf("expected uploader stats, got %s", rec.Body.String())
	}
}

func TestHealthReportsCurrentUser(t *testing.T) {
	store := &auth.Store{}
	if err := store.Set(auth.Credential{Username: "alice", Token: "t"}); err != nil {
		t.Fatal(err)
	}
	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1"}, Deps{Identity: store},
		slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	user := func() any {
		var body map[string]any
		if err := json.Unmarshal(get(t, h.Handler(), "/health").Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		return body["user"]
	}

	if got := user(); got != "alice" {
		t.Errorf("expected user alice, got %v", got)
	}
	store.Clear()
	if got := user(); got != "" {
		t.Errorf("expected no user after logout, got %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, m := newTestServer(t)
	m.RecordTranscriptLine()

	rec := get(t, h.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "callconsole_transcript_lines_total 1") {
		t.Errorf("expected transcript counter in metrics output")
	}
}

func TestMethodAndNotFound(t *testing.T) {
	h, m := newTestServer(t)

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodPost, "/session", "405")); got != 1 {
		t.Errorf("expected 405 to be recorded, got %v", got)
	}

	if rec := get(t, h.Handler(), "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := get(t, h.Handler(), "/"); !strings.Contains(rec.Body.String(), `"uploader"`) {
		t.Errorf("expected component list in root, got %s", rec.Body.String())
	}
}
