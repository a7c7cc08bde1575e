package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call console. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Call session metrics
	CallTransitions *prometheus.CounterVec
	CallActive      prometheus.Gauge
	CallActions     *prometheus.CounterVec

	// Signaling metrics
	SignalingMessages   *prometheus.CounterVec
	SignalingReconnects prometheus.Counter
	SignalingConnected  prometheus.Gauge

	// Voice activity metrics
	VoiceSamples  prometheus.Counter
	VoiceDetected prometheus.Counter

	// Segmentation metrics
	SegmenterStreaming    prometheus.Gauge
	ChunksFinalized       *prometheus.CounterVec
	ChunksDiscarded       prometheus.Counter
	ChunkDuration         prometheus.Histogram
	ChunkSize             prometheus.Histogram
	RecorderStartFailures prometheus.Counter

	// Upload metrics
	UploadsInFlight prometheus.Gauge
	Uploads         *prometheus.CounterVec
	UploadDuration  prometheus.Histogram
	UploadRetries   prometheus.Counter

	// Transcript metrics
	TranscriptLines prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CallTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callconsole_call_transitions_total",
			Help: "Total number of call session state transitions",
		}, []string{"from", "to"}),
		CallActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "callconsole_call_active",
			Help: "Whether a call is currently active (1) or not (0)",
		}),
		CallActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callconsole_call_actions_total",
			Help: "Total number of REST call actions by outcome",
		}, []string{"action", "result"}),

		SignalingMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callconsole_signaling_messages_total",
			Help: "Total number of signaling messages by direction and type",
		}, []string{"direction", "type"}),
		SignalingReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "callconsole_signaling_reconnects_total",
			Help: "Total number of signaling reconnect attempts",
		}),
		SignalingConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "callconsole_signaling_connected",
			Help: "Whether the signaling channel is connected (1) or not (0)",
		}),

		VoiceSamples: f.NewCounter(prometheus.CounterOpts{
			Name: "callconsole_vad_samples_total",
			Help: "Total number of voice activity samples taken",
		}),
		VoiceDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "callconsole_vad_voice_detected_total",
			Help: "Total number of samples classified as speaking",
		}),

		SegmenterStreaming: f.NewGauge(prometheus.GaugeOpts{
			Name: "callconsole_segmenter_streaming",
			Help: "Whether the audio segmenter is streaming (1) or not (0)",
		}),
		ChunksFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callconsole_chunks_finalized_total",
			Help: "Total number of finalized audio chunks by cut reason",
		}, []string{"reason"}),
		ChunksDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "callconsole_chunks_discarded_total",
			Help: "Total number of chunks discarded below the minimum size",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callconsole_chunk_duration_seconds",
			Help:    "Recorded duration of finalized audio chunks",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 18), // 0.5s to 9s
		}),
		ChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callconsole_chunk_size_bytes",
			Help:    "Encoded size of finalized audio chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
		}),
		RecorderStartFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "callconsole_recorder_start_failures_total",
			Help: "Total number of failed recording cycle starts",
		}),

		UploadsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "callconsole_uploads_in_flight",
			Help: "Current number of chunk uploads in flight",
		}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callconsole_uploads_total",
			Help: "Total number of chunk uploads by result",
		}, []string{"result"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callconsole_upload_duration_seconds",
			Help:    "Duration of chunk uploads",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		UploadRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "callconsole_upload_retries_total",
			Help: "Total number of chunk upload retries",
		}),

		TranscriptLines: f.NewCounter(prometheus.CounterOpts{
			Name: "callconsole_transcript_lines_total",
			Help: "Total number of transcript lines received",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callconsole_http_requests_total",
			Help: "Total number of status server HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callconsole_http_request_duration_seconds",
			Help:    "Duration of status server HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordCallTransition records a session state change
func (m *Metrics) RecordCallTransition(from, to string) {
	if m == nil {
		return
	}
	m.CallTransitions.WithLabelValues(from, to).Inc()
	if to == "active" {
		m.CallActive.Set(1)
	} else {
		m.CallActive.Set(0)
	}
}

// RecordCallAction records the outcome of a ring/answer/hangup request
func (m *Metrics) RecordCallAction(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CallActions.WithLabelValues(action, result).Inc()
}

// RecordSignalingMessage counts an inbound or outbound signaling message
func (m *Metrics) RecordSignalingMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.SignalingMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordSignalingReconnect increments the reconnect counter
func (m *Metrics) RecordSignalingReconnect() {
	if m == nil {
		return
	}
	m.SignalingReconnects.Inc()
}

// SetSignalingConnected sets the connection gauge
func (m *Metrics) SetSignalingConnected(connected bool) {
	if m == nil {
		return
	}
	m.SignalingConnected.Set(boolToFloat(connected))
}

// RecordVoiceSample records one voice activity classification
func (m *Metrics) RecordVoiceSample(speaking bool) {
	if m == nil {
		return
	}
	m.VoiceSamples.Inc()
	if speaking {
		m.VoiceDetected.Inc()
	}
}

// SetStreaming sets the segmenter streaming gauge
func (m *Metrics) SetStreaming(streaming bool) {
	if m == nil {
		return
	}
	m.SegmenterStreaming.Set(boolToFloat(streaming))
}

// RecordChunk records a finalized chunk and whether it was discarded
func (m *Metrics) RecordChunk(reason string, durationSeconds float64, sizeBytes int, discarded bool) {
	if m == nil {
		return
	}
	m.ChunksFinalized.WithLabelValues(reason).Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
	if discarded {
		m.ChunksDiscarded.Inc()
	}
}

// RecordRecorderStartFailure increments the recorder start failure counter
func (m *Metrics) RecordRecorderStartFailure() {
	if m == nil {
		return
	}
	m.RecorderStartFailures.Inc()
}

// RecordUploadStarted increments the in-flight gauge
func (m *Metrics) RecordUploadStarted() {
	if m == nil {
		return
	}
	m.UploadsInFlight.Inc()
}

// RecordUploadFinished records an upload outcome and decrements the in-flight gauge
func (m *Metrics) RecordUploadFinished(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadsInFlight.Dec()
	m.Uploads.WithLabelValues(result).Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadSkipped records an upload that was never attempted
func (m *Metrics) RecordUploadSkipped() {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues("skipped").Inc()
}

// RecordUploadRetry increments the upload retry counter
func (m *Metrics) RecordUploadRetry() {
	if m == nil {
		return
	}
	m.UploadRetries.Inc()
}

// RecordTranscriptLine increments the transcript line counter
func (m *Metrics) RecordTranscriptLine() {
	if m == nil {
		return
	}
	m.TranscriptLines.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
