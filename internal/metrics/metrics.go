package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Producer metrics
	ActiveProducers      *prometheus.GaugeVec
	ProducersStarted     *prometheus.CounterVec
	ProducerTerminations *prometheus.CounterVec
	ProducerDuration     *prometheus.HistogramVec

	// Payload metrics
	FramesSent *prometheus.CounterVec
	FrameSize  *prometheus.HistogramVec

	// Recording metrics
	RecordingsStarted prometheus.Counter
	RecordingsStopped prometheus.Counter
	RecordingActive   prometheus.Gauge
	RecordingChunks   prometheus.Counter
	RecordingDuration prometheus.Histogram
	RecordingFailures prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg.
// A nil reg creates unregistered metrics, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveProducers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "camstream_active_producers",
				Help: "Number of connections currently being fed",
			},
			[]string{"kind"}, // kind: video or audio
		),
		ProducersStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camstream_producers_started_total",
				Help: "Total number of producers attached to connections",
			},
			[]string{"kind"},
		),
		ProducerTerminations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camstream_producer_terminations_total",
				Help: "Total number of producers ended, by cause",
			},
			[]string{"kind", "reason"},
		),
		ProducerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camstream_producer_duration_seconds",
				Help:    "How long producers stayed attached",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
			},
			[]string{"kind"},
		),

		FramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camstream_frames_sent_total",
				Help: "Total number of video frames and audio chunks pushed to clients",
			},
			[]string{"kind"},
		),
		FrameSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camstream_frame_size_bytes",
				Help:    "Size of payloads pushed to clients",
				Buckets: prometheus.ExponentialBuckets(512, 2, 12), // 512B to 1MB
			},
			[]string{"kind"},
		),

		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_recordings_started_total",
			Help: "Total number of recording sessions started",
		}),
		RecordingsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_recordings_stopped_total",
			Help: "Total number of recording sessions stopped",
		}),
		RecordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_recording_active",
			Help: "1 while a recording session is in progress",
		}),
		RecordingChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_recording_chunks_total",
			Help: "Total number of PCM chunks captured into recording sessions",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camstream_recording_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
		}),
		RecordingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_recording_failures_total",
			Help: "Total number of recording starts that could not open the device",
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camstream_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camstream_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// ProducerStarted records a producer attaching to a connection
func (m *Metrics) ProducerStarted(kind string) {
	m.ActiveProducers.WithLabelValues(kind).Inc()
	m.ProducersStarted.WithLabelValues(kind).Inc()
}

// ProducerEnded records a producer detaching and why
func (m *Metrics) ProducerEnded(kind, reason string, elapsed time.Duration) {
	m.ActiveProducers.WithLabelValues(kind).Dec()
	m.ProducerTerminations.WithLabelValues(kind, reason).Inc()
	m.ProducerDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// PayloadSent records one frame or chunk pushed to a client
func (m *Metrics) PayloadSent(kind string, size int) {
	m.FramesSent.WithLabelValues(kind).Inc()
	m.FrameSize.WithLabelValues(kind).Observe(float64(size))
}

// RecordingStarted records a recording session starting
func (m *Metrics) RecordingStarted() {
	m.RecordingsStarted.Inc()
	m.RecordingActive.Set(1)
}

// RecordingStopped records a recording session stopping
func (m *Metrics) RecordingStopped(chunks int, elapsed time.Duration) {
	m.RecordingsStopped.Inc()
	m.RecordingActive.Set(0)
	m.RecordingDuration.Observe(elapsed.Seconds())
}

// ChunkCaptured records one chunk appended to the recording buffer
func (m *Metrics) ChunkCaptured() {
	m.RecordingChunks.Inc()
}

// RecordingFailed records a start that failed to open the device
func (m *Metrics) RecordingFailed() {
	m.RecordingFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, path, m.statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// statusCodeToString converts an HTTP status code to a string
func (m *Metrics) statusCodeToString(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
