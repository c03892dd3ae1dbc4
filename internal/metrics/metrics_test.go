package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ProducerStarted("video")
	m.RecordHTTPRequest("GET", "/", 200, 0.01)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"camstream_active_producers",
		"camstream_producers_started_total",
		"camstream_recordings_started_total",
		"camstream_http_requests_total",
	} {
		if !names[want] {
			t.Errorf("Metric %s not registered", want)
		}
	}
}

func TestNew_NilRegistry(t *testing.T) {
	// Two instances must not collide when unregistered
	New(nil)
	New(nil)
}

func TestProducerLifecycle(t *testing.T) {
	m := New(nil)

	m.ProducerStarted("audio")
	m.ProducerStarted("audio")
	m.ProducerEnded("audio", "peer_disconnected", 2*time.Second)

	if got := testutil.ToFloat64(m.ActiveProducers.WithLabelValues("audio")); got != 1 {
		t.Errorf("Expected 1 active audio producer, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProducersStarted.WithLabelValues("audio")); got != 2 {
		t.Errorf("Expected 2 started, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProducerTerminations.WithLabelValues("audio", "peer_disconnected")); got != 1 {
		t.Errorf("Expected 1 termination, got %v", got)
	}
}

func TestPayloadSent(t *testing.T) {
	m := New(nil)

	m.PayloadSent("video", 30000)
	m.PayloadSent("video", 31000)

	if got := testutil.ToFloat64(m.FramesSent.WithLabelValues("video")); got != 2 {
		t.Errorf("Expected 2 frames, got %v", got)
	}
}

func TestRecording(t *testing.T) {
	m := New(nil)

	m.RecordingStarted()
	if got := testutil.ToFloat64(m.RecordingActive); got != 1 {
		t.Errorf("Expected active gauge 1, got %v", got)
	}

	m.ChunkCaptured()
	m.ChunkCaptured()
	m.RecordingStopped(2, time.Second)
	m.RecordingFailed()

	if got := testutil.ToFloat64(m.RecordingActive); got != 0 {
		t.Errorf("Expected active gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.RecordingChunks); got != 2 {
		t.Errorf("Expected 2 chunks, got %v", got)
	}
	if got := testutil.ToFloat64(m.RecordingFailures); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := New(nil)

	m.RecordHTTPRequest("POST", "/stop_recording", 204, 0.2)
	m.RecordHTTPRequest("POST", "/start_recording", 503, 0.1)

	expected := `
# HELP camstream_http_requests_total Total number of HTTP requests
# TYPE camstream_http_requests_total counter
camstream_http_requests_total{method="POST",path="/start_recording",status="5xx"} 1
camstream_http_requests_total{method="POST",path="/stop_recording",status="2xx"} 1
`
	if err := testutil.CollectAndCompare(m.HTTPRequests, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestStatusCodeToString(t *testing.T) {
	m := &Metrics{}
	tests := []struct {
		code     int
		expected string
	}{
		{101, "1xx"},
		{200, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "unknown"},
	}

	for _, tt := range tests {
		if got := m.statusCodeToString(tt.code); got != tt.expected {
			t.Errorf("statusCodeToString(%d) = %s, want %s", tt.code, got, tt.expected)
		}
	}
}
