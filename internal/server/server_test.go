package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yok-tottii/camstream/internal/logger"
	"github.com/yok-tottii/camstream/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// syncBuffer is a bytes.Buffer safe for the server goroutines to write to
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() Config {
	config := DefaultConfig()
	config.Host = "127.0.0.1"
	config.Port = 0 // Use random port
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", config.Host)
	}

	if config.Port != 8000 {
		t.Errorf("Expected port 8000, got %d", config.Port)
	}

	if config.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("Expected ReadHeaderTimeout 10s, got %v", config.ReadHeaderTimeout)
	}

	if config.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected ShutdownTimeout 5s, got %v", config.ShutdownTimeout)
	}

	if len(config.CORSOrigins) != 1 || config.CORSOrigins[0] != "*" {
		t.Errorf("Expected CORS origins [*], got %v", config.CORSOrigins)
	}
}

func TestNew(t *testing.T) {
	config := DefaultConfig()
	server := New(config, logger.Discard(), nil)

	if server == nil {
		t.Fatal("Expected server to be created")
	}

	if server.port != config.Port {
		t.Errorf("Expected port %d, got %d", config.Port, server.port)
	}

	if server.running {
		t.Error("Expected server to not be running initially")
	}

	if server.Router() == nil {
		t.Error("Expected a router")
	}
}

func TestStartStop(t *testing.T) {
	server := New(testConfig(), logger.Discard(), nil)

	// Start server
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	// Check that server is running
	if !server.IsRunning() {
		t.Error("Expected server to be running")
	}

	// Check that port was assigned
	port := server.Port()
	if port == 0 {
		t.Error("Expected non-zero port")
	}

	// Try to start again (should fail)
	if err := server.Start(); err == nil {
		t.Error("Expected error when starting already running server")
	}

	// Stop server
	if err := server.Stop(); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}

	// Check that server is stopped
	if server.IsRunning() {
		t.Error("Expected server to be stopped")
	}

	// Stop again (should succeed, no-op)
	if err := server.Stop(); err != nil {
		t.Errorf("Expected no error when stopping already stopped server: %v", err)
	}
}

func TestStartPortInUse(t *testing.T) {
	first := New(testConfig(), logger.Discard(), nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer first.Stop()

	config := testConfig()
	config.Port = first.Port()
	second := New(config, logger.Discard(), nil)

	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("Expected error when the port is taken")
	}
	if second.IsRunning() {
		t.Error("Expected server to not be running after a failed start")
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		host     string
		expected string
	}{
		{"0.0.0.0", "http://127.0.0.1:12345"},
		{"", "http://127.0.0.1:12345"},
		{"192.0.2.10", "http://192.0.2.10:12345"},
		{"::1", "http://[::1]:12345"},
	}

	for _, tt := range tests {
		config := DefaultConfig()
		config.Host = tt.host
		config.Port = 12345
		server := New(config, logger.Discard(), nil)

		if server.URL() != tt.expected {
			t.Errorf("host %q: expected URL %s, got %s", tt.host, tt.expected, server.URL())
		}
	}
}

func TestServesRegisteredRoutes(t *testing.T) {
	server := New(testConfig(), logger.Discard(), nil)
	server.Router().GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	resp, err := http.Get(server.URL() + "/ping")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Errorf("Expected 200 pong, got %d %q", resp.StatusCode, body)
	}
}

func TestServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "viewer.html"), []byte("<html>viewer</html>"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	config := testConfig()
	config.StaticDir = dir
	server := New(config, logger.Discard(), nil)

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/viewer.html", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "viewer") {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
}

func TestStaticDirMissing(t *testing.T) {
	config := testConfig()
	config.StaticDir = filepath.Join(t.TempDir(), "missing")
	server := New(config, logger.Discard(), nil)

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/viewer.html", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		allowOrigin string
	}{
		{"wildcard echoes origin", []string{"*"}, "http://example.com", "http://example.com"},
		{"listed origin", []string{"http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000"},
		{"unlisted origin", []string{"http://localhost:3000"}, "http://example.com", ""},
		{"no origin", []string{"*"}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(corsMiddleware(tt.origins))
			router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.allowOrigin {
				t.Errorf("Expected Access-Control-Allow-Origin %q, got %q", tt.allowOrigin, got)
			}
			if tt.allowOrigin != "" && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("Expected credentials to be allowed")
			}
			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	server := New(testConfig(), logger.Discard(), nil)
	server.Router().POST("/start_recording", func(c *gin.Context) {
		t.Error("Preflight must not reach the handler")
	})

	req := httptest.NewRequest(http.MethodOptions, "/start_recording", nil)
	req.Header.Set("Origin", "http://127.0.0.1:8080")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestLogging(t *testing.T) {
	var buf syncBuffer
	log, err := logger.New(logger.Config{Level: logger.DEBUG, Console: &buf})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer log.Close()

	server := New(testConfig(), log, nil)
	server.Router().GET("/audio_status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"is_recording": false})
	})

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio_status", nil))

	out := buf.String()
	if !strings.Contains(out, "GET /audio_status 200") {
		t.Errorf("Expected request line in log, got %q", out)
	}
	if !strings.Contains(out, "component=http") {
		t.Errorf("Expected component field in log, got %q", out)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	server := New(testConfig(), logger.Discard(), nil)
	server.Router().GET("/boom", func(c *gin.Context) {
		panic("device exploded")
	})

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New(nil)
	server := New(testConfig(), logger.Discard(), m)
	server.Router().GET("/audio_status", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio_status", nil))
	}
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/audio_status", "2xx")); got != 3 {
		t.Errorf("Expected 3 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "4xx")); got != 1 {
		t.Errorf("Expected 1 unmatched request, got %v", got)
	}
}

func TestMultipleStartStop(t *testing.T) {
	for i := 0; i < 3; i++ {
		server := New(testConfig(), logger.Discard(), nil)

		if err := server.Start(); err != nil {
			t.Fatalf("Iteration %d: Failed to start server: %v", i, err)
		}

		if err := server.Stop(); err != nil {
			t.Fatalf("Iteration %d: Failed to stop server: %v", i, err)
		}
	}
}

func TestPort(t *testing.T) {
	config := testConfig()
	config.Port = 19999
	server := New(config, logger.Discard(), nil)

	// Before start, should return configured port
	if server.Port() != 19999 {
		t.Errorf("Expected port 19999 before start, got %d", server.Port())
	}

	// Start with port 0 to get random port
	server = New(testConfig(), logger.Discard(), nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	// After start with port 0, should return assigned port
	port := server.Port()
	if port == 0 {
		t.Error("Expected non-zero port after start")
	}
}
