package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yok-tottii/camstream/internal/logger"
	"github.com/yok-tottii/camstream/internal/metrics"
)

// Server manages the HTTP listener of the gateway
type Server struct {
	config     Config
	engine     *gin.Engine
	log        *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	port       int
	mu         sync.Mutex
	running    bool
}

// Config holds server configuration
type Config struct {
	Host              string        // Interface to listen on
	Port              int           // Port to listen on (0 = random)
	StaticDir         string        // Served under /static when it exists
	CORSOrigins       []string      // Allowed origins, "*" allows any
	ReadHeaderTimeout time.Duration // HTTP request header timeout
	ShutdownTimeout   time.Duration // Graceful shutdown timeout
}

// DefaultConfig returns the default server configuration.
// There is no write timeout because feeds stream for as long as the client stays.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8000,
		CORSOrigins:       []string{"*"},
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// New creates a new HTTP server. m may be nil.
func New(config Config, log *logger.Logger, m *metrics.Metrics) *Server {
	log = log.With("component", "http")

	engine := gin.New()
	engine.Use(recovery(log))
	engine.Use(requestLogger(log))
	if m != nil {
		engine.Use(metricsMiddleware(m))
	}
	engine.Use(corsMiddleware(config.CORSOrigins))

	if config.StaticDir != "" {
		if info, err := os.Stat(config.StaticDir); err == nil && info.IsDir() {
			engine.Static("/static", config.StaticDir)
		} else {
			log.Debug("Static directory %s not found, /static disabled", config.StaticDir)
		}
	}

	return &Server{
		config: config,
		engine: engine,
		log:    log,
		port:   config.Port,
	}
}

// Router returns the engine that routes are registered on.
// Routes must be registered before Start.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	go func(srv *http.Server, l net.Listener) {
		s.log.Info("HTTP server listening on %s", l.Addr())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error: %v", err)
		}
	}(s.httpServer, listener)

	s.running = true
	return nil
}

// Stop stops the HTTP server. Streaming responses must already have been
// ended, or Stop waits for them until ShutdownTimeout and then closes them.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.httpServer.Close()
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Port returns the port the server is listening on
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// URL returns the full URL to the server. Wildcard hosts are reported as loopback.
func (s *Server) URL() string {
	host := s.config.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port()))
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// recovery turns handler panics into 500 responses
func recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.Error("Panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// requestLogger logs one line per request once the handler returns.
// For feeds that is when the client disconnects.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("%s %s %d %v %s",
			c.Request.Method, path, c.Writer.Status(), time.Since(start).Round(time.Microsecond), c.ClientIP())
	}
}

// metricsMiddleware records request counts and latency by route template
func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// corsMiddleware adds CORS headers for the allowed origins. Credentials are
// allowed, so a wildcard is answered by echoing the request origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := slices.Contains(origins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || slices.Contains(origins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Vary", "Origin")
		}

		// Handle preflight requests
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
