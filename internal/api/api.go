package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yok-tottii/camstream/internal/audio"
	"github.com/yok-tottii/camstream/internal/camera"
	"github.com/yok-tottii/camstream/internal/config"
	"github.com/yok-tottii/camstream/internal/i18n"
	"github.com/yok-tottii/camstream/internal/logger"
	"github.com/yok-tottii/camstream/internal/metrics"
	"github.com/yok-tottii/camstream/internal/recording"
	"github.com/yok-tottii/camstream/internal/stream"
)

// wsWriteTimeout bounds one binary send to a WebSocket client
const wsWriteTimeout = 5 * time.Second

// Options holds the components the handler serves
type Options struct {
	Config     *config.Config
	Camera     camera.Camera
	Audio      audio.Source
	Session    *recording.Session
	Registry   *stream.Registry
	Translator *i18n.Translator
	Logger     *logger.Logger
	Version    string

	// Metrics and Gatherer are optional. /metrics is served only when
	// Gatherer is set.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Handler manages the gateway endpoints
type Handler struct {
	config     *config.Config
	camera     camera.Camera
	audio      audio.Source
	session    *recording.Session
	registry   *stream.Registry
	translator *i18n.Translator
	log        *logger.Logger
	version    string
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	observer   stream.Observer
	upgrader   websocket.Upgrader
}

// New creates a new API handler
func New(opts Options) *Handler {
	h := &Handler{
		config:     opts.Config,
		camera:     opts.Camera,
		audio:      opts.Audio,
		session:    opts.Session,
		registry:   opts.Registry,
		translator: opts.Translator,
		log:        opts.Logger.With("component", "api"),
		version:    opts.Version,
		metrics:    opts.Metrics,
		gatherer:   opts.Gatherer,
	}
	if opts.Metrics != nil {
		h.observer = opts.Metrics
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: opts.Audio.Format().ChunkBytes(),
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// RegisterRoutes registers all routes on r
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/", h.handleIndex)
	r.GET("/video_feed", h.handleVideoFeed)
	r.POST("/start_recording", h.handleStartRecording)
	r.POST("/stop_recording", h.handleStopRecording)
	r.GET("/audio_status", h.handleAudioStatus)
	r.GET("/ws/audio", h.handleAudioSocket)

	api := r.Group("/api")
	{
		api.GET("/health", h.handleHealth)
		api.GET("/streams", h.handleStreams)
		api.GET("/devices", h.handleDevices)
		api.GET("/settings", h.handleSettings)
	}

	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *Handler) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":  h.translator.Translate(i18n.KeyServerMessage),
		"version":  h.version,
		"language": h.translator.GetLanguage(),
	})
}

// handleVideoFeed streams multipart JPEG frames until the client goes away
func (h *Handler) handleVideoFeed(c *gin.Context) {
	producer := stream.NewVideoProducer(h.camera, h.config.Camera.JPEGQuality, h.observer)

	err := h.registry.Run(c.Request.Context(), stream.KindVideo, c.ClientIP(), func(ctx context.Context) error {
		return producer.Serve(ctx, c.Writer)
	})

	// Once the first part is out the status is committed and the feed simply ends
	if c.Writer.Written() {
		return
	}
	switch stream.ReasonOf(err) {
	case stream.Shutdown:
		h.abortWithError(c, http.StatusServiceUnavailable, i18n.KeyShuttingDown, err)
	case stream.DeviceFailure:
		h.abortWithError(c, http.StatusServiceUnavailable, i18n.KeyCameraUnavailable, err)
	}
}

// handleStartRecording handles POST /start_recording
func (h *Handler) handleStartRecording(c *gin.Context) {
	outcome, err := h.session.Start()
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordingFailed()
		}
		h.log.Error("Failed to start recording: %v", err)
		if errors.Is(err, recording.ErrClosed) {
			h.abortWithError(c, http.StatusServiceUnavailable, i18n.KeyShuttingDown, err)
			return
		}
		h.abortWithError(c, http.StatusServiceUnavailable, i18n.KeyMicUnavailable, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome.String()})
}

// handleStopRecording handles POST /stop_recording. The body is the WAV
// blob, or a status when no session was running.
func (h *Handler) handleStopRecording(c *gin.Context) {
	outcome, wav, err := h.session.Stop(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to stop recording: %v", err)
		h.abortWithError(c, http.StatusInternalServerError, i18n.KeyRecordingEncodeFail, err)
		return
	}

	switch {
	case outcome == recording.NotRecording:
		c.JSON(http.StatusOK, gin.H{"status": outcome.String()})
	case wav == nil:
		c.Status(http.StatusNoContent)
	default:
		c.Header("Content-Disposition", `attachment; filename="recording.wav"`)
		c.Data(http.StatusOK, "audio/wav", wav)
	}
}

// handleAudioStatus handles GET /audio_status
func (h *Handler) handleAudioStatus(c *gin.Context) {
	status := h.session.Status()
	resp := gin.H{
		"is_recording": status.Recording,
		"frames_count": status.Chunks,
	}
	if status.Err != nil {
		resp["error"] = h.translator.TranslateWithFormat(i18n.KeyMicUnavailable, map[string]string{"error": status.Err.Error()})
	}
	c.JSON(http.StatusOK, resp)
}

// handleAudioSocket upgrades to WebSocket and sends one binary message per
// captured chunk until the client disconnects
func (h *Handler) handleAudioSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.log.Warn("WebSocket upgrade failed for %s: %v", c.ClientIP(), err)
		return
	}

	peer := stream.NewWSPeer(conn, wsWriteTimeout)
	producer := stream.NewAudioProducer(h.audio, h.observer)

	err = h.registry.Run(c.Request.Context(), stream.KindAudio, c.ClientIP(), func(ctx context.Context) error {
		return peer.Serve(ctx, producer.Run)
	})

	// No-op unless the registry refused the producer
	peer.Close(stream.ReasonOf(err))
}

// handleHealth handles GET /api/health
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"recording": h.session.Status().Recording,
		"producers": h.registry.Len(),
		"time":      time.Now().Unix(),
	})
}

// handleStreams handles GET /api/streams
func (h *Handler) handleStreams(c *gin.Context) {
	streams := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"total":   len(streams),
	})
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(c *gin.Context) {
	var devices []audio.Device

	if lister, ok := h.audio.(audio.Lister); ok {
		list, err := lister.ListDevices()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audio devices: " + err.Error()})
			return
		}
		devices = list
	} else {
		devices = []audio.Device{
			{ID: -1, Name: h.translator.Translate(i18n.KeySystemDefault), IsDefault: true},
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"camera": gin.H{
			"driver": h.config.Camera.Driver,
			"device": h.config.Camera.Device,
			"width":  h.config.Camera.Width,
			"height": h.config.Camera.Height,
			"fps":    h.config.Camera.FPS,
		},
	})
}

// handleSettings handles GET /api/settings
func (h *Handler) handleSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.config.Clone())
}

func (h *Handler) abortWithError(c *gin.Context, code int, key string, err error) {
	c.AbortWithStatusJSON(code, gin.H{
		"error": h.translator.TranslateWithFormat(key, map[string]string{"error": err.Error()}),
	})
}

// checkOrigin applies the configured CORS origins to WebSocket handshakes
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
