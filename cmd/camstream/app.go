package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yok-tottii/camstream/internal/api"
	"github.com/yok-tottii/camstream/internal/audio"
	"github.com/yok-tottii/camstream/internal/camera"
	"github.com/yok-tottii/camstream/internal/config"
	"github.com/yok-tottii/camstream/internal/i18n"
	"github.com/yok-tottii/camstream/internal/logger"
	"github.com/yok-tottii/camstream/internal/metrics"
	"github.com/yok-tottii/camstream/internal/recording"
	"github.com/yok-tottii/camstream/internal/server"
	"github.com/yok-tottii/camstream/internal/stream"
)

// toneFrequency is the pitch of the synthetic audio driver
const toneFrequency = 440

// App holds all application state
type App struct {
	logger     *logger.Logger
	config     *config.Config
	metrics    *metrics.Metrics
	camera     camera.Camera
	audio      audio.Source
	session    *recording.Session
	registry   *stream.Registry
	httpServer *server.Server

	// closers release the devices after everything using them has stopped
	closers []io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApp builds the gateway from cfg. Devices that cannot be opened are
// replaced by stand-ins that report DeviceUnavailable on use, so the
// server still starts.
func NewApp(cfg *config.Config, console io.Writer) (*App, error) {
	log, err := newLogger(cfg, console)
	if err != nil {
		return nil, err
	}

	translator, err := newTranslator(cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}

	a := &App{
		logger: log,
		config: cfg,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(reg)

	a.camera = a.openCamera()
	a.closers = append(a.closers, a.camera)
	a.audio = a.openAudio()

	a.session = recording.New(a.audio, recording.Config{
		StopTimeout: cfg.Recording.GetStopTimeout(),
		MaxDuration: cfg.Recording.GetMaxDuration(),
	}, log.With("component", "recording"))
	a.session.SetObserver(a.metrics)

	a.registry = stream.NewRegistry(a.metrics, log.With("component", "stream"))

	a.httpServer = server.New(server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		StaticDir:         cfg.Server.StaticDir,
		CORSOrigins:       cfg.Server.CORSOrigins,
		ReadHeaderTimeout: server.DefaultConfig().ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.GetShutdownTimeout(),
	}, log, a.metrics)

	api.New(api.Options{
		Config:     cfg,
		Camera:     a.camera,
		Audio:      a.audio,
		Session:    a.session,
		Registry:   a.registry,
		Translator: translator,
		Logger:     log,
		Version:    version,
		Metrics:    a.metrics,
		Gatherer:   reg,
	}).RegisterRoutes(a.httpServer.Router())

	log.Info("APIルート登録完了")
	return a, nil
}

// newTranslator builds the message translator, applying overrides from
// translations_dir when it is set
func newTranslator(cfg *config.Config, log *logger.Logger) (*i18n.Translator, error) {
	translator := i18n.NewDefaultTranslator(i18n.Language(cfg.Language))
	if cfg.TranslationsDir == "" {
		return translator, nil
	}

	dir, err := config.ExpandPath(cfg.TranslationsDir)
	if err != nil {
		return nil, fmt.Errorf("invalid translations directory: %w", err)
	}
	loaded, err := translator.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load translations: %w", err)
	}
	log.Info("翻訳ファイル読み込み完了: %s %v", dir, loaded)
	return translator, nil
}

func newLogger(cfg *config.Config, console io.Writer) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	logDir := ""
	if cfg.Logging.Dir != "" {
		logDir, err = config.ExpandPath(cfg.Logging.Dir)
		if err != nil {
			return nil, fmt.Errorf("invalid log directory: %w", err)
		}
	}

	return logger.New(logger.Config{
		LogDir:        logDir,
		Level:         level,
		RetentionDays: cfg.Logging.RetentionDays,
		Format:        logger.Format(cfg.Logging.Format),
		Console:       console,
	})
}

func (a *App) openCamera() camera.Camera {
	c := a.config.Camera
	cam, err := camera.Open(camera.Config{
		Driver: c.Driver,
		Device: c.Device,
		Width:  c.Width,
		Height: c.Height,
		FPS:    c.FPS,
	})
	if err != nil {
		a.logger.Error("カメラを開けません (%s %s): %v", c.Driver, c.Device, err)
		return camera.Unavailable(err)
	}
	a.logger.Info("カメラ初期化完了: %s %s %dx%d@%d", c.Driver, c.Device, c.Width, c.Height, c.FPS)
	return cam
}

func audioConfig(cfg *config.Config) audio.Config {
	return audio.Config{
		DeviceID: cfg.Audio.DeviceID,
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			ChunkSize:  cfg.Audio.ChunkSize,
		},
		Latency: audio.ParseLatency(cfg.Audio.Latency),
	}
}

func (a *App) openAudio() audio.Source {
	ac := audioConfig(a.config)

	if a.config.Audio.Driver == "synthetic" {
		tone := audio.NewToneSource(ac.Format, toneFrequency)
		a.closers = append(a.closers, tone)
		a.logger.Info("オーディオドライバ初期化完了: synthetic %d Hz", ac.Format.SampleRate)
		return tone
	}

	driver, err := audio.NewPortAudioDriver(ac)
	if err != nil {
		a.logger.Error("PortAudioドライバの作成に失敗: %v", err)
		return audio.Unavailable(ac.Format, err)
	}
	a.closers = append(a.closers, driver)
	a.logger.Info("オーディオドライバ初期化完了: device=%d %d Hz %dch", ac.DeviceID, ac.Format.SampleRate, ac.Format.Channels)
	return driver
}

// Start starts the HTTP server
func (a *App) Start() error {
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("HTTPサーバーの起動に失敗: %v", err)
		return err
	}
	a.logger.Info("camstream v%s 起動: %s", version, a.httpServer.URL())
	return nil
}

// URL returns the base URL of the running server
func (a *App) URL() string {
	return a.httpServer.URL()
}

// Shutdown stops producers, the HTTP server and the recording session, then
// releases the devices. Only the first call does anything; later calls
// return the same result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("終了要求")
		var errs []error

		// Feeds never go idle, so they are ended before the server waits for idle connections
		if err := a.registry.Shutdown(ctx); err != nil {
			a.logger.Error("ストリームの停止に失敗: %v", err)
			errs = append(errs, fmt.Errorf("stream shutdown: %w", err))
		}

		if err := a.httpServer.Stop(); err != nil {
			a.logger.Error("HTTPサーバーの停止に失敗: %v", err)
			errs = append(errs, err)
		}

		if err := a.session.Close(ctx); err != nil {
			a.logger.Error("録音セッションの終了に失敗: %v", err)
			errs = append(errs, err)
		}

		for _, c := range a.closers {
			if err := c.Close(); err != nil {
				a.logger.Error("デバイスの解放に失敗: %v", err)
				errs = append(errs, err)
			}
		}

		a.logger.Info("アプリケーション終了")
		a.logger.Close()
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}
