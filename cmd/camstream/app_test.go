package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yok-tottii/camstream/internal/config"
)

func syntheticConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Camera.Driver = "synthetic"
	cfg.Camera.Width, cfg.Camera.Height = 64, 48
	cfg.Audio.Driver = "synthetic"
	cfg.Audio.SampleRate = 8000
	cfg.Audio.ChunkSize = 160
	return cfg
}

func TestAppLifecycle(t *testing.T) {
	app, err := NewApp(syntheticConfig(), io.Discard)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get(app.URL() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	var index map[string]string
	json.NewDecoder(resp.Body).Decode(&index)
	resp.Body.Close()

	if index["version"] != version {
		t.Errorf("Expected version %s, got %q", version, index["version"])
	}

	resp, err = http.Post(app.URL()+"/start_recording", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /start_recording failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	// Shutdown discards the running recording and releases the devices
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if app.session.Status().Recording {
		t.Error("Expected recording to be discarded")
	}
	if _, err := http.Get(app.URL() + "/"); err == nil {
		t.Error("Expected server to be stopped")
	}

	// Idempotent
	if err := app.Shutdown(ctx); err != nil {
		t.Errorf("Second Shutdown failed: %v", err)
	}
}

func TestAppMissingCamera(t *testing.T) {
	cfg := syntheticConfig()
	cfg.Camera.Driver = "v4l2"
	cfg.Camera.Device = filepath.Join(t.TempDir(), "video99")

	app, err := NewApp(cfg, io.Discard)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer app.Shutdown(context.Background())

	resp, err := http.Get(app.URL() + "/video_feed")
	if err != nil {
		t.Fatalf("GET /video_feed failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	// Audio is unaffected
	resp, err = http.Get(app.URL() + "/audio_status")
	if err != nil {
		t.Fatalf("GET /audio_status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestNewAppInvalidLogLevel(t *testing.T) {
	cfg := syntheticConfig()
	cfg.Logging.Level = "verbose"

	if _, err := NewApp(cfg, io.Discard); err == nil {
		t.Error("Expected error for invalid log level")
	}
}

func TestAppTranslationsDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ja.json"), []byte(`{"server.message": "テストゲートウェイ"}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := syntheticConfig()
	cfg.TranslationsDir = dir
	app, err := NewApp(cfg, io.Discard)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer app.Shutdown(context.Background())

	resp, err := http.Get(app.URL() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["message"] != "テストゲートウェイ" {
		t.Errorf("Expected message from translations_dir, got %v", body["message"])
	}
}

func TestNewAppInvalidTranslations(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "en.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := syntheticConfig()
	cfg.TranslationsDir = dir
	if _, err := NewApp(cfg, io.Discard); err == nil {
		t.Error("Expected error for invalid translation file")
	}
}

func TestWSURL(t *testing.T) {
	if got := wsURL("http://127.0.0.1:8000"); got != "ws://127.0.0.1:8000" {
		t.Errorf("Unexpected URL %s", got)
	}
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camstream.yaml")
	defer func() { cfgFile = "" }()

	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Failed to load written config: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}

	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	if err := rootCmd.Execute(); err == nil {
		t.Error("Expected error when the file exists")
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Config file missing: %v", err)
	}
}
