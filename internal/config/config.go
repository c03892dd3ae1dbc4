package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yok-tottii/camstream/internal/i18n"
)

// EnvPrefix is prepended to every environment override, e.g. CAMSTREAM_SERVER_PORT
const EnvPrefix = "CAMSTREAM"

// Config holds application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Camera    CameraConfig    `mapstructure:"camera" yaml:"camera" json:"camera"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio" json:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording" json:"recording"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging" json:"logging"`
	Language  string          `mapstructure:"language" yaml:"language" json:"language"` // "ja" or "en"
	// TranslationsDir holds optional ja.json and en.json message overrides
	TranslationsDir string `mapstructure:"translations_dir" yaml:"translations_dir" json:"translations_dir"`
	mu              sync.RWMutex
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Host            string   `mapstructure:"host" yaml:"host" json:"host"`
	Port            int      `mapstructure:"port" yaml:"port" json:"port"`
	StaticDir       string   `mapstructure:"static_dir" yaml:"static_dir" json:"static_dir"`
	CORSOrigins     []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	ShutdownTimeout float64  `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"` // seconds
}

// CameraConfig holds the video capture settings
type CameraConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver" json:"driver"` // "v4l2" or "synthetic"
	Device      string `mapstructure:"device" yaml:"device" json:"device"`
	Width       int    `mapstructure:"width" yaml:"width" json:"width"`
	Height      int    `mapstructure:"height" yaml:"height" json:"height"`
	FPS         int    `mapstructure:"fps" yaml:"fps" json:"fps"`
	JPEGQuality int    `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
}

// AudioConfig holds the audio capture settings
type AudioConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver" json:"driver"`          // "portaudio" or "synthetic"
	DeviceID     int    `mapstructure:"device_id" yaml:"device_id" json:"device_id"` // -1 means system default
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
	Channels     int    `mapstructure:"channels" yaml:"channels" json:"channels"`
	SampleFormat string `mapstructure:"sample_format" yaml:"sample_format" json:"sample_format"`
	ChunkSize    int    `mapstructure:"chunk_size" yaml:"chunk_size" json:"chunk_size"` // samples per channel
	Latency      string `mapstructure:"latency" yaml:"latency" json:"latency"`          // "low" or "high"
}

// RecordingConfig holds the recording session settings
type RecordingConfig struct {
	StopTimeout float64 `mapstructure:"stop_timeout" yaml:"stop_timeout" json:"stop_timeout"` // seconds
	MaxDuration float64 `mapstructure:"max_duration" yaml:"max_duration" json:"max_duration"` // seconds, 0 = unlimited
}

// LoggingConfig holds the logger settings
type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level" json:"level"`
	Format        string `mapstructure:"format" yaml:"format" json:"format"`
	Dir           string `mapstructure:"dir" yaml:"dir" json:"dir"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days" json:"retention_days"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			StaticDir:       "static",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 5,
		},
		Camera: CameraConfig{
			Driver:      "v4l2",
			Device:      "/dev/video0",
			Width:       640,
			Height:      480,
			FPS:         30,
			JPEGQuality: 80,
		},
		Audio: AudioConfig{
			Driver:       "portaudio",
			DeviceID:     -1, // -1 means use system default device
			SampleRate:   44100,
			Channels:     1,
			SampleFormat: "int16",
			ChunkSize:    1024,
			Latency:      "high",
		},
		Recording: RecordingConfig{
			StopTimeout: 2,
			MaxDuration: 0,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Dir:           "",
			RetentionDays: 7,
		},
		Language: "ja",
	}
}

// defaults registers every key with viper so that environment overrides
// apply to keys that are missing from the file
func defaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.static_dir", d.Server.StaticDir)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("camera.driver", d.Camera.Driver)
	v.SetDefault("camera.device", d.Camera.Device)
	v.SetDefault("camera.width", d.Camera.Width)
	v.SetDefault("camera.height", d.Camera.Height)
	v.SetDefault("camera.fps", d.Camera.FPS)
	v.SetDefault("camera.jpeg_quality", d.Camera.JPEGQuality)

	v.SetDefault("audio.driver", d.Audio.Driver)
	v.SetDefault("audio.device_id", d.Audio.DeviceID)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.sample_format", d.Audio.SampleFormat)
	v.SetDefault("audio.chunk_size", d.Audio.ChunkSize)
	v.SetDefault("audio.latency", d.Audio.Latency)

	v.SetDefault("recording.stop_timeout", d.Recording.StopTimeout)
	v.SetDefault("recording.max_duration", d.Recording.MaxDuration)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.retention_days", d.Logging.RetentionDays)

	v.SetDefault("language", d.Language)
	v.SetDefault("translations_dir", d.TranslationsDir)
}

// FlagKeys maps command line flag names to configuration keys
var FlagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"log-level": "logging.level",
}

// Load loads configuration from the specified path.
// An empty path searches for camstream.yaml in the working directory and
// the user config directory. A missing file yields the defaults.
// Environment variables and flags override file values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("camstream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Save saves configuration to the specified path as YAML
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "camstream")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(configDir(), "camstream.yaml")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	server := c.Server
	server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)

	return &Config{
		Server:    server,
		Camera:    c.Camera,
		Audio:     c.Audio,
		Recording: c.Recording,
		Logging:   c.Logging,
		Language:  c.Language,

		TranslationsDir: c.TranslationsDir,
	}
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if !i18n.ValidateLanguage(c.Language) {
		return fmt.Errorf("invalid language: %s (must be 'ja' or 'en')", c.Language)
	}

	return nil
}

// Validate validates the listener settings
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	// 0 lets the OS pick a free port
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 0 and 65535)", s.Port)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout: %v (must be positive)", s.ShutdownTimeout)
	}
	return nil
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return seconds(s.ShutdownTimeout)
}

// Validate validates the camera settings
func (c *CameraConfig) Validate() error {
	switch c.Driver {
	case "v4l2":
		if c.Device == "" {
			return fmt.Errorf("device cannot be empty for the v4l2 driver")
		}
	case "synthetic":
	default:
		return fmt.Errorf("invalid driver: %s (must be 'v4l2' or 'synthetic')", c.Driver)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution: %dx%d", c.Width, c.Height)
	}
	if c.Width%2 != 0 {
		return fmt.Errorf("invalid width: %d (must be even)", c.Width)
	}
	if c.FPS <= 0 || c.FPS > 120 {
		return fmt.Errorf("invalid fps: %d (must be between 1 and 120)", c.FPS)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg_quality: %d (must be between 1 and 100)", c.JPEGQuality)
	}
	return nil
}

// Validate validates the audio settings
func (a *AudioConfig) Validate() error {
	if a.Driver != "portaudio" && a.Driver != "synthetic" {
		return fmt.Errorf("invalid driver: %s (must be 'portaudio' or 'synthetic')", a.Driver)
	}
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("invalid sample_rate: %d (must be between 8000 and 192000)", a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("invalid channels: %d (must be 1 or 2)", a.Channels)
	}
	if a.SampleFormat != "int16" {
		return fmt.Errorf("invalid sample_format: %s (only 'int16' is supported)", a.SampleFormat)
	}
	if a.ChunkSize < 64 || a.ChunkSize > 65536 {
		return fmt.Errorf("invalid chunk_size: %d (must be between 64 and 65536 samples)", a.ChunkSize)
	}
	if a.Latency != "low" && a.Latency != "high" {
		return fmt.Errorf("invalid latency: %s (must be 'low' or 'high')", a.Latency)
	}
	return nil
}

// Validate validates the recording settings
func (r *RecordingConfig) Validate() error {
	if r.StopTimeout <= 0 {
		return fmt.Errorf("invalid stop_timeout: %v (must be positive)", r.StopTimeout)
	}
	if r.MaxDuration < 0 || r.MaxDuration > 3600 {
		return fmt.Errorf("invalid max_duration: %v (must be between 0 and 3600 seconds)", r.MaxDuration)
	}
	return nil
}

// GetStopTimeout returns how long Stop waits before force-closing the device
func (r *RecordingConfig) GetStopTimeout() time.Duration {
	return seconds(r.StopTimeout)
}

// GetMaxDuration returns the capture limit, zero meaning unlimited
func (r *RecordingConfig) GetMaxDuration() time.Duration {
	return seconds(r.MaxDuration)
}

// Validate validates the logger settings
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level: %s", l.Level)
	}
	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("invalid format: %s (must be 'text' or 'json')", l.Format)
	}
	if l.RetentionDays < 0 {
		return fmt.Errorf("invalid retention_days: %d", l.RetentionDays)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
