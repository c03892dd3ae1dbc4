package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when the input device cannot be opened or read
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrClosed is returned by reads on a stream or source that has been released
	ErrClosed = errors.New("audio stream closed")
)

// SampleWidth is the size of one sample in bytes. Only signed 16-bit PCM is captured.
const SampleWidth = 2

// Device represents an audio input device
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// ParseLatency maps the "low"/"high" configuration values to a LatencyMode
func ParseLatency(s string) LatencyMode {
	if s == "low" {
		return LowLatency
	}
	return HighStability
}

// Format describes the PCM layout of every chunk a stream yields
type Format struct {
	SampleRate int
	Channels   int
	// ChunkSize is the number of frames (samples per channel) in one chunk
	ChunkSize int
}

// ChunkBytes returns the size of one chunk in bytes
func (f Format) ChunkBytes() int {
	return f.ChunkSize * f.Channels * SampleWidth
}

// ChunkDuration returns how much audio one chunk holds
func (f Format) ChunkDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.ChunkSize) * time.Second / time.Duration(f.SampleRate)
}

// Config holds audio configuration
type Config struct {
	DeviceID int
	Format   Format
	Latency  LatencyMode
}

// DefaultConfig returns the default audio configuration
// Sample rate: 44.1kHz
// Channels: 1 (mono)
// Chunk: 1024 frames
func DefaultConfig() Config {
	return Config{
		DeviceID: -1, // -1 means use default device
		Format: Format{
			SampleRate: 44100,
			Channels:   1,
			ChunkSize:  1024,
		},
		Latency: HighStability,
	}
}

// Source hands out independent capture streams for one input device.
// Every stream must be closed by whoever opened it.
type Source interface {
	// Open starts a new capture stream
	Open() (Stream, error)

	// Format returns the layout of the chunks produced by Open'd streams
	Format() Format
}

// Stream is one open capture handle
type Stream interface {
	// Read blocks until one full chunk has been captured
	Read() ([]byte, error)

	// Close releases the handle. It is safe to call more than once and
	// concurrently with Read, which then fails with ErrClosed.
	Close() error
}

// Lister is implemented by sources backed by real hardware
type Lister interface {
	ListDevices() ([]Device, error)
}

// Unavailable returns a Source whose every Open fails with ErrDeviceUnavailable
// wrapping cause. It stands in for an input that could not be initialized.
func Unavailable(format Format, cause error) Source {
	return unavailableSource{format: format, cause: cause}
}

type unavailableSource struct {
	format Format
	cause  error
}

func (s unavailableSource) Open() (Stream, error) {
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, s.cause)
}

func (s unavailableSource) Format() Format {
	return s.format
}
