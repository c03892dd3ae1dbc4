package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDriver implements Source using blocking PortAudio input streams
type PortAudioDriver struct {
	config Config

	mu      sync.Mutex
	streams map[*portAudioStream]struct{}
	closed  bool
}

// NewPortAudioDriver initializes PortAudio and returns a driver for config
func NewPortAudioDriver(config Config) (*PortAudioDriver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &PortAudioDriver{
		config:  config,
		streams: make(map[*portAudioStream]struct{}),
	}, nil
}

// Format returns the chunk layout of every stream
func (d *PortAudioDriver) Format() Format {
	return d.config.Format
}

// ListDevices returns a list of available audio input devices
func (d *PortAudioDriver) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultInput = nil
	}

	var result []Device
	for i, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		result = append(result, Device{
			ID:        i,
			Name:      dev.Name,
			IsDefault: defaultInput != nil && dev.Name == defaultInput.Name,
		})
	}

	return result, nil
}

// inputDevice resolves the configured device ID
func (d *PortAudioDriver) inputDevice() (*portaudio.DeviceInfo, error) {
	if d.config.DeviceID == -1 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	if d.config.DeviceID < 0 || d.config.DeviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", d.config.DeviceID)
	}

	device := devices[d.config.DeviceID]
	if device.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("selected device '%s' (ID: %d) has no input channels (output-only device)",
			device.Name, d.config.DeviceID)
	}

	return device, nil
}

// Open starts a new blocking input stream on the configured device
func (d *PortAudioDriver) Open() (Stream, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	device, err := d.inputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var latency time.Duration
	switch d.config.Latency {
	case LowLatency:
		latency = device.DefaultLowInputLatency
	default:
		latency = device.DefaultHighInputLatency
	}

	format := d.config.Format
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: format.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: format.ChunkSize,
	}

	s := &portAudioStream{
		driver: d,
		buf:    make([]int16, format.ChunkSize*format.Channels),
	}

	// Passing a buffer instead of a callback selects blocking I/O
	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: failed to start stream: %v", ErrDeviceUnavailable, err)
	}
	s.stream = stream

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		stream.Abort()
		stream.Close()
		return nil, ErrClosed
	}
	d.streams[s] = struct{}{}
	d.mu.Unlock()

	return s, nil
}

func (d *PortAudioDriver) release(s *portAudioStream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
}

// OpenStreams returns how many capture streams are currently open
func (d *PortAudioDriver) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Close closes every open stream and terminates PortAudio. Further calls are no-ops.
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := make([]*portAudioStream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// blockingStream is the part of *portaudio.Stream a capture stream uses
type blockingStream interface {
	Read() error
	Abort() error
	Close() error
}

// portAudioStream is one blocking input stream
type portAudioStream struct {
	driver *PortAudioDriver
	stream blockingStream
	buf    []int16

	// readMu is held for the duration of one blocking read so the stream is
	// never closed underneath it. Close aborts first, which ends the read.
	readMu sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

// Read blocks for one chunk and returns it as little-endian PCM
func (s *portAudioStream) Read() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	err := s.stream.Read()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	data := make([]byte, len(s.buf)*SampleWidth)
	for i, sample := range s.buf {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data, nil
}

// Close aborts and closes the stream. A read blocked on the device returns ErrClosed.
func (s *portAudioStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)

		// Abort is allowed from another thread and unblocks a pending read
		if abortErr := s.stream.Abort(); abortErr != nil {
			err = fmt.Errorf("failed to abort stream: %w", abortErr)
		}

		s.readMu.Lock()
		defer s.readMu.Unlock()

		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close stream: %w", closeErr)
		}
		s.driver.release(s)
	})
	return err
}
