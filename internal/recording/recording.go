package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yok-tottii/camstream/internal/audio"
	"github.com/yok-tottii/camstream/internal/logger"
)

// ErrClosed is returned by Start after the session has been closed
var ErrClosed = errors.New("recording session closed")

// State represents the current recording state
type State int

const (
	// Idle means not recording
	Idle State = iota
	// Recording means the capture loop is appending chunks
	Recording
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	default:
		return "Unknown"
	}
}

// Outcome reports what a Start or Stop call did. Calls that find the
// session already in the requested state are not errors.
type Outcome int

const (
	// None is returned alongside errors
	None Outcome = iota
	// Started means a new session began
	Started
	// AlreadyRecording means Start found a session in progress
	AlreadyRecording
	// Stopped means a session ended
	Stopped
	// NotRecording means Stop found no session in progress
	NotRecording
)

// String returns the status value reported to clients
func (o Outcome) String() string {
	switch o {
	case Started:
		return "recording_started"
	case AlreadyRecording:
		return "already_recording"
	case Stopped:
		return "recording_stopped"
	case NotRecording:
		return "not_recording"
	default:
		return "none"
	}
}

// Config holds configuration for the recording session
type Config struct {
	// StopTimeout is how long Stop waits for the capture loop before it
	// releases the device to unblock a stuck read
	StopTimeout time.Duration
	// MaxDuration ends capture early; chunks are kept until Stop. Zero is unlimited.
	MaxDuration time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		StopTimeout: 2 * time.Second,
	}
}

// Status is a snapshot of the session
type Status struct {
	Recording bool
	Chunks    int
	Elapsed   time.Duration
	// Err is set when the device failed mid-session. The state stays
	// Recording with the chunks kept until Stop collects them.
	Err error
}

// Observer is notified of session transitions
type Observer interface {
	RecordingStarted()
	RecordingStopped(chunks int, elapsed time.Duration)
	ChunkCaptured()
}

type noopObserver struct{}

func (noopObserver) RecordingStarted()                   {}
func (noopObserver) RecordingStopped(int, time.Duration) {}
func (noopObserver) ChunkCaptured()                      {}

// Session owns the process-wide recording state and its chunk buffer
type Session struct {
	source   audio.Source
	config   Config
	log      *logger.Logger
	observer Observer

	// lifecycle serializes Start, Stop and Close so that device I/O in
	// those calls never happens while mu is held
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	stream    audio.Stream
	closed    bool

	// mu guards state, chunks, started and captureErr
	mu         sync.Mutex
	state      State
	chunks     [][]byte
	started    time.Time
	captureErr error
}

// New creates a new recording session reading from source
func New(source audio.Source, config Config, log *logger.Logger) *Session {
	return &Session{
		source:   source,
		config:   config,
		log:      log,
		observer: noopObserver{},
		state:    Idle,
	}
}

// SetObserver installs o. It must be called before the first Start.
func (s *Session) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	s.observer = o
}

// Start opens the audio device and begins capturing.
// If a session is already in progress nothing changes and AlreadyRecording is returned.
func (s *Session) Start() (Outcome, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return None, ErrClosed
	}

	s.mu.Lock()
	recording := s.state == Recording
	s.mu.Unlock()
	if recording {
		return AlreadyRecording, nil
	}

	stream, err := s.source.Open()
	if err != nil {
		return None, fmt.Errorf("failed to open audio input: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.chunks = nil
	s.captureErr = nil
	s.state = Recording
	s.started = time.Now()
	s.mu.Unlock()

	s.cancel = cancel
	s.done = done
	s.stream = stream

	go s.capture(ctx, stream, done)

	s.observer.RecordingStarted()
	s.log.Info("Recording started")
	return Started, nil
}

// capture appends chunks until ctx is cancelled, the device fails or the
// max duration passes. The stream is closed before done is.
func (s *Session) capture(ctx context.Context, stream audio.Stream, done chan struct{}) {
	defer close(done)
	defer stream.Close()

	var limit <-chan time.Time
	if s.config.MaxDuration > 0 {
		timer := time.NewTimer(s.config.MaxDuration)
		defer timer.Stop()
		limit = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-limit:
			s.log.Info("Recording reached max duration %v, capture stopped", s.config.MaxDuration)
			return
		default:
		}

		chunk, err := stream.Read()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error("Audio capture failed: %v", err)
				s.mu.Lock()
				s.captureErr = err
				s.mu.Unlock()
			}
			return
		}

		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.mu.Unlock()
		s.observer.ChunkCaptured()
	}
}

// Stop ends the session and returns the captured audio as a WAV blob.
// The blob is nil when no chunk was captured. If ctx ends or StopTimeout
// passes before the capture loop exits, the device is released to unblock it;
// Stop still waits for the loop so that no captured chunk is lost.
func (s *Session) Stop(ctx context.Context) (Outcome, []byte, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return NotRecording, nil, nil
	}
	s.state = Idle
	started := s.started
	s.mu.Unlock()

	s.join(ctx)

	// The loop has exited, so this snapshot is final
	s.mu.Lock()
	chunks := s.chunks
	s.captureErr = nil
	s.mu.Unlock()

	elapsed := time.Since(started)
	s.observer.RecordingStopped(len(chunks), elapsed)
	s.log.Info("Recording stopped: %d chunks in %v", len(chunks), elapsed.Round(time.Millisecond))

	if len(chunks) == 0 {
		return Stopped, nil, nil
	}

	wav, err := audio.EncodeWAV(chunks, s.source.Format())
	if err != nil {
		return Stopped, nil, fmt.Errorf("failed to encode WAV: %w", err)
	}
	return Stopped, wav, nil
}

// join cancels the capture loop and waits for it. Must hold lifecycle.
func (s *Session) join(ctx context.Context) {
	s.cancel()

	var timeout <-chan time.Time
	if s.config.StopTimeout > 0 {
		timer := time.NewTimer(s.config.StopTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		s.forceRelease()
	case <-timeout:
		s.forceRelease()
	}

	s.cancel, s.done, s.stream = nil, nil, nil
}

func (s *Session) forceRelease() {
	s.log.Warn("Capture loop still blocked on the device, releasing it")
	if err := s.stream.Close(); err != nil {
		s.log.Warn("Failed to release audio input: %v", err)
	}
	<-s.done
}

// Status returns the current state and chunk count
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Recording: s.state == Recording,
		Chunks:    len(s.chunks),
		Err:       s.captureErr,
	}
	if st.Recording {
		st.Elapsed = time.Since(s.started)
	}
	return st
}

// Close stops any session in progress, discarding its audio, and rejects
// further Starts. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.mu.Lock()
	recording := s.state == Recording
	s.state = Idle
	s.mu.Unlock()

	if recording {
		s.join(ctx)
		s.log.Info("Recording discarded on shutdown")
	}
	return nil
}
