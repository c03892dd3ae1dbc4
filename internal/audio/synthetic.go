package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// ToneSource is a hardware-free Source producing a sine tone.
// Streams are paced in real time unless SetPace says otherwise.
type ToneSource struct {
	format    Format
	frequency float64
	amplitude float64

	mu     sync.Mutex
	pace   time.Duration
	active int
	opened int
	closed bool
	done   chan struct{}
}

// NewToneSource creates a tone generator at frequency Hz
func NewToneSource(format Format, frequency float64) *ToneSource {
	return &ToneSource{
		format:    format,
		frequency: frequency,
		amplitude: 0.3 * math.MaxInt16,
		pace:      format.ChunkDuration(),
		done:      make(chan struct{}),
	}
}

// Format returns the chunk layout of every stream
func (s *ToneSource) Format() Format {
	return s.format
}

// SetPace changes the delay before each chunk is delivered. Zero disables pacing.
func (s *ToneSource) SetPace(d time.Duration) {
	s.mu.Lock()
	s.pace = d
	s.mu.Unlock()
}

// ListDevices reports the generator as the single default device
func (s *ToneSource) ListDevices() ([]Device, error) {
	return []Device{{ID: 0, Name: "Synthetic tone", IsDefault: true}}, nil
}

// Open starts a new tone stream
func (s *ToneSource) Open() (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	s.active++
	s.opened++

	return &toneStream{
		source: s,
		pace:   s.pace,
		closed: make(chan struct{}),
	}, nil
}

// Active returns the number of streams not yet closed
func (s *ToneSource) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Opened returns the number of streams ever opened
func (s *ToneSource) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Close makes every open and future stream fail with ErrClosed
func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

type toneStream struct {
	source *ToneSource
	pace   time.Duration
	frame  int

	closeOnce sync.Once
	closed    chan struct{}
}

func (t *toneStream) Read() ([]byte, error) {
	if t.pace > 0 {
		timer := time.NewTimer(t.pace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.closed:
			return nil, ErrClosed
		case <-t.source.done:
			return nil, ErrClosed
		}
	} else {
		select {
		case <-t.closed:
			return nil, ErrClosed
		case <-t.source.done:
			return nil, ErrClosed
		default:
		}
	}

	f := t.source.format
	data := make([]byte, f.ChunkBytes())
	step := 2 * math.Pi * t.source.frequency / float64(f.SampleRate)
	for i := 0; i < f.ChunkSize; i++ {
		v := int16(t.source.amplitude * math.Sin(step*float64(t.frame+i)))
		for ch := 0; ch < f.Channels; ch++ {
			binary.LittleEndian.PutUint16(data[(i*f.Channels+ch)*SampleWidth:], uint16(v))
		}
	}
	t.frame += f.ChunkSize

	return data, nil
}

func (t *toneStream) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.source.mu.Lock()
		t.source.active--
		t.source.mu.Unlock()
	})
	return nil
}
