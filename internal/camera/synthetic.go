package camera

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"
)

// colorBars are the SMPTE-style bars of the test pattern
var colorBars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// Synthetic renders a moving test pattern at the configured frame rate.
// Unlike V4L2 it supports any number of concurrent readers.
type Synthetic struct {
	width    int
	height   int
	interval time.Duration
	frames   atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSynthetic creates a test pattern camera
func NewSynthetic(config Config) *Synthetic {
	fps := config.FPS
	if fps <= 0 {
		fps = 30
	}
	width, height := config.Width, config.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	return &Synthetic{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(fps),
		closed:   make(chan struct{}),
	}
}

// Read waits one frame interval and renders the next frame
func (s *Synthetic) Read() (*Frame, error) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-s.closed:
		return nil, ErrClosed
	case <-timer.C:
	}

	n := s.frames.Add(1)
	return &Frame{Image: s.render(n), Captured: time.Now()}, nil
}

// Frames returns how many frames have been rendered
func (s *Synthetic) Frames() int64 {
	return s.frames.Load()
}

func (s *Synthetic) render(n int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	barWidth := (s.width + len(colorBars) - 1) / len(colorBars)
	band := int(n*4) % s.width

	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			c := colorBars[x/barWidth]
			if x >= band && x < band+8 {
				c = color.RGBA{255, 255, 255, 255}
			}
			i := img.PixOffset(x, y)
			img.Pix[i+0] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = c.A
		}
	}
	return img
}

// Close stops the pattern. It is safe to call more than once.
func (s *Synthetic) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
