//go:build linux

package camera

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blackjack/webcam"
)

const (
	pixFmtMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
	pixFmtYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'

	// frameWaitTimeout bounds each WaitForFrame so Close is noticed promptly
	frameWaitTimeout = 1 // seconds
)

// v4l2Camera captures from a Video4Linux device.
// V4L2 hands out one queue of buffers per open device, so concurrent
// readers are serialized and each receives a distinct subset of frames.
type v4l2Camera struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func openV4L2(config Config) (Camera, error) {
	cam, err := webcam.Open(config.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, config.Device, err)
	}

	supported := cam.GetSupportedFormats()
	var format webcam.PixelFormat
	switch {
	case supported[pixFmtMJPEG] != "":
		format = pixFmtMJPEG
	case supported[pixFmtYUYV] != "":
		format = pixFmtYUYV
	default:
		cam.Close()
		return nil, fmt.Errorf("%w: %s supports neither MJPEG nor YUYV", ErrDeviceUnavailable, config.Device)
	}

	got, w, h, err := cam.SetImageFormat(format, uint32(config.Width), uint32(config.Height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: set format: %v", ErrDeviceUnavailable, err)
	}
	if got != pixFmtMJPEG && got != pixFmtYUYV {
		cam.Close()
		return nil, fmt.Errorf("%w: driver switched to unsupported pixel format %#x", ErrDeviceUnavailable, uint32(got))
	}

	// Not every driver implements frame interval selection
	_ = cam.SetFramerate(float32(config.FPS))

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: start streaming: %v", ErrDeviceUnavailable, err)
	}

	return &v4l2Camera{
		cam:    cam,
		format: got,
		width:  int(w),
		height: int(h),
	}, nil
}

// Read returns the next frame from the device queue
func (c *v4l2Camera) Read() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}

		err := c.cam.WaitForFrame(frameWaitTimeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}

		buf, err := c.cam.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		if len(buf) == 0 {
			continue
		}

		// buf points into the mmap'd driver buffer, which is requeued on the next read
		data := make([]byte, len(buf))
		copy(data, buf)

		frame := &Frame{Captured: time.Now()}
		if c.format == pixFmtMJPEG {
			frame.JPEG = data
			return frame, nil
		}

		img, err := YUYVToYCbCr(data, c.width, c.height)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		frame.Image = img
		return frame, nil
	}
}

// Close stops streaming and closes the device node
func (c *v4l2Camera) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		// Wait for an in-flight Read to observe the flag
		c.mu.Lock()
		defer c.mu.Unlock()

		if stopErr := c.cam.StopStreaming(); stopErr != nil {
			err = fmt.Errorf("failed to stop streaming: %w", stopErr)
		}
		if closeErr := c.cam.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close device: %w", closeErr)
		}
	})
	return err
}

// ListFormats describes the pixel formats and frame sizes a device offers
func ListFormats(device string) ([]string, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
	}
	defer cam.Close()

	var result []string
	for format, name := range cam.GetSupportedFormats() {
		for _, size := range cam.GetSupportedFrameSizes(format) {
			result = append(result, fmt.Sprintf("%s %s", name, size.GetString()))
		}
	}
	sort.Strings(result)
	return result, nil
}
