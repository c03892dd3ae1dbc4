package camera

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// Camera defines the interface for video capture implementations
type Camera interface {
	// Read blocks until the next frame is available
	Read() (*Frame, error)

	// Close releases the device. Reads in flight or after Close fail with ErrClosed.
	Close() error
}

// Frame is a single still image pulled from a camera.
// Devices that compress in hardware set JPEG and leave Image nil.
type Frame struct {
	Image    image.Image
	JPEG     []byte
	Captured time.Time
}

// Config holds configuration for video capture
type Config struct {
	// Driver is "v4l2" or "synthetic"
	Driver string

	// Device is the V4L2 device node, e.g. /dev/video0
	Device string

	Width  int
	Height int
	FPS    int
}

// DefaultConfig returns a default capture configuration
func DefaultConfig() Config {
	return Config{
		Driver: "v4l2",
		Device: "/dev/video0",
		Width:  640,
		Height: 480,
		FPS:    30,
	}
}

// Open creates the camera selected by config.Driver
func Open(config Config) (Camera, error) {
	switch config.Driver {
	case "synthetic":
		return NewSynthetic(config), nil
	case "v4l2", "":
		return openV4L2(config)
	default:
		return nil, fmt.Errorf("unknown camera driver: %q", config.Driver)
	}
}

var (
	// ErrNotSupported is returned when the driver is not available on this platform
	ErrNotSupported = errors.New("camera driver not supported on this platform")
	// ErrDeviceUnavailable is returned when the camera cannot be opened or read
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrClosed is returned by reads on a released camera
	ErrClosed = errors.New("camera closed")
)

// Unavailable returns a Camera whose every Read fails with ErrDeviceUnavailable
// wrapping cause. It stands in for a device that could not be opened.
func Unavailable(cause error) Camera {
	return unavailableCamera{cause: cause}
}

type unavailableCamera struct {
	cause error
}

func (c unavailableCamera) Read() (*Frame, error) {
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, c.cause)
}

func (c unavailableCamera) Close() error {
	return nil
}
