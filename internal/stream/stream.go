package stream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind names the payload a producer pushes
type Kind string

const (
	// KindVideo producers push multipart JPEG frames
	KindVideo Kind = "video"
	// KindAudio producers push raw PCM chunks
	KindAudio Kind = "audio"
)

var (
	// ErrPeerDisconnected is wrapped by every error caused by the client going away
	ErrPeerDisconnected = errors.New("peer disconnected")
	// ErrShutdown is the cancellation cause used when the gateway stops
	ErrShutdown = errors.New("gateway shutting down")
)

// Reason classifies why a producer ended
type Reason int

const (
	// Unknown is reported for errors that did not come from a producer
	Unknown Reason = iota
	// PeerDisconnected means the client closed the connection or a send failed.
	// This is the normal way for a producer to end.
	PeerDisconnected
	// DeviceFailure means the camera or microphone could not be opened or read
	DeviceFailure
	// Shutdown means the gateway cancelled the producer
	Shutdown
)

// String returns the label used in logs and metrics
func (r Reason) String() string {
	switch r {
	case PeerDisconnected:
		return "peer_disconnected"
	case DeviceFailure:
		return "device_failure"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// EndError is returned by every producer Run method
type EndError struct {
	Reason Reason
	Err    error
}

func (e *EndError) Error() string {
	if e.Err == nil {
		return e.Reason.String()
	}
	return e.Reason.String() + ": " + e.Err.Error()
}

func (e *EndError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the termination reason from err
func ReasonOf(err error) Reason {
	var end *EndError
	if errors.As(err, &end) {
		return end.Reason
	}
	return Unknown
}

// ended builds the EndError for a producer whose context is done
func ended(ctx context.Context) *EndError {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrShutdown) {
		return &EndError{Reason: Shutdown, Err: cause}
	}
	return &EndError{Reason: PeerDisconnected, Err: fmt.Errorf("%w: %v", ErrPeerDisconnected, cause)}
}

// Observer receives producer lifecycle events
type Observer interface {
	ProducerStarted(kind string)
	ProducerEnded(kind, reason string, elapsed time.Duration)
	PayloadSent(kind string, size int)
}

type noopObserver struct{}

func (noopObserver) ProducerStarted(string)                      {}
func (noopObserver) ProducerEnded(string, string, time.Duration) {}
func (noopObserver) PayloadSent(string, int)                     {}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}
