package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/yok-tottii/camstream/internal/camera"
)

const (
	// Boundary separates the parts of the video feed
	Boundary = "frame"
	// VideoContentType is the media type of the video feed response
	VideoContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

var partHeader = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")

// WritePart writes one complete multipart part holding a JPEG image
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// VideoProducer pulls frames for one connection. Each connection owns its
// own producer; there is no frame cache shared between viewers.
type VideoProducer struct {
	camera   camera.Camera
	quality  int
	observer Observer
}

// NewVideoProducer creates a producer reading from cam
func NewVideoProducer(cam camera.Camera, quality int, observer Observer) *VideoProducer {
	return &VideoProducer{
		camera:   cam,
		quality:  quality,
		observer: observerOrNoop(observer),
	}
}

// Next pulls one frame and returns it JPEG-encoded
func (p *VideoProducer) Next(ctx context.Context) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ended(ctx)
	}

	frame, err := p.camera.Read()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ended(ctx)
		}
		return nil, &EndError{Reason: DeviceFailure, Err: err}
	}

	data, err := frame.Encode(p.quality)
	if err != nil {
		return nil, &EndError{Reason: DeviceFailure, Err: fmt.Errorf("encode frame: %w", err)}
	}
	return data, nil
}

// Run writes frames to w as multipart parts until ctx is done, a write
// fails or the camera fails. flush, if set, is called after every part.
// The returned error is always an *EndError.
func (p *VideoProducer) Run(ctx context.Context, w io.Writer, flush func()) error {
	for {
		data, err := p.Next(ctx)
		if err != nil {
			return err
		}
		if err := p.send(w, flush, data); err != nil {
			return err
		}
	}
}

// Serve answers an HTTP request with the feed. The first frame is pulled
// before any header is written, so when the camera cannot deliver the
// response is left untouched for the caller to report.
func (p *VideoProducer) Serve(ctx context.Context, w http.ResponseWriter) error {
	first, err := p.Next(ctx)
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", VideoContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() { rc.Flush() }

	if err := p.send(w, flush, first); err != nil {
		return err
	}
	return p.Run(ctx, w, flush)
}

func (p *VideoProducer) send(w io.Writer, flush func(), data []byte) error {
	if err := WritePart(w, data); err != nil {
		return &EndError{Reason: PeerDisconnected, Err: fmt.Errorf("%w: %v", ErrPeerDisconnected, err)}
	}
	if flush != nil {
		flush()
	}
	p.observer.PayloadSent(string(KindVideo), len(data))
	return nil
}
