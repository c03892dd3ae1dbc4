package stream

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/yok-tottii/camstream/internal/camera"
)

// failingCamera returns n frames and then an error
type failingCamera struct {
	mu     sync.Mutex
	frames int
	err    error
}

func (c *failingCamera) Read() (*camera.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == 0 {
		return nil, c.err
	}
	c.frames--
	return &camera.Frame{JPEG: []byte{0xff, 0xd8, 0xff, 0xd9}}, nil
}

func (c *failingCamera) Close() error { return nil }

// limitWriter fails once n parts have been written
type limitWriter struct {
	bytes.Buffer
	parts int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if bytes.HasPrefix(p, []byte("--"+Boundary)) {
		if w.parts == 0 {
			return 0, io.ErrClosedPipe
		}
		w.parts--
	}
	return w.Buffer.Write(p)
}

// readParts parses a feed that was cut off after its last complete part
func readParts(t *testing.T, feed []byte) [][]byte {
	t.Helper()

	data := append(append([]byte{}, feed...), "--"+Boundary+"--\r\n"...)
	mr := multipart.NewReader(bytes.NewReader(data), Boundary)

	var parts [][]byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return parts
		}
		if err != nil {
			t.Fatalf("part %d: %v", len(parts), err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part %d: Content-Type %q", len(parts), ct)
		}
		body, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("part %d: %v", len(parts), err)
		}
		parts = append(parts, body)
	}
}

func TestWritePart(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePart(&buf, []byte("JPEGDATA")); err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}

	expected := "--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEGDATA\r\n"
	if buf.String() != expected {
		t.Errorf("Expected %q, got %q", expected, buf.String())
	}
}

func TestVideoContentType(t *testing.T) {
	if VideoContentType != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Unexpected content type %q", VideoContentType)
	}
}

func TestVideoProducer_PeerDisconnected(t *testing.T) {
	cam := camera.NewSynthetic(camera.Config{Width: 32, Height: 24, FPS: 200})
	defer cam.Close()

	w := &limitWriter{parts: 3}
	flushes := 0
	p := NewVideoProducer(cam, 75, nil)

	err := p.Run(context.Background(), w, func() { flushes++ })
	if ReasonOf(err) != PeerDisconnected {
		t.Fatalf("Expected PeerDisconnected, got %v", err)
	}
	if !errors.Is(err, ErrPeerDisconnected) {
		t.Errorf("Expected error to wrap ErrPeerDisconnected: %v", err)
	}
	if flushes != 3 {
		t.Errorf("Expected 3 flushes, got %d", flushes)
	}

	parts := readParts(t, w.Bytes())
	if len(parts) != 3 {
		t.Fatalf("Expected 3 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if _, err := jpeg.Decode(bytes.NewReader(part)); err != nil {
			t.Errorf("part %d: not a JPEG: %v", i, err)
		}
	}
}

func TestVideoProducer_DeviceFailure(t *testing.T) {
	deviceErr := errors.New("VIDIOC_DQBUF: no such device")
	cam := &failingCamera{frames: 2, err: deviceErr}

	var buf bytes.Buffer
	err := NewVideoProducer(cam, 80, nil).Run(context.Background(), &buf, nil)

	if ReasonOf(err) != DeviceFailure {
		t.Fatalf("Expected DeviceFailure, got %v", err)
	}
	if !errors.Is(err, deviceErr) {
		t.Errorf("Expected error to wrap the device error: %v", err)
	}
	if got := bytes.Count(buf.Bytes(), []byte("--frame\r\n")); got != 2 {
		t.Errorf("Expected 2 parts before failure, got %d", got)
	}
}

func TestVideoProducer_CameraClosedDuringShutdown(t *testing.T) {
	cam := camera.NewSynthetic(camera.Config{Width: 16, Height: 16, FPS: 100})

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrShutdown)
	cam.Close()

	_, err := NewVideoProducer(cam, 80, nil).Next(ctx)
	if ReasonOf(err) != Shutdown {
		t.Errorf("Expected Shutdown, got %v", err)
	}
}

func TestVideoProducer_Next(t *testing.T) {
	cam := &failingCamera{frames: 1, err: camera.ErrClosed}
	p := NewVideoProducer(cam, 80, nil)

	data, err := p.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !bytes.Equal(data, []byte{0xff, 0xd8, 0xff, 0xd9}) {
		t.Errorf("Expected passthrough JPEG, got %v", data)
	}

	if _, err := p.Next(context.Background()); !errors.Is(err, camera.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestVideoProducer_ConcurrentViewers(t *testing.T) {
	cam := camera.NewSynthetic(camera.Config{Width: 32, Height: 24, FPS: 200})
	defer cam.Close()

	writers := []*limitWriter{{parts: 5}, {parts: 5}}
	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(w *limitWriter) {
			defer wg.Done()
			NewVideoProducer(cam, 80, nil).Run(context.Background(), w, nil)
		}(w)
	}
	wg.Wait()

	for i, w := range writers {
		parts := readParts(t, w.Bytes())
		if len(parts) != 5 {
			t.Errorf("viewer %d: expected 5 parts, got %d", i, len(parts))
		}
		for j, part := range parts {
			if _, err := jpeg.Decode(bytes.NewReader(part)); err != nil {
				t.Errorf("viewer %d part %d: not a JPEG: %v", i, j, err)
			}
		}
	}
}

func TestVideoProducer_ServeHeaders(t *testing.T) {
	cam := &failingCamera{frames: 2, err: camera.ErrClosed}
	rec := httptest.NewRecorder()

	err := NewVideoProducer(cam, 80, nil).Serve(context.Background(), rec)
	if ReasonOf(err) != DeviceFailure {
		t.Fatalf("Expected DeviceFailure after the camera ran dry, got %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != VideoContentType {
		t.Errorf("Expected Content-Type %q, got %q", VideoContentType, ct)
	}
	if !rec.Flushed {
		t.Error("Expected the response to be flushed")
	}
	if parts := readParts(t, rec.Body.Bytes()); len(parts) != 2 {
		t.Errorf("Expected 2 parts, got %d", len(parts))
	}
}

func TestVideoProducer_ServeUnavailableWritesNothing(t *testing.T) {
	cam := camera.Unavailable(errors.New("no device"))
	rec := httptest.NewRecorder()

	err := NewVideoProducer(cam, 80, nil).Serve(context.Background(), rec)
	if ReasonOf(err) != DeviceFailure || !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("Expected DeviceFailure wrapping ErrDeviceUnavailable, got %v", err)
	}
	if rec.Body.Len() != 0 || rec.Header().Get("Content-Type") != "" {
		t.Error("Expected the response to be left untouched")
	}
}
