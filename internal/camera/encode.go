package camera

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

// bufferPool pools bytes.Buffer instances for JPEG encoding.
var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 {
		return // don't pool oversized buffers
	}
	bufferPool.Put(buf)
}

// EncodeJPEG encodes an image as JPEG with the specified quality (1-100)
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	buf := getBuffer()
	defer putBuffer(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Encode returns the frame as JPEG, passing hardware-compressed frames through
func (f *Frame) Encode(quality int) ([]byte, error) {
	if f.JPEG != nil {
		return f.JPEG, nil
	}
	return EncodeJPEG(f.Image, quality)
}
