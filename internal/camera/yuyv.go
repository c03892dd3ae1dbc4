package camera

import (
	"fmt"
	"image"
)

// YUYVToYCbCr converts a packed YUYV 4:2:2 buffer into an image without
// resampling the chroma planes
func YUYVToYCbCr(buf []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid YUYV frame size %dx%d", width, height)
	}
	if len(buf) < width*height*2 {
		return nil, fmt.Errorf("short YUYV frame: need %d bytes, got %d", width*height*2, len(buf))
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := buf[y*width*2 : (y+1)*width*2]
		yOff := y * img.YStride
		cOff := y * img.CStride
		for x := 0; x < width/2; x++ {
			i := x * 4
			img.Y[yOff+2*x] = row[i]
			img.Cb[cOff+x] = row[i+1]
			img.Y[yOff+2*x+1] = row[i+2]
			img.Cr[cOff+x] = row[i+3]
		}
	}
	return img, nil
}
