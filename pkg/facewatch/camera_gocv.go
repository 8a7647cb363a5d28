//go:build cgo
// +build cgo

package facewatch

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// GoCVCamera implements CameraSource against an RTSP or HTTP MJPEG
// stream via OpenCV. Unlike a local webcam device, these streams are
// addressed by URL rather than a device index.
type GoCVCamera struct {
	mu sync.Mutex

	url    string
	mirror bool

	capture *gocv.VideoCapture
	opened  bool
}

// NewGoCVCamera creates a camera source for the given stream URL. Set
// mirror to horizontally flip frames before they leave this source.
func NewGoCVCamera(url string, mirror bool) *GoCVCamera {
	return &GoCVCamera{url: url, mirror: mirror}
}

// Open connects to the stream.
func (c *GoCVCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("camera %s already opened", c.url)
	}

	capture, err := gocv.OpenVideoCapture(c.url)
	if err != nil {
		return fmt.Errorf("opening camera stream %s: %w", c.url, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("camera stream %s not available", c.url)
	}

	c.capture = capture
	c.opened = true
	return nil
}

// Read captures a single frame and returns it as a shared, immutable
// pixel buffer in BGR byte order (the gocv Mat.ToBytes() convention).
func (c *GoCVCamera) Read() (*PixelBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil, fmt.Errorf("camera %s not opened", c.url)
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := c.capture.Read(&mat); !ok {
		return nil, fmt.Errorf("reading frame from %s", c.url)
	}
	if mat.Empty() {
		return nil, fmt.Errorf("empty frame from %s", c.url)
	}

	if c.mirror {
		gocv.Flip(mat, &mat, 1)
	}

	return NewPixelBuffer(mat.ToBytes(), mat.Cols(), mat.Rows(), mat.Channels()), nil
}

// Close disconnects from the stream.
func (c *GoCVCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}
	c.opened = false
	if c.capture == nil {
		return nil
	}
	if err := c.capture.Close(); err != nil {
		return fmt.Errorf("closing camera stream %s: %w", c.url, err)
	}
	return nil
}

// EncodeJPEG encodes a pixel buffer as a JPEG byte slice, for dispatch
// to the recognition service. The buffer is interpreted as BGR, the
// gocv Mat convention this package captures frames in.
func EncodeJPEG(buf *PixelBuffer) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(buf.Height, buf.Width, gocv.MatTypeCV8UC3, buf.Data)
	if err != nil {
		return nil, fmt.Errorf("constructing mat from pixel buffer: %w", err)
	}
	defer mat.Close()

	native, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	defer native.Close()

	out := make([]byte, len(native.GetBytes()))
	copy(out, native.GetBytes())
	return out, nil
}

// EncodeCroppedJPEG encodes just the bbox region of a pixel buffer as a
// JPEG. The dispatch path does not use it: DispatchWorker sends the full
// frame via EncodeJPEG. The bbox is clamped to the buffer's bounds
// before cropping.
func EncodeCroppedJPEG(buf *PixelBuffer, bbox BBox) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(buf.Height, buf.Width, gocv.MatTypeCV8UC3, buf.Data)
	if err != nil {
		return nil, fmt.Errorf("constructing mat from pixel buffer: %w", err)
	}
	defer mat.Close()

	x1, y1 := max(0, bbox.X1), max(0, bbox.Y1)
	x2, y2 := min(buf.Width, bbox.X2), min(buf.Height, bbox.Y2)
	if x2 <= x1 || y2 <= y1 {
		return nil, fmt.Errorf("bbox %+v does not intersect %dx%d frame", bbox, buf.Width, buf.Height)
	}

	roi := mat.Region(image.Rect(x1, y1, x2, y2))
	defer roi.Close()

	native, err := gocv.IMEncode(gocv.JPEGFileExt, roi)
	if err != nil {
		return nil, fmt.Errorf("encoding cropped jpeg: %w", err)
	}
	defer native.Close()

	out := make([]byte, len(native.GetBytes()))
	copy(out, native.GetBytes())
	return out, nil
}
