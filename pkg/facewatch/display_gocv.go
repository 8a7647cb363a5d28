//go:build cgo
// +build cgo

package facewatch

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// PreviewWindow renders frames with their events' bounding boxes drawn
// on top in a native OpenCV window, one per camera.
type PreviewWindow struct {
	CameraName string
	window     *gocv.Window
}

// NewPreviewWindow opens a named window sized width x height.
func NewPreviewWindow(cameraName string, width, height int) *PreviewWindow {
	win := gocv.NewWindow(cameraName)
	win.ResizeWindow(width, height)
	return &PreviewWindow{CameraName: cameraName, window: win}
}

// Show draws every event's bbox onto the frame and refreshes the window.
func (p *PreviewWindow) Show(frame Frame, events []Event) error {
	if frame.Pixels == nil {
		return fmt.Errorf("preview %s: frame has no pixel data", p.CameraName)
	}

	mat, err := gocv.NewMatFromBytes(frame.Pixels.Height, frame.Pixels.Width, gocv.MatTypeCV8UC3, frame.Pixels.Data)
	if err != nil {
		return fmt.Errorf("preview %s: constructing mat: %w", p.CameraName, err)
	}
	defer mat.Close()

	green := color.RGBA{G: 255, A: 255}
	for _, evt := range events {
		rect := image.Rect(evt.BBox.X1, evt.BBox.Y1, evt.BBox.X2, evt.BBox.Y2)
		gocv.Rectangle(&mat, rect, green, 2)
	}
	gocv.PutText(&mat, p.CameraName, image.Pt(10, 25), gocv.FontHersheyPlain, 1.2, green, 2)

	p.window.IMShow(mat)
	p.window.WaitKey(1)
	return nil
}

// Close destroys the native window.
func (p *PreviewWindow) Close() error {
	return p.window.Close()
}
