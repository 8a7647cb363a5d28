//go:build cgo
// +build cgo

package facewatch

import "testing"

func TestEncodeJPEGProducesNonEmptyOutput(t *testing.T) {
	width, height := 4, 4
	data := make([]byte, width*height*3)
	for i := range data {
		data[i] = byte(i % 256)
	}
	buf := NewPixelBuffer(data, width, height, 3)

	encoded, err := EncodeJPEG(buf)
	if err != nil {
		t.Fatalf("unexpected error encoding jpeg: %v", err)
	}
	if len(encoded) == 0 {
		t.Error("expected non-empty jpeg output")
	}
	// JPEG files start with the SOI marker 0xFFD8.
	if encoded[0] != 0xFF || encoded[1] != 0xD8 {
		t.Errorf("expected JPEG SOI marker, got % x", encoded[:2])
	}
}

func TestNewGoCVCameraNotOpenedRejectsRead(t *testing.T) {
	cam := NewGoCVCamera("rtsp://example.invalid/stream", false)
	if _, err := cam.Read(); err == nil {
		t.Error("expected error reading from an unopened camera")
	}
}

func TestEncodeCroppedJPEGRejectsOutOfBoundsBBox(t *testing.T) {
	buf := NewPixelBuffer(make([]byte, 4*4*3), 4, 4, 3)
	if _, err := EncodeCroppedJPEG(buf, BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}); err == nil {
		t.Error("expected error for a bbox outside the frame")
	}
}

func TestEncodeCroppedJPEGProducesValidJPEG(t *testing.T) {
	width, height := 10, 10
	data := make([]byte, width*height*3)
	for i := range data {
		data[i] = byte(i % 256)
	}
	buf := NewPixelBuffer(data, width, height, 3)

	encoded, err := EncodeCroppedJPEG(buf, BBox{X1: 2, Y1: 2, X2: 8, Y2: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoded[0] != 0xFF || encoded[1] != 0xD8 {
		t.Errorf("expected JPEG SOI marker, got % x", encoded[:2])
	}
}
