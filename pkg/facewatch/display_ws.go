package facewatch

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// WebSocketDisplay serves annotated frames to any connected websocket
// client, for headless deployments where no native window is
// available. Each frame passed to Show is broadcast to every client
// currently connected. Show writes to the clients one after another in
// the caller's goroutine, so a slow client delays the caller; a client
// whose write fails is dropped.
type WebSocketDisplay struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWebSocketDisplay constructs a display sink and returns it along
// with its http.Handler, which the caller mounts at whatever path it
// likes (e.g. "/preview").
func NewWebSocketDisplay(logger *log.Logger) (*WebSocketDisplay, http.Handler) {
	d := &WebSocketDisplay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
	return d, http.HandlerFunc(d.handleConn)
}

func (d *WebSocketDisplay) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("websocket display: upgrade failed: %v", err)
		}
		return
	}

	d.mu.Lock()
	d.clients[conn] = struct{}{}
	d.mu.Unlock()

	// Drain and discard anything the client sends; we only push frames.
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.clients, conn)
			d.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Show renders the frame with event bboxes and the camera name overlaid
// into a JPEG, then pushes it to every connected client.
func (d *WebSocketDisplay) Show(frame Frame, events []Event) error {
	if frame.Pixels == nil {
		return fmt.Errorf("websocket display: frame has no pixel data")
	}

	img := bgrToRGBA(frame.Pixels)
	for _, evt := range events {
		drawBoxOutline(img, evt.BBox, color.RGBA{G: 255, A: 255})
	}
	drawLabel(img, frame.CameraID, 10, 20)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return fmt.Errorf("websocket display: encoding jpeg: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.clients {
		if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			conn.Close()
			delete(d.clients, conn)
		}
	}
	return nil
}

// Close drops every connected client.
func (d *WebSocketDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.clients {
		conn.Close()
		delete(d.clients, conn)
	}
	return nil
}

// bgrToRGBA converts a gocv-convention BGR pixel buffer into a standard
// library image.RGBA, the format the rest of this file's drawing
// helpers and the stdlib JPEG encoder operate on.
func bgrToRGBA(buf *PixelBuffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			i := (y*buf.Width + x) * buf.Channels
			if i+2 >= len(buf.Data) {
				continue
			}
			b, g, r := buf.Data[i], buf.Data[i+1], buf.Data[i+2]
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

func drawBoxOutline(img *image.RGBA, b BBox, c color.RGBA) {
	for x := b.X1; x < b.X2; x++ {
		img.SetRGBA(x, b.Y1, c)
		img.SetRGBA(x, b.Y2-1, c)
	}
	for y := b.Y1; y < b.Y2; y++ {
		img.SetRGBA(b.X1, y, c)
		img.SetRGBA(b.X2-1, y, c)
	}
}

func drawLabel(img *image.RGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{G: 255, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
