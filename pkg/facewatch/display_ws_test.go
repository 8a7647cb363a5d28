package facewatch

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketDisplayBroadcastsFrameToClient(t *testing.T) {
	disp, handler := NewWebSocketDisplay(nil)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	// give the server goroutine a moment to register the connection
	time.Sleep(20 * time.Millisecond)

	frame := Frame{
		CameraID: "lobby-1",
		Pixels:   NewPixelBuffer(make([]byte, 8*8*3), 8, 8, 3),
	}
	events := []Event{{BBox: BBox{X1: 1, Y1: 1, X2: 5, Y2: 5}}}

	if err := disp.Show(frame, events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a broadcast message, got error: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("expected a binary message, got type %d", msgType)
	}
	if len(data) == 0 {
		t.Error("expected non-empty jpeg payload")
	}
}

func TestWebSocketDisplayCloseWithNoClients(t *testing.T) {
	disp, _ := NewWebSocketDisplay(nil)
	if err := disp.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
