package recognition

import (
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/facewatch/sentry/pkg/facewatch"
)

func testTrack() *facewatch.Track {
	var seq facewatch.SequenceGenerator
	frame := facewatch.Frame{CameraID: "lobby-1"}
	evt := facewatch.NewEvent(&seq, "lobby-1", facewatch.BBox{X1: 10, Y1: 20, X2: 110, Y2: 220}, 0.92, 5, frame, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return facewatch.NewTrack("lobby-1", evt)
}

func TestDispatchPostsMultipartRequest(t *testing.T) {
	var gotAuth, gotCamera, gotROI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/events/create_from_image/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("parsing content type: %v", err)
		}
		reader := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("reading multipart part: %v", err)
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "camera":
				gotCamera = string(data)
			case "roi":
				gotROI = string(data)
			case "fullframe":
				if len(data) == 0 {
					t.Error("expected non-empty image bytes")
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"evt-123","matches":{"count":1}}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Token: "secret-token"})
	err := client.Dispatch(t.Context(), testTrack(), []byte{0xFF, 0xD8, 0xFF})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Token secret-token" {
		t.Errorf("expected Authorization header, got %q", gotAuth)
	}
	if gotCamera != "lobby-1" {
		t.Errorf("expected camera lobby-1, got %q", gotCamera)
	}
	if gotROI != "[10,20,110,220]" {
		t.Errorf("expected roi [10,20,110,220], got %q", gotROI)
	}
}

func TestDispatchLogsDecodedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"evt-456","matches":{"count":3}}`))
	}))
	defer srv.Close()

	var logBuf strings.Builder
	client := New(Config{BaseURL: srv.URL, Token: "secret-token", Logger: log.New(&logBuf, "", 0)})
	if err := client.Dispatch(t.Context(), testTrack(), []byte{0xFF, 0xD8, 0xFF}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(logBuf.String(), "evt-456") || !strings.Contains(logBuf.String(), "3 match") {
		t.Errorf("expected the decoded event id and match count in the log, got: %s", logBuf.String())
	}
}

func TestDispatchReturnsErrorOnNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Token: "secret-token"})
	if err := client.Dispatch(t.Context(), testTrack(), []byte{0xFF}); err == nil {
		t.Error("expected an error for a 500 response")
	}
}
