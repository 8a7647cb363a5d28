// Package recognition implements facewatch.RecognitionSink against an
// external FindFace-style recognition service: a multipart POST of the
// full-frame JPEG, the owning camera, the event timestamp and the
// region of interest within that frame.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/facewatch/sentry/pkg/facewatch"
)

// Client forwards finalized tracks to a recognition service's
// events/create_from_image endpoint over a pooled HTTP connection.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *log.Logger
}

// Config holds the connection settings a Client needs.
type Config struct {
	BaseURL             string
	Token               string
	RequestTimeout      time.Duration
	MaxIdleConnsPerHost int
	Logger              *log.Logger
}

// New constructs a Client with a pooled transport sized per cfg.
func New(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxIdle := cfg.MaxIdleConnsPerHost
	if maxIdle <= 0 {
		maxIdle = 16
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdle * 2,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		logger:  cfg.Logger,
	}
}

// createEventResponse is the subset of the recognition service's
// add_face_event response this client cares about.
type createEventResponse struct {
	ID      string `json:"id"`
	Matches struct {
		Count int `json:"count"`
	} `json:"matches"`
}

// Dispatch implements facewatch.RecognitionSink. It posts jpeg as the
// finalized track's representative frame, alongside the camera ID,
// event timestamp and the best event's bbox as the region of interest.
func (c *Client) Dispatch(ctx context.Context, track *facewatch.Track, jpeg []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("fullframe", "image.jpg")
	if err != nil {
		return fmt.Errorf("recognition: building multipart image part: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return fmt.Errorf("recognition: writing image bytes: %w", err)
	}

	best := track.BestEvent
	fields := map[string]string{
		"camera":      track.CameraID,
		"timestamp":   best.DetectedAt.UTC().Format(time.RFC3339),
		"mf_selector": "biggest",
		"roi":         roiString(best.BBox),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("recognition: writing field %q: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("recognition: closing multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/events/create_from_image/", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("recognition: building request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("recognition: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("recognition: unexpected status %d for track %s", resp.StatusCode, track.ID)
	}

	var decoded createEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("recognition: decoding response for track %s: %w", track.ID, err)
	}
	if c.logger != nil {
		c.logger.Printf("recognition: track %s dispatched as event %s (%d match(es))", track.ID, decoded.ID, decoded.Matches.Count)
	}
	return nil
}

// roiString renders a bbox as the "[left,top,right,bottom]" array form
// the recognition service's API expects.
func roiString(b facewatch.BBox) string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
}
