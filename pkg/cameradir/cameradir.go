// Package cameradir discovers the set of active cameras a pipeline
// should watch, by querying a camera directory service and filtering
// its result to names matching a configured prefix.
package cameradir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/facewatch/sentry/pkg/facewatch"
)

// Client queries a camera directory service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a directory Client against baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// directoryEntry mirrors the directory service's JSON response shape.
type directoryEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"stream_url"`
	Active bool   `json:"active"`
}

// ActiveCameras fetches every active camera whose name starts with
// prefix. An empty prefix matches every active camera.
func (c *Client) ActiveCameras(ctx context.Context, prefix string) ([]facewatch.CameraDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cameradir: building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cameradir: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cameradir: unexpected status %d", resp.StatusCode)
	}

	var entries []directoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("cameradir: decoding response: %w", err)
	}

	var cameras []facewatch.CameraDescriptor
	for _, e := range entries {
		if !e.Active {
			continue
		}
		if prefix != "" && !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		cameras = append(cameras, facewatch.CameraDescriptor{ID: e.ID, Name: e.Name, URL: e.URL})
	}

	if len(cameras) == 0 {
		return nil, fmt.Errorf("cameradir: no active cameras found with prefix %q", prefix)
	}
	return cameras, nil
}
