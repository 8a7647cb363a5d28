//go:build cgo
// +build cgo

package facewatch

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

var errNoMoreFrames = errors.New("no more frames")

type orchestratorFakeSink struct {
	mu     sync.Mutex
	tracks []*Track
}

func (s *orchestratorFakeSink) Dispatch(ctx context.Context, track *Track, jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
	return nil
}

func (s *orchestratorFakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// movingFakeDetector shifts its returned bbox a little further right on
// each call, so a track built from its detections registers movement
// and is eligible to be emitted rather than discarded as stationary.
type movingFakeDetector struct {
	mu    sync.Mutex
	calls int
}

func (d *movingFakeDetector) Detect(pixels *PixelBuffer) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	shift := d.calls * 5
	d.calls++
	return []Detection{
		{BBox: BBox{X1: 10 + shift, Y1: 10, X2: 60 + shift, Y2: 60}, Confidence: 0.9},
	}, nil
}

func TestOrchestratorRunEndToEnd(t *testing.T) {
	frameBuf := NewPixelBuffer(make([]byte, 100*100*3), 100, 100, 3)

	sink := &orchestratorFakeSink{}
	det := &movingFakeDetector{}

	newSource := &scriptedCameraSource{buf: frameBuf, frames: 5}

	o := &Orchestrator{
		Cameras: []CameraDescriptor{{ID: "cam-1"}},
		NewCameraSource: func(CameraDescriptor) CameraSource {
			return newSource
		},
		ReconnectPolicy: ReconnectPolicy{BaseDelay: time.Millisecond, MaxRetries: 1},
		Detector:        det,
		Sink:            sink,
		Display:         NullDisplay{},
		FrameQueueSize:  10,
		EventQueueSize:  10,
		UploadQueueSize: 10,
		DetectionWorkers: 1,
		TrackWorkers:     1,
		DispatchWorkers:  1,
		MinConfidence:    0.5,
		TrackManager: TrackManagerConfig{
			MaxFrames:           60,
			InactivityThreshold: 20 * time.Millisecond,
			SweepInterval:       10 * time.Millisecond,
			DistancePercentage:  0.07,
		},
		ShutdownTimeout: 100 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.count() == 0 {
		t.Error("expected at least one track to reach the recognition sink")
	}
}

func TestOrchestratorLogsDispatchSummaryOnShutdown(t *testing.T) {
	frameBuf := NewPixelBuffer(make([]byte, 100*100*3), 100, 100, 3)

	var logBuf strings.Builder
	logger := log.New(&logBuf, "", 0)

	det := &movingFakeDetector{}

	o := &Orchestrator{
		Cameras: []CameraDescriptor{{ID: "cam-1"}},
		NewCameraSource: func(CameraDescriptor) CameraSource {
			return &scriptedCameraSource{buf: frameBuf, frames: 5}
		},
		ReconnectPolicy:  ReconnectPolicy{BaseDelay: time.Millisecond, MaxRetries: 1},
		Detector:         det,
		Sink:             &orchestratorFakeSink{},
		Display:          NullDisplay{},
		FrameQueueSize:   10,
		EventQueueSize:   10,
		UploadQueueSize:  10,
		DetectionWorkers: 1,
		TrackWorkers:     1,
		DispatchWorkers:  1,
		MinConfidence:    0.5,
		TrackManager: TrackManagerConfig{
			MaxFrames:           60,
			InactivityThreshold: 20 * time.Millisecond,
			SweepInterval:       10 * time.Millisecond,
			DistancePercentage:  0.07,
		},
		ShutdownTimeout: 100 * time.Millisecond,
		Logger:          logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(logBuf.String(), "dispatch complete:") {
		t.Errorf("expected a dispatch summary line in the log, got: %s", logBuf.String())
	}
}

type countingDetector struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDetector) Detect(pixels *PixelBuffer) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil, nil
}

func (d *countingDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestWarmUpDetectorRunsOneThrowawayInference(t *testing.T) {
	det := &countingDetector{}
	o := &Orchestrator{Detector: det}
	o.warmUpDetector()

	if det.callCount() != 1 {
		t.Errorf("expected exactly one warm-up inference call, got %d", det.callCount())
	}
}

// scriptedCameraSource hands back the same pixel buffer a fixed number
// of times, then reports the stream as ended.
type scriptedCameraSource struct {
	buf       *PixelBuffer
	frames    int
	delivered int
}

func (s *scriptedCameraSource) Open(ctx context.Context) error { return nil }

func (s *scriptedCameraSource) Read() (*PixelBuffer, error) {
	if s.delivered >= s.frames {
		return nil, errNoMoreFrames
	}
	s.delivered++
	return s.buf, nil
}

func (s *scriptedCameraSource) Close() error { return nil }
