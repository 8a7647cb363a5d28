package facewatch

import (
	"context"
	"testing"
	"time"
)

func testFrame(w, h int) Frame {
	return Frame{Pixels: NewPixelBuffer(make([]byte, w*h*3), w, h, 3)}
}

func testEvent(cameraID string, bbox BBox, confidence float64, frame Frame, at time.Time) Event {
	var seq SequenceGenerator
	return NewEvent(&seq, cameraID, bbox, confidence, 5, frame, at)
}

func newTestManager(cfg TrackManagerConfig) (*TrackManager, *Queue[*Track]) {
	uploads := NewQueue[*Track](10)
	return NewTrackManager(cfg, uploads, nil), uploads
}

func defaultTestConfig() TrackManagerConfig {
	return TrackManagerConfig{
		MaxFrames:             60,
		InactivityThreshold:   15 * time.Second,
		SweepInterval:         time.Second,
		MinMovementPixels:     50,
		MinMovementPercentage: 0.10,
		DistancePercentage:    0.07,
	}
}

func TestProcessEventCreatesNewTrackWhenNoneMatch(t *testing.T) {
	m, _ := newTestManager(defaultTestConfig())
	frame := testFrame(1920, 1080)
	now := time.Now()

	evt := testEvent("cam-1", BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}, 0.9, frame, now)
	if err := m.ProcessEvent(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.byID["cam-1"]) != 1 {
		t.Fatalf("expected one open track, got %d", len(m.byID["cam-1"]))
	}
}

func TestProcessEventMatchesOverlappingBox(t *testing.T) {
	m, _ := newTestManager(defaultTestConfig())
	frame := testFrame(1920, 1080)
	now := time.Now()

	first := testEvent("cam-1", BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}, 0.9, frame, now)
	m.ProcessEvent(context.Background(), first)

	second := testEvent("cam-1", BBox{X1: 105, Y1: 105, X2: 205, Y2: 205}, 0.9, frame, now.Add(100*time.Millisecond))
	m.ProcessEvent(context.Background(), second)

	tracks := m.byID["cam-1"]
	if len(tracks) != 1 {
		t.Fatalf("expected the second event to extend the existing track, got %d tracks", len(tracks))
	}
	if len(tracks[0].Events) != 2 {
		t.Errorf("expected 2 events on the track, got %d", len(tracks[0].Events))
	}
}

func TestProcessEventStartsNewTrackWhenFarAway(t *testing.T) {
	m, _ := newTestManager(defaultTestConfig())
	frame := testFrame(1920, 1080)
	now := time.Now()

	first := testEvent("cam-1", BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, 0.9, frame, now)
	m.ProcessEvent(context.Background(), first)

	far := testEvent("cam-1", BBox{X1: 1700, Y1: 900, X2: 1800, Y2: 1000}, 0.9, frame, now.Add(100*time.Millisecond))
	m.ProcessEvent(context.Background(), far)

	if len(m.byID["cam-1"]) != 2 {
		t.Fatalf("expected a distant detection to start a new track, got %d tracks", len(m.byID["cam-1"]))
	}
}

func TestProcessEventTracksAreIndependentPerCamera(t *testing.T) {
	m, _ := newTestManager(defaultTestConfig())
	frame := testFrame(1920, 1080)
	now := time.Now()

	m.ProcessEvent(context.Background(), testEvent("cam-1", BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, 0.9, frame, now))
	m.ProcessEvent(context.Background(), testEvent("cam-2", BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, 0.9, frame, now))

	if len(m.byID["cam-1"]) != 1 || len(m.byID["cam-2"]) != 1 {
		t.Error("expected independent tracks per camera")
	}
}

func TestLazyFinalizeOnNextEventArrival(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.InactivityThreshold = 1 * time.Millisecond
	m, uploads := newTestManager(cfg)
	frame := testFrame(1920, 1080)
	now := time.Now()

	stale := testEvent("cam-1", BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, 0.9, frame, now)
	m.ProcessEvent(context.Background(), stale)

	// a second, overlapping-but-shifted event extends the same track and
	// registers movement before it goes stale.
	moved := testEvent("cam-1", BBox{X1: 60, Y1: 0, X2: 160, Y2: 100}, 0.9, frame, now.Add(10*time.Millisecond))
	m.ProcessEvent(context.Background(), moved)

	// a far-away event on the same camera, well after the inactivity window,
	// should both start its own track and finalize the stale one.
	later := now.Add(time.Second)
	fresh := testEvent("cam-1", BBox{X1: 1700, Y1: 900, X2: 1800, Y2: 1000}, 0.9, frame, later)
	m.ProcessEvent(context.Background(), fresh)

	got, err := uploads.PopTimeout(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("expected the stale track to be published, got error: %v", err)
	}
	if got.State != TrackEmitted {
		t.Errorf("expected emitted state, got %v", got.State)
	}
}

func TestSweeperFinalizesInactiveTracks(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.InactivityThreshold = 10 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	m, uploads := newTestManager(cfg)
	frame := testFrame(1920, 1080)
	now := time.Now()

	m.ProcessEvent(context.Background(), testEvent("cam-1", BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, 0.9, frame, now))
	m.ProcessEvent(context.Background(), testEvent("cam-1", BBox{X1: 60, Y1: 0, X2: 160, Y2: 100}, 0.9, frame, now.Add(time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.RunSweeper(ctx) }()

	_, err := uploads.PopTimeout(300 * time.Millisecond)
	if err != nil {
		t.Fatalf("expected sweeper to finalize the idle track, got error: %v", err)
	}
	<-errCh
}

func TestFinalizeDiscardsStationaryTracks(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.InactivityThreshold = 1 * time.Millisecond
	m, uploads := newTestManager(cfg)
	frame := testFrame(1920, 1080)
	now := time.Now()

	// stale never moves: its one event sits still the whole time.
	stale := testEvent("cam-1", BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, 0.9, frame, now)
	m.ProcessEvent(context.Background(), stale)

	fresh := testEvent("cam-1", BBox{X1: 1700, Y1: 900, X2: 1800, Y2: 1000}, 0.9, frame, now.Add(time.Second))
	m.ProcessEvent(context.Background(), fresh)

	if _, err := uploads.PopTimeout(50 * time.Millisecond); err != ErrQueueTimeout {
		t.Errorf("expected the stationary track to be discarded, not published; err=%v", err)
	}
}
