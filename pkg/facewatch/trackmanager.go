package facewatch

import (
	"context"
	"log"
	"sync"
	"time"
)

// TrackManagerConfig bundles the tuning knobs a TrackManager needs from
// configuration.
type TrackManagerConfig struct {
	MaxFrames             int
	InactivityThreshold   time.Duration
	SweepInterval         time.Duration
	MinMovementPixels     float64
	MinMovementPercentage float64
	DistancePercentage    float64
}

// TrackManager associates incoming events into per-camera tracks using
// an adaptive IoU match with a centroid-distance fallback, and finalizes
// tracks once they go inactive or hit their frame cap. It closes tracks
// two ways, both required: lazily, whenever a new event arrives for the
// same camera, and independently, on a background timer sweep, so a
// camera that goes silent still finalizes its open tracks promptly.
type TrackManager struct {
	cfg     TrackManagerConfig
	uploads *Queue[*Track]
	logger  *log.Logger

	mu   sync.Mutex
	byID map[string][]*Track // cameraID -> open tracks
}

// NewTrackManager constructs a TrackManager that publishes finalized,
// emitted tracks onto uploads.
func NewTrackManager(cfg TrackManagerConfig, uploads *Queue[*Track], logger *log.Logger) *TrackManager {
	return &TrackManager{
		cfg:     cfg,
		uploads: uploads,
		logger:  logger,
		byID:    make(map[string][]*Track),
	}
}

// ProcessEvent matches evt against the camera's open tracks, extending
// the match or starting a new track, then lazily finalizes every track
// on that camera that has gone quiet or reached its frame cap, including
// the one evt was just added to.
func (m *TrackManager) ProcessEvent(ctx context.Context, evt Event) error {
	m.mu.Lock()

	tracks := m.byID[evt.CameraID]
	match, moved := findMatch(tracks, evt, m.cfg.DistancePercentage, m.cfg.MinMovementPixels, m.cfg.MinMovementPercentage)
	if match != nil {
		match.AddEvent(evt, moved)
	} else {
		match = NewTrack(evt.CameraID, evt)
		m.byID[evt.CameraID] = append(tracks, match)
	}

	finalized := m.collectFinalizable(evt.CameraID, evt.DetectedAt)
	m.mu.Unlock()

	m.publish(finalized)
	return nil
}

// RunSweeper runs the background inactivity sweep until ctx is
// cancelled. It finalizes tracks on every camera independent of new
// event arrivals, so a camera that stops sending frames altogether
// still closes out its last open tracks.
func (m *TrackManager) RunSweeper(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drainAll()
			return nil
		case now := <-ticker.C:
			m.mu.Lock()
			var finalized []*Track
			for cameraID := range m.byID {
				finalized = append(finalized, m.collectFinalizable(cameraID, now)...)
			}
			m.mu.Unlock()
			m.publish(finalized)
		}
	}
}

// collectFinalizable must be called with mu held. It removes and
// finalizes every track on cameraID whose inactivity window or frame
// cap has elapsed as of now, returning the ones worth publishing.
func (m *TrackManager) collectFinalizable(cameraID string, now time.Time) []*Track {
	tracks := m.byID[cameraID]
	if len(tracks) == 0 {
		return nil
	}

	var remaining []*Track
	var finalized []*Track
	for _, tr := range tracks {
		if tr.ShouldFinalize(now, m.cfg.MaxFrames, m.cfg.InactivityThreshold) {
			tr.Finalize()
			finalized = append(finalized, tr)
			continue
		}
		remaining = append(remaining, tr)
	}
	m.byID[cameraID] = remaining
	return finalized
}

// drainAll finalizes every open track regardless of inactivity, used on
// shutdown so in-flight tracks are not silently lost.
func (m *TrackManager) drainAll() {
	m.mu.Lock()
	var finalized []*Track
	for cameraID, tracks := range m.byID {
		for _, tr := range tracks {
			tr.Finalize()
			finalized = append(finalized, tr)
		}
		delete(m.byID, cameraID)
	}
	m.mu.Unlock()
	m.publish(finalized)
}

// publish offers each emitted track to the uploads queue via a
// non-blocking put: a full queue means uploads is backed up, and the
// track is dropped with a warning rather than stalling the track
// manager worker that produced it.
func (m *TrackManager) publish(tracks []*Track) {
	for _, tr := range tracks {
		if tr.State != TrackEmitted {
			if m.logger != nil {
				m.logger.Printf("track %s on %s discarded: no movement detected", tr.ID, tr.CameraID)
			}
			continue
		}
		if !m.uploads.TryPush(tr) {
			if m.logger != nil {
				m.logger.Printf("track %s on %s dropped: uploads queue full", tr.ID, tr.CameraID)
			}
		}
	}
}

// findMatch picks the best-matching open track for evt, trying the
// adaptive IoU criterion first and falling back to centroid distance.
// It reports whether the matched track's subject is judged to have
// moved between its previous event and evt.
func findMatch(tracks []*Track, evt Event, distancePercentage, minMovementPixels, minMovementPercentage float64) (*Track, bool) {
	frameW, frameH := evt.Frame.Width(), evt.Frame.Height()

	var best *Track
	bestIoU := 0.0
	iouThreshold := AdaptiveIoUThreshold(frameW, frameH)
	for _, tr := range tracks {
		prev := tr.LastEvent().BBox
		iou := IoUMeanArea(prev, evt.BBox)
		if iou >= iouThreshold && iou > bestIoU {
			best, bestIoU = tr, iou
		}
	}
	if best != nil {
		moved := HasMovement(best.LastEvent().BBox, evt.BBox, frameW, frameH, minMovementPixels, minMovementPercentage)
		return best, moved
	}

	distThreshold := AdaptiveDistanceThreshold(frameW, frameH, distancePercentage)
	bestDist := distThreshold
	for _, tr := range tracks {
		prev := tr.LastEvent().BBox
		d := CentroidDistance(prev, evt.BBox)
		if d <= distThreshold && d <= bestDist {
			best, bestDist = tr, d
		}
	}
	if best != nil {
		moved := HasMovement(best.LastEvent().BBox, evt.BBox, frameW, frameH, minMovementPixels, minMovementPercentage)
		return best, moved
	}

	return nil, false
}
