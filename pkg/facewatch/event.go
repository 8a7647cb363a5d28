package facewatch

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SequenceGenerator hands out monotonically increasing sequence numbers,
// safe for concurrent use by multiple detection workers. Every Event
// additionally carries a UUID for external correlation; the UUID says
// nothing about order, Sequence does.
type SequenceGenerator struct {
	counter atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *SequenceGenerator) Next() uint64 {
	return s.counter.Add(1)
}

// Event is one detection: a face found in one frame, scored and ready
// for track association.
type Event struct {
	ID         string
	CameraID   string
	Sequence   uint64
	BBox       BBox
	Confidence float64
	Landmarks  int
	Quality    float64
	Frame      Frame
	DetectedAt time.Time
}

// NewEvent builds an Event, computing its quality score from the
// supplied bbox, confidence, landmark count and the frame's dimensions.
func NewEvent(seq *SequenceGenerator, cameraID string, bbox BBox, confidence float64, landmarks int, frame Frame, detectedAt time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		CameraID:   cameraID,
		Sequence:   seq.Next(),
		BBox:       bbox,
		Confidence: confidence,
		Landmarks:  landmarks,
		Quality:    Quality(bbox, confidence, frame.Width(), frame.Height(), landmarks),
		Frame:      frame,
		DetectedAt: detectedAt,
	}
}

// PassesFilter reports whether the event meets the minimum bbox width
// and confidence thresholds below which a detection is discarded before
// ever reaching track association.
func (e Event) PassesFilter(minBBoxWidth int, minConfidence float64) bool {
	return e.BBox.Width() >= minBBoxWidth && e.Confidence >= minConfidence
}
