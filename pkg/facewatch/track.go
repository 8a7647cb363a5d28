package facewatch

import (
	"time"

	"github.com/google/uuid"
)

// TrackState is a track's position in its Growing -> Finalizing ->
// {Emitted, Discarded} lifecycle. NewTrack starts a track directly in
// TrackGrowing, even with a single event; no code in this package
// assigns TrackNew.
type TrackState int

const (
	TrackNew TrackState = iota
	TrackGrowing
	TrackFinalizing
	TrackEmitted
	TrackDiscarded
)

// String implements fmt.Stringer for log output.
func (s TrackState) String() string {
	switch s {
	case TrackNew:
		return "new"
	case TrackGrowing:
		return "growing"
	case TrackFinalizing:
		return "finalizing"
	case TrackEmitted:
		return "emitted"
	case TrackDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Track accumulates the events believed to belong to the same face
// across consecutive frames from one camera, until it is closed out by
// inactivity or by reaching its frame cap.
type Track struct {
	ID       string
	CameraID string
	State    TrackState

	Events    []Event
	BestEvent Event
	Moved     bool

	CreatedAt   time.Time
	LastEventAt time.Time
}

// NewTrack starts a track from its first event.
func NewTrack(cameraID string, first Event) *Track {
	return &Track{
		ID:          uuid.NewString(),
		CameraID:    cameraID,
		State:       TrackGrowing,
		Events:      []Event{first},
		BestEvent:   first,
		CreatedAt:   first.DetectedAt,
		LastEventAt: first.DetectedAt,
	}
}

// LastEvent returns the most recently added event.
func (t *Track) LastEvent() Event {
	return t.Events[len(t.Events)-1]
}

// AddEvent appends evt to the track and updates the best-event
// candidate. evt replaces the current best when its quality is greater
// than or equal to the best's, so an exact tie favors the most recently
// added event, since evt is by construction no older than the current
// best.
func (t *Track) AddEvent(evt Event, moved bool) {
	t.Events = append(t.Events, evt)
	t.LastEventAt = evt.DetectedAt
	if moved {
		t.Moved = true
	}
	if evt.Quality >= t.BestEvent.Quality {
		t.BestEvent = evt
	}
}

// ShouldFinalize reports whether the track has reached its frame cap or
// gone quiet for longer than the inactivity threshold as of now.
func (t *Track) ShouldFinalize(now time.Time, maxFrames int, inactivity time.Duration) bool {
	if maxFrames > 0 && len(t.Events) >= maxFrames {
		return true
	}
	return now.Sub(t.LastEventAt) > inactivity
}

// Finalize closes the track out, transitioning to Emitted if the
// tracked subject moved at any point during the track's life, or
// Discarded otherwise: a track that never moved is assumed to be a
// static false positive (a poster, a photo, a reflection) rather than
// a real visit worth forwarding to recognition.
func (t *Track) Finalize() {
	t.State = TrackFinalizing
	if t.Moved {
		t.State = TrackEmitted
	} else {
		t.State = TrackDiscarded
	}
}
