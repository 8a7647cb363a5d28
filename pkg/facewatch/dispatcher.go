package facewatch

import (
	"context"
	"log"
	"sync/atomic"
)

// RecognitionSink forwards one finalized track's best event to an
// external recognition service. Implementations live outside this
// package (see pkg/recognition) so facewatch depends only on the
// interface it needs.
type RecognitionSink interface {
	Dispatch(ctx context.Context, track *Track, jpeg []byte) error
}

// DispatchWorker pulls finalized tracks off the uploads queue, encodes
// the best event's full frame, and forwards it to a RecognitionSink.
// Per-worker success/failure counts are exposed so the orchestrator can
// report them on shutdown.
type DispatchWorker struct {
	Uploads *Queue[*Track]
	Sink    RecognitionSink
	Logger  *log.Logger

	successes atomic.Uint64
	failures  atomic.Uint64
}

// Successes returns the number of tracks this worker has dispatched
// successfully.
func (w *DispatchWorker) Successes() uint64 { return w.successes.Load() }

// Failures returns the number of tracks this worker failed to dispatch.
func (w *DispatchWorker) Failures() uint64 { return w.failures.Load() }

// Run dispatches tracks until ctx is cancelled or the uploads queue
// closes.
func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		track, err := w.Uploads.Pop(ctx)
		if err != nil {
			return err
		}
		w.dispatch(ctx, track)
	}
}

func (w *DispatchWorker) dispatch(ctx context.Context, track *Track) {
	best := track.BestEvent
	if best.Frame.Pixels == nil {
		w.failures.Add(1)
		w.logf("track %s on %s: best event has no pixel data, skipping", track.ID, track.CameraID)
		return
	}

	// The recognition service wants the full frame plus a region of
	// interest in full-frame coordinates, not a pre-cropped image — a
	// cropped send would leave best.BBox pointing at the wrong pixels.
	jpeg, err := EncodeJPEG(best.Frame.Pixels)
	if err != nil {
		w.failures.Add(1)
		w.logf("track %s on %s: encoding best event: %v", track.ID, track.CameraID, err)
		return
	}

	if err := w.Sink.Dispatch(ctx, track, jpeg); err != nil {
		w.failures.Add(1)
		w.logf("track %s on %s: dispatch failed: %v", track.ID, track.CameraID, err)
		return
	}
	w.successes.Add(1)
}

func (w *DispatchWorker) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}
