package facewatch

import (
	"context"
	"log"
	"time"
)

// Detection is one raw face found in a frame by a FaceDetector, before
// quality scoring or track association.
type Detection struct {
	BBox       BBox
	Confidence float64
}

// FaceDetector finds faces in a frame's pixel data.
type FaceDetector interface {
	Detect(pixels *PixelBuffer) ([]Detection, error)
}

// LandmarkModel refines a detected face region into a landmark count,
// used as one of the inputs to the quality score. Implementations that
// do not run landmark detection can be omitted entirely.
type LandmarkModel interface {
	Landmarks(pixels *PixelBuffer, bbox BBox) (int, error)
}

// Reclaimer is an optional hook a DetectionWorker invokes periodically,
// for detector backends whose native runtime benefits from an explicit
// nudge to release accelerator memory between batches. The default is
// a no-op; most backends need nothing here.
type Reclaimer interface {
	Reclaim()
}

type noopReclaimer struct{}

func (noopReclaimer) Reclaim() {}

// DetectionWorker pulls frames off a queue, runs detection and optional
// landmark refinement, scores and filters the results, and pushes
// surviving events onto the events queue.
type DetectionWorker struct {
	Detector  FaceDetector
	Landmarks LandmarkModel
	Sequence  *SequenceGenerator
	Frames    *Queue[Frame]
	Events    *Queue[Event]

	// Display, if set, is shown every processed frame alongside the
	// events detected in it. Nil disables rendering entirely.
	Display DisplaySink

	MinBBoxWidth  int
	MinConfidence float64

	// BatchSize caps how many frames Run pulls off Frames in one
	// GetBatch call before processing them. A CPU-bound backend gets no
	// benefit from batching (default 1); an accelerator-backed
	// FaceDetector can set this higher (the original's own guidance is
	// roughly 32) to amortize per-call overhead.
	BatchSize int
	// BatchTimeout bounds how long GetBatch waits for each frame after
	// the first when filling a batch. Defaults to 5ms.
	BatchTimeout time.Duration

	// Reclaimer is invoked every ReclaimEvery processed frames. Nil
	// Reclaimer or a non-positive ReclaimEvery disables the hook.
	Reclaimer   Reclaimer
	ReclaimEvery int

	Logger *log.Logger

	processed int
}

// Run processes frames until ctx is cancelled or the frame queue closes.
func (w *DetectionWorker) Run(ctx context.Context) error {
	reclaimer := w.Reclaimer
	if reclaimer == nil {
		reclaimer = noopReclaimer{}
	}

	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batchTimeout := w.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Millisecond
	}

	for {
		batch, err := w.Frames.GetBatch(ctx, batchSize, batchTimeout)
		if err != nil {
			return err
		}

		for _, frame := range batch {
			if err := w.processFrame(ctx, frame); err != nil {
				return err
			}

			w.processed++
			if w.ReclaimEvery > 0 && w.processed%w.ReclaimEvery == 0 {
				reclaimer.Reclaim()
			}
		}
	}
}

func (w *DetectionWorker) processFrame(ctx context.Context, frame Frame) error {
	detections, err := w.Detector.Detect(frame.Pixels)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Printf("camera %s: detection error: %v", frame.CameraID, err)
		}
		return nil
	}

	var shown []Event
	for _, d := range detections {
		landmarks := 0
		if w.Landmarks != nil {
			n, err := w.Landmarks.Landmarks(frame.Pixels, d.BBox)
			if err != nil {
				if w.Logger != nil {
					w.Logger.Printf("camera %s: landmark error: %v", frame.CameraID, err)
				}
			} else {
				landmarks = n
			}
		}

		detectedAt := frame.CapturedAt
		if detectedAt.IsZero() {
			detectedAt = time.Now()
		}
		evt := NewEvent(w.Sequence, frame.CameraID, d.BBox, d.Confidence, landmarks, frame, detectedAt)
		shown = append(shown, evt)
		if !evt.PassesFilter(w.MinBBoxWidth, w.MinConfidence) {
			continue
		}

		if !w.Events.TryPush(evt) {
			if w.Events.Closed() {
				return ErrQueueClosed
			}
			if w.Logger != nil {
				w.Logger.Printf("camera %s: event queue full, dropping event %s", frame.CameraID, evt.ID)
			}
		}
	}

	if w.Display != nil {
		if err := w.Display.Show(frame, shown); err != nil && w.Logger != nil {
			w.Logger.Printf("camera %s: display error: %v", frame.CameraID, err)
		}
	}
	return nil
}
