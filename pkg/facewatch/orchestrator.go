package facewatch

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator wires together camera capture, detection, track
// association and dispatch into one running pipeline: cameras feed a
// bounded frame queue, a pool of detection workers drain it into an
// event queue, a pool of track-manager workers (plus one background
// inactivity sweeper) drain that into an upload queue, and a pool of
// dispatch workers drain uploads to the recognition service.
type Orchestrator struct {
	Cameras        []CameraDescriptor
	NewCameraSource func(CameraDescriptor) CameraSource
	ReconnectPolicy ReconnectPolicy

	Detector  FaceDetector
	Landmarks LandmarkModel

	Sink    RecognitionSink
	Display DisplaySink

	FrameQueueSize  int
	EventQueueSize  int
	UploadQueueSize int

	DetectionWorkers int
	TrackWorkers     int
	DispatchWorkers  int

	MinBBoxWidth  int
	MinConfidence float64

	// ReclaimEvery controls how often each detection worker invokes the
	// detector's Reclaim hook, if it implements Reclaimer. Zero disables
	// the hook.
	ReclaimEvery int

	// BatchSize and BatchTimeout control how many frames each detection
	// worker pulls off the frame queue per GetBatch call. Zero values
	// fall back to DetectionWorker's own CPU-sized defaults.
	BatchSize    int
	BatchTimeout time.Duration

	TrackManager TrackManagerConfig

	// ShutdownTimeout bounds how long Run waits, after the context is
	// cancelled, for in-flight tracks to finalize before force-closing
	// the remaining pipeline stages.
	ShutdownTimeout time.Duration

	Logger *log.Logger
}

// Run drives the full pipeline until ctx is cancelled, then performs a
// staged, timeout-bounded shutdown: camera capture stops first, then
// each downstream queue is closed and drained in turn.
func (o *Orchestrator) Run(ctx context.Context) error {
	frames := NewQueue[Frame](sizeOrDefault(o.FrameQueueSize, 100))
	events := NewQueue[Event](sizeOrDefault(o.EventQueueSize, 1000))
	uploads := NewQueue[*Track](sizeOrDefault(o.UploadQueueSize, 100))

	o.warmUpDetector()

	var seq SequenceGenerator

	cameraGroup, cameraCtx := errgroup.WithContext(ctx)
	for _, descriptor := range o.Cameras {
		descriptor := descriptor
		task := &CaptureTask{
			Descriptor: descriptor,
			Source:     o.NewCameraSource(descriptor),
			Frames:     frames,
			Policy:     o.ReconnectPolicy,
			Logger:     o.Logger,
		}
		cameraGroup.Go(func() error {
			if err := task.Run(cameraCtx); err != nil && !errors.Is(err, context.Canceled) {
				// A camera that permanently fails to reconnect should
				// not take the rest of the pipeline down with it.
				o.logf("camera %s stopped: %v", descriptor.ID, err)
			}
			return nil
		})
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	reclaimer, _ := o.Detector.(Reclaimer)

	detectGroup, detectCtx := errgroup.WithContext(workerCtx)
	for i := 0; i < countOrDefault(o.DetectionWorkers, 1); i++ {
		w := &DetectionWorker{
			Detector:      o.Detector,
			Landmarks:     o.Landmarks,
			Sequence:      &seq,
			Frames:        frames,
			Events:        events,
			Display:       o.Display,
			MinBBoxWidth:  o.MinBBoxWidth,
			MinConfidence: o.MinConfidence,
			BatchSize:     o.BatchSize,
			BatchTimeout:  o.BatchTimeout,
			Reclaimer:     reclaimer,
			ReclaimEvery:  o.ReclaimEvery,
			Logger:        o.Logger,
		}
		detectGroup.Go(func() error { return w.Run(detectCtx) })
	}

	tm := NewTrackManager(o.TrackManager, uploads, o.Logger)
	trackGroup, trackCtx := errgroup.WithContext(workerCtx)
	for i := 0; i < countOrDefault(o.TrackWorkers, 1); i++ {
		trackGroup.Go(func() error { return runTrackWorker(trackCtx, events, tm) })
	}
	trackGroup.Go(func() error { return tm.RunSweeper(trackCtx) })

	dispatchGroup, dispatchCtx := errgroup.WithContext(workerCtx)
	dispatchWorkers := make([]*DispatchWorker, 0, countOrDefault(o.DispatchWorkers, 1))
	for i := 0; i < countOrDefault(o.DispatchWorkers, 1); i++ {
		dw := &DispatchWorker{Uploads: uploads, Sink: o.Sink, Logger: o.Logger}
		dispatchWorkers = append(dispatchWorkers, dw)
		dispatchGroup.Go(func() error { return dw.Run(dispatchCtx) })
	}

	camErr := cameraGroup.Wait()
	frames.Close()

	timeout := o.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownTimer := time.AfterFunc(timeout, cancelWorkers)
	defer shutdownTimer.Stop()

	detectErr := detectGroup.Wait()
	events.Close()

	trackErr := trackGroup.Wait()
	uploads.Close()

	dispatchErr := dispatchGroup.Wait()

	var totalSuccesses, totalFailures uint64
	for _, dw := range dispatchWorkers {
		totalSuccesses += dw.Successes()
		totalFailures += dw.Failures()
	}
	o.logf("dispatch complete: %d succeeded, %d failed", totalSuccesses, totalFailures)

	if o.Display != nil {
		o.Display.Close()
	}

	return firstUnexpected(camErr, detectErr, trackErr, dispatchErr)
}

// warmUpDetector runs one throwaway inference on a blank image before
// the detection pool starts, so the backend's first real frame doesn't
// pay for lazy model initialization (CUDA context setup, kernel JIT,
// weight paging) on the camera's time budget.
func (o *Orchestrator) warmUpDetector() {
	if o.Detector == nil {
		return
	}
	const dummySize = 640
	dummy := NewPixelBuffer(make([]byte, dummySize*dummySize*3), dummySize, dummySize, 3)
	if _, err := o.Detector.Detect(dummy); err != nil {
		o.logf("detector warm-up inference failed (continuing): %v", err)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

func runTrackWorker(ctx context.Context, events *Queue[Event], tm *TrackManager) error {
	for {
		evt, err := events.Pop(ctx)
		if err != nil {
			return err
		}
		if err := tm.ProcessEvent(ctx, evt); err != nil {
			return err
		}
	}
}

// firstUnexpected returns the first error among errs that is not one of
// the expected shutdown signals (context cancellation or deadline, a
// queue having been closed as part of the normal drain sequence, or a
// camera having exhausted its reconnect retries).
func firstUnexpected(errs ...error) error {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueueClosed) || errors.Is(err, ErrMaxRetriesExceeded) {
			continue
		}
		return err
	}
	return nil
}

func sizeOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func countOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
