package facewatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// ErrMaxRetriesExceeded is returned by CaptureTask.Run once a camera has
// failed to (re)connect more times than its configured retry budget.
var ErrMaxRetriesExceeded = errors.New("facewatch: camera exceeded max reconnect retries")

// CameraSource is the interface for camera capture backends: an RTSP or
// HTTP stream, a test double, or any other source of frames.
type CameraSource interface {
	// Open connects to the camera. It may be called again after Close
	// to reconnect.
	Open(ctx context.Context) error
	// Read captures a single frame.
	Read() (*PixelBuffer, error)
	// Close releases the underlying connection.
	Close() error
}

// CameraDescriptor identifies one camera as returned by the camera
// directory service.
type CameraDescriptor struct {
	ID   string
	Name string
	URL  string
}

// ReconnectPolicy controls how a CaptureTask paces and bounds its
// reconnect attempts.
type ReconnectPolicy struct {
	BaseDelay  time.Duration
	MaxRetries int
}

// CaptureTask owns one camera's lifecycle: connect, read frames into a
// shared queue, and reconnect with jittered backoff if the stream
// drops, until the retry budget is exhausted or the context is
// cancelled.
type CaptureTask struct {
	Descriptor CameraDescriptor
	Source     CameraSource
	Frames     *Queue[Frame]
	Policy     ReconnectPolicy
	Logger     *log.Logger

	seq     SequenceGenerator
	limiter *rate.Limiter
}

// Run connects the camera and streams frames into Frames until ctx is
// cancelled, the camera permanently fails to reconnect, or the queue is
// closed.
func (c *CaptureTask) Run(ctx context.Context) error {
	if c.Policy.BaseDelay <= 0 {
		c.Policy.BaseDelay = 5 * time.Second
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Every(c.Policy.BaseDelay), 1)
	}

	attempt := 0
	for {
		if err := c.Source.Open(ctx); err != nil {
			attempt++
			if c.Policy.MaxRetries > 0 && attempt > c.Policy.MaxRetries {
				return fmt.Errorf("%w: %s (%d attempts, last error: %v)", ErrMaxRetriesExceeded, c.Descriptor.ID, attempt, err)
			}
			c.logf("camera %s: connect attempt %d failed: %v", c.Descriptor.ID, attempt, err)
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		if err := c.readLoop(ctx); err != nil {
			c.Source.Close()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueueClosed) {
				return err
			}
			attempt++
			if c.Policy.MaxRetries > 0 && attempt > c.Policy.MaxRetries {
				return fmt.Errorf("%w: %s (%d attempts, last error: %v)", ErrMaxRetriesExceeded, c.Descriptor.ID, attempt, err)
			}
			c.logf("camera %s: stream dropped: %v", c.Descriptor.ID, err)
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (c *CaptureTask) readLoop(ctx context.Context) error {
	defer c.Source.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buf, err := c.Source.Read()
		if err != nil {
			return err
		}

		frame := Frame{
			CameraID:   c.Descriptor.ID,
			Pixels:     buf,
			CapturedAt: time.Now(),
			Sequence:   c.seq.Next(),
		}
		if !c.Frames.TryPush(frame) {
			if c.Frames.Closed() {
				return ErrQueueClosed
			}
			c.logf("camera %s: frame queue full, dropping frame %d", c.Descriptor.ID, frame.Sequence)
		}
	}
}

// backoff waits a jittered, exponentially increasing delay before the
// next reconnect attempt. The rate limiter additionally caps the
// fastest possible reconnect pace across repeated failures, so a
// camera that fails instantly (e.g. DNS resolution error) can't spin
// the retry loop faster than one attempt per base delay.
func (c *CaptureTask) backoff(ctx context.Context, attempt int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	if shift < 0 {
		shift = 0
	}
	scaled := c.Policy.BaseDelay * time.Duration(1<<uint(shift))
	jitter := time.Duration(rand.Int63n(int64(scaled) + 1))

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CaptureTask) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
