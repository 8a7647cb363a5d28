// Package facewatch implements the concurrent detection-to-dispatch
// pipeline: bounded queues fan frames from camera capture tasks into a
// pool of detection workers, a track manager associates detections into
// per-face trajectories using an adaptive IoU + centroid matcher, and a
// dispatcher forwards one chosen event per finalized trajectory to an
// external recognition service.
package facewatch

import "math"

// BBox is an axis-aligned bounding box in pixel space, x1,y1 inclusive,
// x2,y2 exclusive-ish per the detector's convention (callers are
// consistent; this package never assumes either).
type BBox struct {
	X1, Y1, X2, Y2 int
}

// Width returns the box width in pixels. Negative if degenerate.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels. Negative if degenerate.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area in pixels^2, or 0 if degenerate.
func (b BBox) Area() int {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Valid reports whether the box has positive width and height.
func (b BBox) Valid() bool {
	return b.Width() > 0 && b.Height() > 0
}

// Center returns the box's centroid.
func (b BBox) Center() (x, y float64) {
	return float64(b.X1+b.X2) / 2.0, float64(b.Y1+b.Y2) / 2.0
}

// IoUMeanArea computes intersection-over-mean-area between two boxes:
// the intersection area divided by the MEAN of the two box areas, not
// their union. This is deliberately not the textbook IoU — it is the
// adaptive matcher's own overlap measure, and it returns 0 whenever
// either box is degenerate or the boxes do not overlap.
func IoUMeanArea(a, b BBox) float64 {
	areaA, areaB := a.Area(), b.Area()
	if areaA == 0 || areaB == 0 {
		return 0
	}

	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	inter := (x2 - x1) * (y2 - y1)
	meanArea := float64(areaA+areaB) / 2.0
	return float64(inter) / meanArea
}

// CentroidDistance returns the Euclidean distance, in pixels, between
// the centers of two boxes.
func CentroidDistance(a, b BBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	dx, dy := ax-bx, ay-by
	return math.Sqrt(dx*dx + dy*dy)
}

// AdaptiveIoUThreshold returns the minimum IoUMeanArea required for a
// primary match, scaled down as frame resolution grows: higher
// resolutions pack more pixels into the same physical displacement, so
// a fixed IoU threshold would otherwise over- or under-match.
func AdaptiveIoUThreshold(frameWidth, frameHeight int) float64 {
	maxDim := max(frameWidth, frameHeight)
	switch {
	case maxDim <= 640:
		return 0.20
	case maxDim <= 1280:
		return 0.15
	case maxDim <= 1920:
		return 0.12
	default:
		return 0.10
	}
}

// FrameDiagonal returns the pixel length of the frame's diagonal.
func FrameDiagonal(frameWidth, frameHeight int) float64 {
	return math.Sqrt(float64(frameWidth*frameWidth + frameHeight*frameHeight))
}

// AdaptiveDistanceThreshold returns the maximum centroid distance, in
// pixels, for the fallback match: a fixed percentage of the frame
// diagonal (default 7%, configurable via percentage).
func AdaptiveDistanceThreshold(frameWidth, frameHeight int, percentage float64) float64 {
	if percentage <= 0 {
		percentage = 0.07
	}
	return FrameDiagonal(frameWidth, frameHeight) * percentage
}

// HasMovement reports whether the centroid moved enough between two
// boxes to count as subject movement. Either criterion alone is
// sufficient: an absolute pixel displacement, or a displacement that is
// a large-enough fraction of the frame diagonal. minPercentage <= 0
// disables the percentage criterion.
func HasMovement(a, b BBox, frameWidth, frameHeight int, minPixels, minPercentage float64) bool {
	d := CentroidDistance(a, b)
	if d >= minPixels {
		return true
	}
	if minPercentage <= 0 {
		return false
	}
	return d >= FrameDiagonal(frameWidth, frameHeight)*minPercentage
}
