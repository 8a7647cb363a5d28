//go:build cgo
// +build cgo

package facewatch

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ONNXDetector runs a face-detection ONNX model through OpenCV's DNN
// module. It expects the common single-shot-detector output layout
// (one row per candidate box: batch id, class id, confidence, then
// x1,y1,x2,y2 normalized to [0,1]), the same layout OpenCV's own
// res10 face detector ships with.
type ONNXDetector struct {
	mu   sync.Mutex
	net  gocv.Net
	size image.Point

	ConfidenceThreshold float64
	IoUThreshold        float64
}

// NewONNXDetector loads an ONNX face-detection model from modelPath.
// inputSize is the square side the model was exported for (commonly
// 320 or 640).
func NewONNXDetector(modelPath string, inputSize int, confidenceThreshold, iouThreshold float64) (*ONNXDetector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("facewatch: failed to load detector model %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &ONNXDetector{
		net:                 net,
		size:                image.Pt(inputSize, inputSize),
		ConfidenceThreshold: confidenceThreshold,
		IoUThreshold:        iouThreshold,
	}, nil
}

// Close releases the underlying OpenCV network.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Reclaim is the DetectionWorker reclamation hook. OpenCV's DNN module
// keeps no per-frame native allocations that outlive this call, so this
// implementation is intentionally a no-op; it exists so ONNXDetector can
// also satisfy Reclaimer when a caller wants the hook wired regardless.
func (d *ONNXDetector) Reclaim() {}

// Detect implements FaceDetector.
func (d *ONNXDetector) Detect(pixels *PixelBuffer) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mat, err := gocv.NewMatFromBytes(pixels.Height, pixels.Width, gocv.MatTypeCV8UC3, pixels.Data)
	if err != nil {
		return nil, fmt.Errorf("facewatch: constructing mat for detection: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0, d.size, gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	detections := decodeDetectorOutput(output, pixels.Width, pixels.Height, d.ConfidenceThreshold)
	return nmsFilter(detections, d.IoUThreshold), nil
}

// decodeDetectorOutput reshapes the network's raw 4D output blob into
// one seven-column row per candidate box ([batchId, classId, confidence,
// x1, y1, x2, y2], the layout OpenCV's DNN face-detection samples use)
// and reads off the confidence and the four box coordinates.
// Box coordinates are normalized to [0,1] and are rescaled here to the
// original frame's pixel dimensions.
func decodeDetectorOutput(output gocv.Mat, frameW, frameH int, minConfidence float64) []Detection {
	results := output.Reshape(1, output.Total()/7)

	var detections []Detection
	for i := 0; i < results.Rows(); i++ {
		confidence := float64(results.GetFloatAt(i, 2))
		if confidence < minConfidence {
			continue
		}
		bbox := BBox{
			X1: int(results.GetFloatAt(i, 3) * float32(frameW)),
			Y1: int(results.GetFloatAt(i, 4) * float32(frameH)),
			X2: int(results.GetFloatAt(i, 5) * float32(frameW)),
			Y2: int(results.GetFloatAt(i, 6) * float32(frameH)),
		}
		if !bbox.Valid() {
			continue
		}
		detections = append(detections, Detection{BBox: bbox, Confidence: confidence})
	}
	return detections
}

// nmsFilter applies a greedy non-maximum-suppression pass over
// candidate detections using gocv's own NMS implementation, so the
// IoU threshold matches the semantics OpenCV's vision stack uses
// elsewhere in this package.
func nmsFilter(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) == 0 {
		return detections
	}

	rects := make([]image.Rectangle, len(detections))
	scores := make([]float32, len(detections))
	for i, d := range detections {
		rects[i] = image.Rect(d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2)
		scores[i] = float32(d.Confidence)
	}

	keep := gocv.NMSBoxes(rects, scores, 0, float32(iouThreshold))
	kept := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		kept = append(kept, detections[idx])
	}
	return kept
}

// ONNXLandmarkModel runs a lightweight landmark-count model: rather
// than localizing each point, it reports how many of the model's
// canonical landmarks cleared their visibility threshold, which is all
// the quality score needs.
type ONNXLandmarkModel struct {
	mu   sync.Mutex
	net  gocv.Net
	size image.Point

	VisibilityThreshold float64
}

// NewONNXLandmarkModel loads an ONNX landmark model from modelPath.
func NewONNXLandmarkModel(modelPath string, inputSize int, visibilityThreshold float64) (*ONNXLandmarkModel, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("facewatch: failed to load landmark model %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &ONNXLandmarkModel{
		net:                 net,
		size:                image.Pt(inputSize, inputSize),
		VisibilityThreshold: visibilityThreshold,
	}, nil
}

// Close releases the underlying OpenCV network.
func (m *ONNXLandmarkModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// Landmarks implements LandmarkModel by cropping the detected face
// region, running the landmark model over it, and counting output
// points whose visibility score clears the configured threshold.
func (m *ONNXLandmarkModel) Landmarks(pixels *PixelBuffer, bbox BBox) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mat, err := gocv.NewMatFromBytes(pixels.Height, pixels.Width, gocv.MatTypeCV8UC3, pixels.Data)
	if err != nil {
		return 0, fmt.Errorf("facewatch: constructing mat for landmarks: %w", err)
	}
	defer mat.Close()

	x1, y1 := max(0, bbox.X1), max(0, bbox.Y1)
	x2, y2 := min(pixels.Width, bbox.X2), min(pixels.Height, bbox.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0, fmt.Errorf("facewatch: bbox %+v does not intersect %dx%d frame", bbox, pixels.Width, pixels.Height)
	}
	face := mat.Region(image.Rect(x1, y1, x2, y2))
	defer face.Close()

	blob := gocv.BlobFromImage(face, 1.0/255.0, m.size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	const cols = 3 // x, y, visibility per landmark point
	points := output.Reshape(1, output.Total()/cols)

	visible := 0
	for i := 0; i < points.Rows(); i++ {
		if float64(points.GetFloatAt(i, 2)) >= m.VisibilityThreshold {
			visible++
		}
	}
	return visible, nil
}
