package facewatch

// areaSaturation is the bbox-area-to-frame-area ratio beyond which the
// area term of the quality score stops increasing. A face occupying 15%
// of the frame is already a close-up; anything larger no longer
// indicates a "better" shot.
const areaSaturation = 0.15

// landmarkSaturation is the landmark count beyond which the landmark
// term stops increasing (5 matches the classic eye/eye/nose/mouth-corner
// landmark set produced by lightweight face-landmark models).
const landmarkSaturation = 5

// Quality scores a detection on [0,1]. It is a pure, deterministic
// function of the bbox, the detector's confidence, the frame dimensions
// and the number of landmarks found:
//
//   - non-decreasing in confidence, other inputs held fixed
//   - non-decreasing in bbox-area-to-frame-area ratio, up to saturation
//   - non-decreasing in landmark count, up to saturation
//   - 0 whenever the bbox is degenerate
//
// The exact weighting is this implementation's choice; the spec mandates
// only the monotonicity properties above.
func Quality(bbox BBox, confidence float64, frameWidth, frameHeight int, landmarkCount int) float64 {
	if !bbox.Valid() || frameWidth <= 0 || frameHeight <= 0 {
		return 0
	}

	confidence = clamp01(confidence)

	areaRatio := float64(bbox.Area()) / float64(frameWidth*frameHeight)
	areaScore := clamp01(areaRatio / areaSaturation)

	landmarkScore := clamp01(float64(landmarkCount) / float64(landmarkSaturation))

	score := 0.5*confidence + 0.3*areaScore + 0.2*landmarkScore
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
