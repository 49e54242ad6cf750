// Package reframe decides where the output crop window looks in the source
// frame: a face-tracking camera path with smoothing, or a stable biased
// center when no detector is available.
package reframe

// CropWindow computes crop dimensions (in source pixels) matching the target
// aspect while staying inside the source.
func CropWindow(srcW, srcH, targetW, targetH float64) (cropW, cropH float64) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}

	targetAspect := targetW / targetH
	srcAspect := srcW / srcH

	if srcAspect > targetAspect {
		// Source is wider: crop width
		cropH = srcH
		cropW = cropH * targetAspect
	} else {
		// Source is taller: crop height
		cropW = srcW
		cropH = cropW / targetAspect
	}

	cropW = max(1, min(srcW, cropW))
	cropH = max(1, min(srcH, cropH))
	return cropW, cropH
}

// ClampCenter keeps the crop rect fully inside the source.
func ClampCenter(cx, cy, cropW, cropH, srcW, srcH float64) (float64, float64) {
	halfW := cropW / 2
	halfH := cropH / 2

	cx = max(halfW, min(srcW-halfW, cx))
	cy = max(halfH, min(srcH-halfH, cy))
	return cx, cy
}

// limitStep clamps per-sample movement to suppress detection spikes.
func limitStep(prev, cur, maxStep float64) float64 {
	if maxStep <= 0 {
		return cur
	}
	delta := cur - prev
	if delta > maxStep {
		return prev + maxStep
	}
	if delta < -maxStep {
		return prev - maxStep
	}
	return cur
}
