// Package analysis scores board frames: how much the content changed and
// whether something is standing in front of the board.
package analysis

// Analysis constants
const (
	// Per-pixel luminance deltas at or below this are sensor dither
	NoiseFloor = 3

	// Gaussian sigma applied before occupancy differencing (OpenCV's sigma for a 7x7 kernel)
	BlurSigma = 1.4

	// Midpoint used to binarize the blurred difference image
	SilhouetteThreshold = 127

	// Bounding-box area (pixels) a region must exceed to count as an obstruction.
	// Calibration parameter: small marker strokes stay below it.
	DefaultMinObstructionArea = 6
)
