package analysis

import (
	"github.com/boardwatch/boardwatch/internal/frame"
)

// EstimateChange returns the fraction of total possible luminance difference
// between current and reference, in [0,1]. Deltas at or below NoiseFloor are
// discarded. The result is symmetric in its arguments.
func EstimateChange(current, reference *frame.Frame) (float64, error) {
	if err := frame.SameSize(current, reference); err != nil {
		return 0, err
	}

	a, b := current.Luma(), reference.Luma()
	w, h := current.Width(), current.Height()

	var sum uint64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := range ra {
			d := int(ra[x]) - int(rb[x])
			if d < 0 {
				d = -d
			}
			if d > NoiseFloor {
				sum += uint64(d)
			}
		}
	}
	return float64(sum) / 255 / float64(w*h), nil
}
