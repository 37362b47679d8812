package analysis

import (
	"image"

	"github.com/disintegration/gift"

	"github.com/boardwatch/boardwatch/internal/frame"
)

// Region is one connected silhouette in the binarized difference mask.
type Region struct {
	Bounds image.Rectangle
	Pixels int
}

// Area returns the bounding-box area of the region.
func (r Region) Area() int {
	return r.Bounds.Dx() * r.Bounds.Dy()
}

// Occupancy is the outcome of one occupancy check. Regions holds the
// silhouettes large enough to mark the frame occupied.
type Occupancy struct {
	Occupied bool
	Regions  []Region
}

// Detector classifies frames as occluded relative to a reference.
type Detector struct {
	blur    *gift.GIFT
	minArea int
}

// NewDetector creates a detector. minArea <= 0 selects DefaultMinObstructionArea.
func NewDetector(minArea int) *Detector {
	if minArea <= 0 {
		minArea = DefaultMinObstructionArea
	}
	return &Detector{
		blur:    gift.New(gift.GaussianBlur(BlurSigma)),
		minArea: minArea,
	}
}

// MinArea returns the obstruction area threshold in pixels.
func (d *Detector) MinArea() int { return d.minArea }

// IsOccupied blurs both luminance planes, differences and binarizes them,
// then reports occupied if any connected region's bounding box is larger
// than the configured minimum area.
func (d *Detector) IsOccupied(reference, current *frame.Frame) (Occupancy, error) {
	if err := frame.SameSize(reference, current); err != nil {
		return Occupancy{}, err
	}

	ref := d.smooth(reference.Luma())
	cur := d.smooth(current.Luma())
	mask := silhouette(ref, cur, SilhouetteThreshold)

	var res Occupancy
	for _, r := range findRegions(mask) {
		if r.Area() > d.minArea {
			res.Regions = append(res.Regions, r)
		}
	}
	res.Occupied = len(res.Regions) > 0
	return res, nil
}

func (d *Detector) smooth(src *image.Gray) *image.Gray {
	dst := image.NewGray(d.blur.Bounds(src.Bounds()))
	d.blur.Draw(dst, src)
	return dst
}

// silhouette returns a 0/255 mask of |a-b| > threshold.
func silhouette(a, b *image.Gray, threshold uint8) *image.Gray {
	mask := image.NewGray(a.Rect)
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		if d > int(threshold) {
			mask.Pix[i] = 255
		}
	}
	return mask
}
