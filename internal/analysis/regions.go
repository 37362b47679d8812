package analysis

import "image"

var neighbours8 = [8]image.Point{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// findRegions labels 8-connected foreground (non-zero) pixels of mask.
func findRegions(mask *image.Gray) []Region {
	b := mask.Rect
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	seen := make([]bool, w*h)
	var regions []Region
	var stack []image.Point

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if seen[i] || mask.Pix[y*mask.Stride+x] == 0 {
				continue
			}

			seen[i] = true
			stack = append(stack[:0], image.Pt(x, y))
			r := Region{Bounds: image.Rect(x, y, x+1, y+1)}

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				r.Pixels++
				r.Bounds = r.Bounds.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))

				for _, n := range neighbours8 {
					q := p.Add(n)
					if q.X < 0 || q.Y < 0 || q.X >= w || q.Y >= h {
						continue
					}
					j := q.Y*w + q.X
					if seen[j] || mask.Pix[q.Y*mask.Stride+q.X] == 0 {
						continue
					}
					seen[j] = true
					stack = append(stack, q)
				}
			}
			regions = append(regions, r.offset(b.Min))
		}
	}
	return regions
}

func (r Region) offset(p image.Point) Region {
	r.Bounds = r.Bounds.Add(p)
	return r
}
