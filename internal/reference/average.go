package reference

import (
	"context"
	"image"
	"image/draw"
	"math"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
)

// Source supplies frames for the startup reference capture.
type Source interface {
	Read(ctx context.Context) (*frame.Frame, error)
}

// Averager folds frames into an equal-weighted running mean. Only the
// running total is held, never the individual frames.
type Averager struct {
	acc  []float64
	rect image.Rectangle
	gray bool
	n    int
}

// Add blends f into the running mean: the total keeps weight n/(n+1) and
// the new frame gets 1/(n+1).
func (a *Averager) Add(f *frame.Frame) error {
	if f == nil {
		return apperrors.ErrFrameUnavailable
	}
	if a.n == 0 {
		_, a.gray = f.Image().(*image.Gray)
		a.rect = image.Rect(0, 0, f.Width(), f.Height())
	} else if f.Width() != a.rect.Dx() || f.Height() != a.rect.Dy() {
		return apperrors.Newf(apperrors.CodeSizeMismatch, "averaging %dx%d into %dx%d",
			f.Width(), f.Height(), a.rect.Dx(), a.rect.Dy())
	}

	pix := a.samples(f)
	if a.acc == nil {
		a.acc = make([]float64, len(pix))
	}

	keep := float64(a.n) / float64(a.n+1)
	add := 1 / float64(a.n+1)
	for i, v := range pix {
		a.acc[i] = a.acc[i]*keep + float64(v)*add
	}
	a.n++
	return nil
}

// Count returns how many frames have been added.
func (a *Averager) Count() int { return a.n }

// Frame returns the mean as a new frame, or nil if nothing was added.
func (a *Averager) Frame() *frame.Frame {
	if a.n == 0 {
		return nil
	}
	if a.gray {
		g := image.NewGray(a.rect)
		round(g.Pix, a.acc)
		return frame.New(g)
	}
	rgba := image.NewRGBA(a.rect)
	round(rgba.Pix, a.acc)
	return frame.New(rgba)
}

func (a *Averager) samples(f *frame.Frame) []uint8 {
	if a.gray {
		return f.Luma().Pix
	}
	if rgba, ok := f.Image().(*image.RGBA); ok {
		return rgba.Pix
	}
	rgba := image.NewRGBA(a.rect)
	draw.Draw(rgba, a.rect, f.Image(), f.Image().Bounds().Min, draw.Src)
	return rgba.Pix
}

func round(dst []uint8, acc []float64) {
	for i, v := range acc {
		dst[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
}

// Average returns the equal-weighted mean of frames.
func Average(frames ...*frame.Frame) (*frame.Frame, error) {
	var a Averager
	for _, f := range frames {
		if err := a.Add(f); err != nil {
			return nil, err
		}
	}
	if a.Count() == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "no frames to average")
	}
	return a.Frame(), nil
}

// Capture reads count consecutive frames from src and averages them.
func Capture(ctx context.Context, src Source, count int) (*frame.Frame, error) {
	if count < 1 {
		return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "reference frame count %d < 1", count)
	}
	var a Averager
	for i := 0; i < count; i++ {
		f, err := src.Read(ctx)
		if err != nil {
			return nil, err
		}
		if err := a.Add(f); err != nil {
			return nil, err
		}
	}
	return a.Frame(), nil
}
