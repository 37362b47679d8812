// Package frame defines the immutable image unit passed between the camera,
// the analysis stages, the reference store and the recorder.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
)

// Frame is a captured image plus its luminance plane. A Frame must not be
// mutated after New returns; both planes are private copies.
type Frame struct {
	img        image.Image
	luma       *image.Gray
	capturedAt time.Time
}

// New copies img into a Frame captured now.
func New(img image.Image) *Frame {
	return NewAt(img, time.Now())
}

// NewAt copies img into a Frame with an explicit capture time.
func NewAt(img image.Image, at time.Time) *Frame {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	var own image.Image
	switch src := img.(type) {
	case *image.Gray:
		g := image.NewGray(rect)
		draw.Draw(g, rect, src, b.Min, draw.Src)
		own = g
	default:
		rgba := image.NewRGBA(rect)
		draw.Draw(rgba, rect, src, b.Min, draw.Src)
		own = rgba
	}
	return &Frame{img: own, luma: toLuma(own), capturedAt: at}
}

// NewGray builds a single-channel frame with every pixel set to v.
func NewGray(width, height int, v uint8) *Frame {
	g := image.NewGray(image.Rect(0, 0, width, height))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return &Frame{img: g, luma: g, capturedAt: time.Now()}
}

// toLuma converts with the BT.601 weights used by color.GrayModel.
func toLuma(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.SetGray(x, y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return g
}

// Image returns the color (or gray) image. Callers must treat it as read-only.
func (f *Frame) Image() image.Image { return f.img }

// Luma returns the luminance plane. Callers must treat it as read-only.
func (f *Frame) Luma() *image.Gray { return f.luma }

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.luma.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.luma.Rect.Dy() }

// CapturedAt returns when the frame was captured.
func (f *Frame) CapturedAt() time.Time { return f.capturedAt }

// String implements fmt.Stringer.
func (f *Frame) String() string {
	if f == nil {
		return "frame(nil)"
	}
	return fmt.Sprintf("frame(%dx%d)", f.Width(), f.Height())
}

// SameSize returns a SizeMismatch AppError unless a and b share W×H.
// A nil frame is reported as FrameUnavailable.
func SameSize(a, b *Frame) error {
	if a == nil || b == nil {
		return apperrors.New(apperrors.CodeFrameUnavailable, "comparison against missing frame")
	}
	if a.Width() != b.Width() || a.Height() != b.Height() {
		return apperrors.Newf(apperrors.CodeSizeMismatch, "frame size mismatch").
			WithMetadata("a", fmt.Sprintf("%dx%d", a.Width(), a.Height())).
			WithMetadata("b", fmt.Sprintf("%dx%d", b.Width(), b.Height()))
	}
	return nil
}
