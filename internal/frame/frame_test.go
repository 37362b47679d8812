package frame

import (
	"errors"
	"image"
	"image/color"
	"testing"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
)

func TestNewCopiesSource(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	src.Set(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	f := New(src)
	src.Set(1, 1, color.RGBA{A: 255})

	if got := f.Luma().GrayAt(1, 1).Y; got != 255 {
		t.Errorf("luma at (1,1) = %d, want 255 (frame must not alias source)", got)
	}
	if f.Width() != 4 || f.Height() != 3 {
		t.Errorf("size = %dx%d, want 4x3", f.Width(), f.Height())
	}
}

func TestNewNormalisesOrigin(t *testing.T) {
	src := image.NewGray(image.Rect(10, 20, 14, 22))
	src.SetGray(10, 20, color.Gray{Y: 7})

	f := New(src)
	if f.Luma().Rect.Min != (image.Point{}) {
		t.Errorf("origin = %v, want (0,0)", f.Luma().Rect.Min)
	}
	if got := f.Luma().GrayAt(0, 0).Y; got != 7 {
		t.Errorf("luma at origin = %d, want 7", got)
	}
}

func TestLumaWeights(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.Set(0, 0, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	f := New(src)
	want := color.GrayModel.Convert(color.RGBA{R: 200, G: 100, B: 50, A: 255}).(color.Gray).Y
	if got := f.Luma().GrayAt(0, 0).Y; got != want {
		t.Errorf("luma = %d, want %d", got, want)
	}
}

func TestNewGray(t *testing.T) {
	f := NewGray(8, 6, 100)
	for _, p := range f.Luma().Pix {
		if p != 100 {
			t.Fatalf("pixel = %d, want 100", p)
		}
	}
}

func TestSameSize(t *testing.T) {
	a := NewGray(640, 480, 0)
	b := NewGray(640, 480, 255)
	c := NewGray(320, 240, 0)

	if err := SameSize(a, b); err != nil {
		t.Errorf("SameSize(equal) = %v", err)
	}
	if err := SameSize(a, c); !errors.Is(err, apperrors.ErrSizeMismatch) {
		t.Errorf("SameSize(mismatch) = %v, want size mismatch", err)
	}
	if err := SameSize(a, nil); !errors.Is(err, apperrors.ErrFrameUnavailable) {
		t.Errorf("SameSize(nil) = %v, want frame unavailable", err)
	}
}
