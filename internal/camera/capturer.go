// Package camera is the frame source: it wraps a capture device, serializes
// reads and turns raw images into frames.
package camera

import (
	"context"
	"image"
	"sync"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
	"github.com/boardwatch/boardwatch/internal/resilience"
)

// Device is a raw capture backend. Implementations need not be safe for
// concurrent use; Capturer serializes access.
type Device interface {
	// Read returns the next image, or ErrFrameUnavailable if the device produced no data.
	Read() (image.Image, error)
	Close() error
}

// Capturer reads frames from a Device behind a circuit breaker.
type Capturer struct {
	dev     Device
	breaker *resilience.Breaker

	mu     sync.Mutex
	closed bool
}

// NewCapturer wraps dev. A nil breaker gets resilience.CameraConfig.
func NewCapturer(dev Device, breaker *resilience.Breaker) *Capturer {
	if breaker == nil {
		breaker = resilience.New(resilience.CameraConfig())
	}
	return &Capturer{dev: dev, breaker: breaker}
}

// Breaker exposes the read breaker so callers can observe device health.
func (c *Capturer) Breaker() *resilience.Breaker { return c.breaker }

// Read captures one frame. It never returns a nil frame with a nil error.
func (c *Capturer) Read(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCancelled, "read cancelled")
	}
	return resilience.ExecuteWithResult(c.breaker, c.read)
}

// Preview returns a display-only reader over the same device. Its reads share
// the device lock but bypass the breaker, so dropped preview frames never
// affect board reads or reported health.
func (c *Capturer) Preview() *PreviewReader { return &PreviewReader{c: c} }

// PreviewReader reads frames for display.
type PreviewReader struct{ c *Capturer }

func (p *PreviewReader) Read(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCancelled, "read cancelled")
	}
	return p.c.read()
}

func (c *Capturer) read() (*frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, apperrors.ErrDeviceClosed
	}

	img, err := c.dev.Read()
	if err != nil {
		if _, ok := err.(*apperrors.AppError); ok {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeFrameUnavailable, "device read failed")
	}
	if img == nil || img.Bounds().Empty() {
		return nil, apperrors.ErrFrameUnavailable
	}
	return frame.New(img), nil
}

// Close releases the device. Further reads fail with ErrDeviceClosed.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.dev.Close()
}
