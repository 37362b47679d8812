// Package opencv implements camera.Device on top of an OpenCV video capture.
package opencv

import (
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
)

// Device is an opened webcam.
type Device struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// Open opens the capture device at index and requests the given resolution.
// A width or height of zero leaves the driver default in place.
func Open(index, width, height int) (*Device, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeDeviceOpen, "open camera %d", index)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, apperrors.Newf(apperrors.CodeDeviceOpen, "camera %d not opened", index)
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	slog.Info("camera opened",
		"index", index,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight))
	return &Device{cap: vc, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame.
func (d *Device) Read() (image.Image, error) {
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, apperrors.ErrFrameUnavailable
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFrameUnavailable, "convert frame")
	}
	return img, nil
}

// Close releases the capture and its buffer.
func (d *Device) Close() error {
	d.mat.Close()
	return d.cap.Close()
}
