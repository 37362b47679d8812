package camera

import (
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
)

// ReplayDevice serves image files from a directory in name order, wrapping
// around at the end.
type ReplayDevice struct {
	paths []string
	next  int
}

// OpenReplay lists the PNG and JPEG files in dir.
func OpenReplay(dir string) (*ReplayDevice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeDeviceOpen, "open replay dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, apperrors.Newf(apperrors.CodeDeviceOpen, "no images in replay dir %s", dir)
	}
	sort.Strings(paths)
	return &ReplayDevice{paths: paths}, nil
}

// Read decodes the next file.
func (d *ReplayDevice) Read() (image.Image, error) {
	path := d.paths[d.next]
	d.next = (d.next + 1) % len(d.paths)

	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeFrameUnavailable, "open %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeFrameUnavailable, "decode %s", path)
	}
	return img, nil
}

// Len returns the number of files in the rotation.
func (d *ReplayDevice) Len() int { return len(d.paths) }

// Close implements Device.
func (d *ReplayDevice) Close() error { return nil }
