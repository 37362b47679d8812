// Package preview shows the live camera feed in an OpenCV window. Pressing
// q in the window requests shutdown.
package preview

import (
	"context"
	"log/slog"
	"runtime"

	"gocv.io/x/gocv"

	"github.com/boardwatch/boardwatch/internal/frame"
)

const (
	WindowName = "Current Frame"
	QuitKey    = 'q'

	// WaitKey delay in milliseconds; also paces the preview reads
	frameDelayMs = 30
)

// Source supplies frames to display.
type Source interface {
	Read(ctx context.Context) (*frame.Frame, error)
}

// Run displays frames until ctx is done or the quit key is pressed, in which
// case quit is called. It must run on the main goroutine on platforms where
// the window system requires it.
func Run(ctx context.Context, src Source, quit func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	window := gocv.NewWindow(WindowName)
	defer window.Close()

	for ctx.Err() == nil {
		if f, err := src.Read(ctx); err == nil {
			show(window, f)
		} else {
			slog.Debug("preview read failed", "error", err)
		}

		if key := window.WaitKey(frameDelayMs); key&0xFF == QuitKey {
			slog.Info("quit requested from preview window")
			quit()
			return
		}
	}
}

func show(window *gocv.Window, f *frame.Frame) {
	mat, err := gocv.ImageToMatRGB(f.Image())
	if err != nil {
		slog.Debug("preview convert failed", "error", err)
		return
	}
	defer mat.Close()
	window.IMShow(mat)
}
