// Package scheduler paces board checks. A Window counts down the poll
// interval in fixed steps, concurrently with the cycle that started it.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/boardwatch/boardwatch/internal/syncx"
)

// DefaultStep is the countdown granularity; cancellation is observed at step boundaries.
const DefaultStep = time.Second

// State of a single window.
type State uint32

const (
	Idle State = iota
	Running
	Elapsed
)

func (s State) String() string {
	return [...]string{"idle", "running", "elapsed"}[s]
}

// Window is a one-shot interval timer. Elapsed is terminal; a new Window is
// created for each cycle.
type Window struct {
	steps     int
	step      time.Duration
	state     atomic.Uint32
	cancelled atomic.Bool
	done      *syncx.Latch
}

// NewWindow creates an idle window of steps × step. step <= 0 selects DefaultStep.
func NewWindow(steps int, step time.Duration) *Window {
	if step <= 0 {
		step = DefaultStep
	}
	if steps < 0 {
		steps = 0
	}
	return &Window{steps: steps, step: step, done: syncx.NewLatch()}
}

// Start moves Idle -> Running and counts down in the background. Calling
// Start on a window that is not Idle has no effect.
func (w *Window) Start(ctx context.Context) {
	if !w.state.CompareAndSwap(uint32(Idle), uint32(Running)) {
		return
	}
	slog.Debug("scheduler window started", "steps", w.steps, "step", w.step)
	go w.run(ctx)
}

func (w *Window) run(ctx context.Context) {
	defer w.finish()

	t := time.NewTimer(w.step)
	defer t.Stop()
	for i := 0; i < w.steps; i++ {
		if i > 0 {
			t.Reset(w.step)
		}
		<-t.C
		if ctx.Err() != nil {
			w.cancelled.Store(true)
			return
		}
	}
}

func (w *Window) finish() {
	w.state.Store(uint32(Elapsed))
	w.done.Release()
	slog.Debug("scheduler window elapsed", "cancelled", w.cancelled.Load())
}

// Done is closed when the window elapses or is cut short by cancellation.
func (w *Window) Done() <-chan struct{} { return w.done.Done() }

// State returns the current window state.
func (w *Window) State() State { return State(w.state.Load()) }

// Cancelled reports whether the window ended early because its context was cancelled.
func (w *Window) Cancelled() bool { return w.cancelled.Load() }

// Begin creates and starts a window for interval, rounded up to whole steps.
func Begin(ctx context.Context, interval, step time.Duration) *Window {
	if step <= 0 {
		step = DefaultStep
	}
	steps := int((interval + step - 1) / step)
	w := NewWindow(steps, step)
	w.Start(ctx)
	return w
}
