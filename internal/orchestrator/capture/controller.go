// Package capture runs the board check cycle: wait for the scheduler window,
// read a frame, gate on occupancy and change, then commit or reject.
package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/boardwatch/boardwatch/internal/analysis"
	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
	"github.com/boardwatch/boardwatch/internal/orchestrator/events"
	"github.com/boardwatch/boardwatch/internal/recorder"
	"github.com/boardwatch/boardwatch/internal/reference"
	"github.com/boardwatch/boardwatch/internal/scheduler"
	"github.com/boardwatch/boardwatch/internal/trace"
)

// Source supplies captured frames.
type Source interface {
	Read(ctx context.Context) (*frame.Frame, error)
}

// Recorder persists committed frames.
type Recorder interface {
	Record(ctx context.Context, f *frame.Frame, metric float64) (recorder.Snapshot, error)
}

// State is the controller's position in the cycle.
type State uint32

const (
	AwaitWindow State = iota
	Capture
	OccupancyCheck
	ChangeCheck
	Commit
	Reject
	Idle
)

func (s State) String() string {
	return [...]string{"await_window", "capture", "occupancy_check", "change_check", "commit", "reject", "idle"}[s]
}

// Config holds cycle parameters.
type Config struct {
	Interval        time.Duration // minimum time between cycle starts
	Step            time.Duration // scheduler countdown step
	ChangeThreshold float64       // metric must exceed this to commit
}

// Outcome is the result of one cycle.
type Outcome struct {
	Committed bool
	Reason    string
	Metric    float64
	Regions   int
	Snapshot  *recorder.Snapshot
	Err       error
}

// Stats are cumulative cycle counters.
type Stats struct {
	Cycles  uint64 `json:"cycles"`
	Commits uint64 `json:"commits"`
	Rejects uint64 `json:"rejects"`
}

// Controller is the only writer of the reference store.
type Controller struct {
	src      Source
	store    *reference.Store
	detector *analysis.Detector
	rec      Recorder
	log      *events.Log
	cfg      Config

	state   atomic.Uint32
	window  atomic.Pointer[scheduler.Window]
	cycles  atomic.Uint64
	commits atomic.Uint64
	rejects atomic.Uint64
}

// NewController wires a controller. log may be nil.
func NewController(src Source, store *reference.Store, detector *analysis.Detector, rec Recorder, log *events.Log, cfg Config) *Controller {
	if detector == nil {
		detector = analysis.NewDetector(analysis.DefaultMinObstructionArea)
	}
	if cfg.Step <= 0 {
		cfg.Step = scheduler.DefaultStep
	}
	c := &Controller{src: src, store: store, detector: detector, rec: rec, log: log, cfg: cfg}
	c.state.Store(uint32(AwaitWindow))
	return c
}

// Run loops until ctx is cancelled. The first cycle is admitted immediately;
// each later cycle waits for the window opened by the one before it.
func (c *Controller) Run(ctx context.Context) error {
	defer c.setState(Idle)

	var prev *scheduler.Window
	for {
		c.setState(AwaitWindow)
		if prev != nil {
			select {
			case <-ctx.Done():
			case <-prev.Done():
			}
		}
		if ctx.Err() != nil {
			trace.Logger(ctx).Info("capture controller stopping", "cycles", c.cycles.Load())
			return nil
		}

		prev = scheduler.Begin(ctx, c.cfg.Interval, c.cfg.Step)
		c.window.Store(prev)
		c.RunCycle(ctx)
	}
}

// RunCycle performs one capture and decision. An admitted cycle runs to
// completion: cancelling ctx does not interrupt the read or the commit.
func (c *Controller) RunCycle(ctx context.Context) Outcome {
	cycle := c.cycles.Add(1)
	ctx, span := trace.StartSpan(context.WithoutCancel(ctx), "board_cycle")
	span.SetAttr("cycle", cycle)
	log := trace.Logger(ctx)

	out := c.cycle(ctx)
	span.End()

	if out.Committed {
		c.commits.Add(1)
		span.SetAttr("snapshot_id", out.Snapshot.ID)
		log.Info("board committed", "span", span, "metric", out.Metric, "snapshot", *out.Snapshot)
	} else {
		c.rejects.Add(1)
		span.SetAttr("reason", out.Reason)
		if out.Err != nil {
			log.Warn("board rejected", "span", span, "reason", out.Reason, "error", out.Err)
		} else {
			log.Info("board rejected", "span", span, "reason", out.Reason, "metric", out.Metric)
		}
	}
	c.emit(cycle, span, out)
	return out
}

func (c *Controller) cycle(ctx context.Context) Outcome {
	c.setState(Capture)
	cur, err := c.src.Read(ctx)
	if err != nil || cur == nil {
		if err == nil {
			err = apperrors.ErrFrameUnavailable
		}
		return c.reject(events.ReasonReadFailed, 0, err)
	}

	ref := c.store.Current()

	c.setState(OccupancyCheck)
	occ, err := c.detector.IsOccupied(ref, cur)
	if err != nil {
		return c.reject(analysisReason(err), 0, err)
	}
	if occ.Occupied {
		out := c.reject(events.ReasonOccluded, 0, nil)
		out.Regions = len(occ.Regions)
		return out
	}

	c.setState(ChangeCheck)
	metric, err := analysis.EstimateChange(cur, ref)
	if err != nil {
		return c.reject(analysisReason(err), 0, err)
	}
	if metric <= c.cfg.ChangeThreshold {
		return c.reject(events.ReasonInsufficientChange, metric, nil)
	}

	c.setState(Commit)
	snap, err := c.rec.Record(ctx, cur, metric)
	if err != nil {
		return c.reject(events.ReasonRecordFailed, metric, err)
	}
	if err := c.store.Replace(cur); err != nil {
		return c.reject(events.ReasonAnalysisError, metric, err)
	}
	return Outcome{Committed: true, Metric: metric, Snapshot: &snap}
}

func (c *Controller) reject(reason string, metric float64, err error) Outcome {
	c.setState(Reject)
	return Outcome{Reason: reason, Metric: metric, Err: err}
}

func analysisReason(err error) string {
	if apperrors.IsCode(err, apperrors.CodeSizeMismatch) {
		return events.ReasonSizeMismatch
	}
	return events.ReasonAnalysisError
}

func (c *Controller) emit(cycle uint64, span *trace.Span, out Outcome) {
	if c.log == nil {
		return
	}
	e := events.Event{
		Cycle:    cycle,
		Time:     span.StartTime,
		Outcome:  events.Reject,
		Reason:   out.Reason,
		Metric:   out.Metric,
		Regions:  out.Regions,
		TraceID:  span.Ctx.TraceID,
		Duration: span.Duration(),
	}
	if out.Committed {
		e.Outcome = events.Commit
		id := out.Snapshot.ID
		e.SnapshotID = &id
		e.Path = out.Snapshot.Path
		e.PHash = out.Snapshot.PHash
	}
	c.log.Add(e)
}

func (c *Controller) setState(s State) { c.state.Store(uint32(s)) }

// State returns the controller's current state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Window returns the most recently started scheduler window, or nil.
func (c *Controller) Window() *scheduler.Window { return c.window.Load() }

// Stats returns cycle counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Cycles:  c.cycles.Load(),
		Commits: c.commits.Load(),
		Rejects: c.rejects.Load(),
	}
}
