package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardwatch/boardwatch/internal/analysis"
	"github.com/boardwatch/boardwatch/internal/catalog"
	"github.com/boardwatch/boardwatch/internal/config"
	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
	"github.com/boardwatch/boardwatch/internal/orchestrator/capture"
	"github.com/boardwatch/boardwatch/internal/orchestrator/events"
	"github.com/boardwatch/boardwatch/internal/recorder"
	"github.com/boardwatch/boardwatch/internal/reference"
	"github.com/boardwatch/boardwatch/internal/resilience"
	"github.com/boardwatch/boardwatch/internal/syncx"
	"github.com/boardwatch/boardwatch/internal/trace"
)

// Catalog is the run and snapshot history the manager maintains.
type Catalog interface {
	recorder.Catalog
	StartRun(ctx context.Context, runID, camera string) error
	EndRun(ctx context.Context, runID string) error
	Recent(ctx context.Context, limit int) ([]catalog.Entry, error)
}

// Manager coordinates one capture run
type Manager struct {
	cfg      *config.Config
	src      capture.Source
	catalog  Catalog
	runID    string
	recorder *recorder.Recorder
	events   *events.Log
	retry    resilience.RetryConfig
	step     time.Duration

	mu        sync.RWMutex
	starting  bool
	store     *reference.Store
	ctrl      *capture.Controller
	cancel    context.CancelFunc
	startedAt time.Time
	runTime   time.Duration

	done *syncx.Latch
}

// Option configures a Manager.
type Option func(*Manager)

// WithCatalog records the run and its snapshots in c.
func WithCatalog(c Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithRetry sets the retry policy for the startup reference capture.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(m *Manager) { m.retry = rc }
}

// WithStep overrides the scheduler countdown step.
func WithStep(d time.Duration) Option {
	return func(m *Manager) { m.step = d }
}

// New creates a manager reading frames from src.
func New(src capture.Source, cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		src:    src,
		runID:  uuid.NewString(),
		events: events.NewLog(EventLogSize),
		retry:  resilience.DefaultRetryConfig(),
		done:   syncx.NewLatch(),
	}
	for _, opt := range opts {
		opt(m)
	}

	var recOpts []recorder.Option
	if m.catalog != nil {
		recOpts = append(recOpts, recorder.WithCatalog(m.catalog, m.runID))
	}
	m.recorder = recorder.New(cfg.OutputDir, cfg.CameraName, cfg.SnapshotFormat, recOpts...)
	return m
}

// Start captures the startup reference, records it as the first snapshot
// and launches the capture controller. It returns once the controller is
// running; the run ends when ctx is cancelled or Quit is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.starting {
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeInvalidArgument, "capture run already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.starting = true
	m.cancel = cancel
	m.mu.Unlock()

	ctx, span := trace.StartSpan(ctx, "board_run")
	span.SetAttr("run_id", m.runID)
	log := trace.Logger(ctx)
	fail := func(err error) error {
		cancel()
		m.endRun()
		m.done.Release()
		return err
	}

	if m.catalog != nil {
		if err := m.catalog.StartRun(ctx, m.runID, m.cfg.CameraName); err != nil {
			log.Error("catalog run not started", "error", err)
		}
	}

	ref, err := m.captureReference(ctx)
	if err != nil {
		return fail(err)
	}

	snap, err := m.recorder.Record(ctx, ref, 0)
	if err != nil {
		return fail(err)
	}

	store, err := reference.NewStore(ref)
	if err != nil {
		return fail(err)
	}
	id := snap.ID
	m.events.Add(events.Event{
		Time:       snap.CapturedAt,
		Outcome:    events.Commit,
		Reason:     "reference",
		SnapshotID: &id,
		Path:       snap.Path,
		PHash:      snap.PHash,
		TraceID:    span.Ctx.TraceID,
	})

	ctrl := capture.NewController(m.src, store, analysis.NewDetector(m.cfg.MinObstructionArea), m.recorder, m.events, capture.Config{
		Interval:        m.cfg.Interval(),
		Step:            m.step,
		ChangeThreshold: m.cfg.ChangeThreshold,
	})

	m.mu.Lock()
	m.store = store
	m.ctrl = ctrl
	m.startedAt = time.Now()
	m.mu.Unlock()

	log.Info("capture run started",
		"run_id", m.runID,
		"camera", m.cfg.CameraName,
		"reference", ref,
		"interval", m.cfg.Interval(),
		"threshold", m.cfg.ChangeThreshold)

	go func() {
		defer m.done.Release()
		defer m.endRun()
		if err := ctrl.Run(ctx); err != nil {
			log.Error("capture controller failed", "error", err)
		}
		span.End()
		m.setRunDuration(span.Duration())
		log.Info("capture run finished", "span", span, "stats", ctrl.Stats())
	}()
	return nil
}

// captureReference averages ReferenceFrames reads, retrying transient failures.
func (m *Manager) captureReference(ctx context.Context) (*frame.Frame, error) {
	var ref *frame.Frame
	err := resilience.Retry(ctx, m.retry, func() error {
		f, err := reference.Capture(ctx, m.src, m.cfg.ReferenceFrames)
		if err != nil {
			trace.Logger(ctx).Warn("reference capture failed", "error", err)
			return err
		}
		ref = f
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeCancelled, "reference capture cancelled")
		}
		return nil, err
	}
	return ref, nil
}

func (m *Manager) setRunDuration(d time.Duration) {
	m.mu.Lock()
	m.runTime = d
	m.mu.Unlock()
}

func (m *Manager) endRun() {
	if m.catalog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), CatalogCloseTimeout)
	defer cancel()
	if err := m.catalog.EndRun(ctx, m.runID); err != nil {
		trace.Logger(ctx).Warn("catalog run not closed", "run_id", m.runID, "error", err)
	}
}

// Quit requests shutdown. The controller exits at its next window check;
// a cycle already in progress completes.
func (m *Manager) Quit() {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed after the run has ended and the catalog run is closed.
func (m *Manager) Done() <-chan struct{} { return m.done.Done() }

// Stop quits and waits for the run to end or ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.Quit()
	select {
	case <-m.Done():
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "capture run did not stop in time")
	}
}

// RunID identifies this run in the catalog.
func (m *Manager) RunID() string { return m.runID }

// Reference returns the current reference frame, or nil before Start.
func (m *Manager) Reference() *frame.Frame {
	m.mu.RLock()
	store := m.store
	m.mu.RUnlock()
	if store == nil {
		return nil
	}
	return store.Current()
}

// RecentEvents returns up to n recent cycle events, oldest first.
func (m *Manager) RecentEvents(n int) []events.Event {
	return m.events.Recent(n)
}

// Subscribe streams future cycle events until cancel is called.
func (m *Manager) Subscribe() (<-chan events.Event, func()) {
	return m.events.Subscribe(EventSubscriberBuffer)
}

// RecentSnapshots returns recent catalog entries, newest first.
func (m *Manager) RecentSnapshots(ctx context.Context, limit int) ([]catalog.Entry, error) {
	if m.catalog == nil {
		return nil, apperrors.New(apperrors.CodeUnavailable, "catalog disabled")
	}
	if limit <= 0 {
		limit = RecentSnapshotsLimit
	}
	return m.catalog.Recent(ctx, limit)
}
