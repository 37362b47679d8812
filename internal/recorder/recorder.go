// Package recorder persists committed frames as numbered image files.
package recorder

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/boardwatch/boardwatch/internal/catalog"
	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
	"github.com/boardwatch/boardwatch/internal/trace"
)

const jpegQuality = 95

// Catalog receives an entry for every written snapshot.
type Catalog interface {
	Insert(ctx context.Context, e catalog.Entry) error
}

// Snapshot describes one written file.
type Snapshot struct {
	ID         uint64    `json:"id"`
	Path       string    `json:"path"`
	Metric     float64   `json:"metric"`
	PHash      string    `json:"phash,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Recorder writes <label>_<id>.<ext> files into dir. Ids start at 0 and
// advance only when a file was written.
type Recorder struct {
	dir    string
	label  string
	format string

	catalog Catalog
	runID   string

	mu   sync.Mutex
	next uint64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithCatalog appends every snapshot to c under runID.
func WithCatalog(c Catalog, runID string) Option {
	return func(r *Recorder) {
		r.catalog = c
		r.runID = runID
	}
}

// New creates a recorder. format is "png" or "jpeg".
func New(dir, label, format string, opts ...Option) *Recorder {
	if format != "jpeg" {
		format = "png"
	}
	r := &Recorder{dir: dir, label: safeLabel(label), format: format}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// safeLabel keeps snapshot files inside the output directory.
func safeLabel(label string) string {
	label = filepath.Base(strings.ReplaceAll(label, `\`, "/"))
	switch label {
	case ".", "..", "/", "":
		return "snapshot"
	}
	return label
}

// Next returns the id the next successful Record will use.
func (r *Recorder) Next() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Dir returns the output directory.
func (r *Recorder) Dir() string { return r.dir }

// Record writes f and returns the snapshot. Concurrent calls are serialized
// so ids stay gap-free.
func (r *Recorder) Record(ctx context.Context, f *frame.Frame, metric float64) (Snapshot, error) {
	if f == nil {
		return Snapshot{}, apperrors.ErrFrameUnavailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	path := filepath.Join(r.dir, r.fileName(id))
	if err := r.write(path, f); err != nil {
		return Snapshot{}, err
	}
	r.next++

	snap := Snapshot{ID: id, Path: path, Metric: metric, CapturedAt: f.CapturedAt()}
	log := trace.Logger(ctx)
	if h, err := goimagehash.PerceptionHash(f.Image()); err == nil {
		snap.PHash = h.ToString()
	} else {
		log.Warn("perceptual hash failed", "path", path, "error", err)
	}

	if r.catalog != nil {
		// the file exists; a shutdown mid-cycle must not drop its catalog row
		err := r.catalog.Insert(context.WithoutCancel(ctx), catalog.Entry{
			RunID:      r.runID,
			SnapshotID: snap.ID,
			Path:       snap.Path,
			Metric:     snap.Metric,
			PHash:      snap.PHash,
			CapturedAt: snap.CapturedAt,
		})
		if err != nil {
			log.Error("catalog insert failed", "path", path, "error", err)
		}
	}

	log.Info("snapshot recorded", "id", id, "path", path, "metric", metric)
	return snap, nil
}

func (r *Recorder) fileName(id uint64) string {
	return fmt.Sprintf("%s_%d.%s", r.label, id, r.format)
}

// write encodes into a temp file in dir and renames it into place.
func (r *Recorder) write(path string, f *frame.Frame) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeRecordFailed, "create output dir %s", r.dir)
	}

	tmp, err := os.CreateTemp(r.dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeRecordFailed, "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if err := r.encode(tmp, f); err != nil {
		tmp.Close()
		cleanup()
		return apperrors.Wrap(err, apperrors.CodeRecordFailed, "encode snapshot").WithMetadata("path", path)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apperrors.Wrap(err, apperrors.CodeRecordFailed, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return apperrors.Wrap(err, apperrors.CodeRecordFailed, "rename snapshot").WithMetadata("path", path)
	}
	return nil
}

func (r *Recorder) encode(w io.Writer, f *frame.Frame) error {
	if r.format == "jpeg" {
		return jpeg.Encode(w, f.Image(), &jpeg.Options{Quality: jpegQuality})
	}
	return png.Encode(w, f.Image())
}

// LogValue implements slog.LogValuer.
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", s.ID),
		slog.String("path", s.Path),
		slog.Float64("metric", s.Metric),
	)
}
