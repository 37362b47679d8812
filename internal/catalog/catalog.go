// Package catalog records runs and committed snapshots in SQLite.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
)

// schema.sql creates the runs and snapshots tables.
//
//go:embed schema.sql
var schemaSQL string

// Entry is one committed snapshot.
type Entry struct {
	RunID      string    `json:"run_id"`
	SnapshotID uint64    `json:"snapshot_id"`
	Path       string    `json:"path"`
	Metric     float64   `json:"metric"`
	PHash      string    `json:"phash,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

type Catalog struct {
	*sql.DB
}

// Open opens or creates the catalog at path, creating its directory.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeCatalogFailed, "create catalog dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCatalogFailed, "open catalog")
	}
	// one writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeCatalogFailed, "apply catalog schema")
	}

	slog.Info("catalog opened", "path", path)
	return &Catalog{db}, nil
}

// StartRun records the start of a capture run.
func (c *Catalog) StartRun(ctx context.Context, runID, camera string) error {
	_, err := c.ExecContext(ctx,
		`INSERT INTO runs (run_id, camera, started_at) VALUES (?, ?, ?)`,
		runID, camera, time.Now().UnixNano())
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeCatalogFailed, "start run").WithMetadata("run_id", runID)
	}
	return nil
}

// EndRun stamps the run's end time.
func (c *Catalog) EndRun(ctx context.Context, runID string) error {
	res, err := c.ExecContext(ctx,
		`UPDATE runs SET ended_at = ? WHERE run_id = ?`,
		time.Now().UnixNano(), runID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeCatalogFailed, "end run").WithMetadata("run_id", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.CodeCatalogFailed, "unknown run").WithMetadata("run_id", runID)
	}
	return nil
}

// Insert appends a snapshot entry.
func (c *Catalog) Insert(ctx context.Context, e Entry) error {
	_, err := c.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, snapshot_id, path, metric, phash, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.RunID, int64(e.SnapshotID), e.Path, e.Metric, e.PHash, e.CapturedAt.UnixNano())
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeCatalogFailed, "insert snapshot").WithMetadata("path", e.Path)
	}
	return nil
}

// Recent returns up to limit snapshots, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.QueryContext(ctx, `
		SELECT run_id, snapshot_id, path, metric, phash, captured_at
		FROM snapshots
		ORDER BY captured_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCatalogFailed, "query recent snapshots")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			id int64
			ts int64
		)
		if err := rows.Scan(&e.RunID, &id, &e.Path, &e.Metric, &e.PHash, &ts); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeCatalogFailed, "scan snapshot")
		}
		e.SnapshotID = uint64(id)
		e.CapturedAt = time.Unix(0, ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCatalogFailed, "iterate snapshots")
	}
	return entries, nil
}

// Count returns the number of snapshots recorded for runID, or for all runs
// when runID is empty.
func (c *Catalog) Count(ctx context.Context, runID string) (int, error) {
	var (
		n   int
		err error
	)
	if runID == "" {
		err = c.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	} else {
		err = c.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE run_id = ?`, runID).Scan(&n)
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeCatalogFailed, "count snapshots")
	}
	return n, nil
}
