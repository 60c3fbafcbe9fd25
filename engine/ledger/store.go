// Package ledger keeps the history of collection runs in SQLite and answers
// whether a video already has a finished archive.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status of a run row.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Run is one row of the runs table.
type Run struct {
	ID            string
	BVID          string
	OID           int64
	CID           int64
	Title         string
	OutputDir     string
	ArchivePath   string
	CommentTotal  int
	CommentTarget int
	CommentStop   string
	DanmakuCount  int
	DanmakuTarget int
	DanmakuStop   string
	Status        Status
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Store is the SQLite-backed ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger at path and ensures its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	s := &Store{db: db, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			bvid TEXT NOT NULL,
			oid INTEGER DEFAULT 0,
			cid INTEGER DEFAULT 0,
			title TEXT DEFAULT '',
			output_dir TEXT DEFAULT '',
			archive_path TEXT DEFAULT '',
			comment_total INTEGER DEFAULT 0,
			comment_target INTEGER DEFAULT 0,
			comment_stop TEXT DEFAULT '',
			danmaku_count INTEGER DEFAULT 0,
			danmaku_target INTEGER DEFAULT 0,
			danmaku_stop TEXT DEFAULT '',
			status TEXT NOT NULL,
			error TEXT DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_bvid ON runs(bvid);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StartRun inserts a running row for bvid and returns its id.
func (s *Store) StartRun(ctx context.Context, bvid string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, bvid, status, started_at) VALUES (?, ?, ?, ?)`,
		id, bvid, string(StatusRunning), s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome of r.ID. Status defaults to done.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	if r.Status == "" {
		r.Status = StatusDone
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			oid = ?, cid = ?, title = ?, output_dir = ?, archive_path = ?,
			comment_total = ?, comment_target = ?, comment_stop = ?,
			danmaku_count = ?, danmaku_target = ?, danmaku_stop = ?,
			status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		r.OID, r.CID, r.Title, r.OutputDir, r.ArchivePath,
		r.CommentTotal, r.CommentTarget, r.CommentStop,
		r.DanmakuCount, r.DanmakuTarget, r.DanmakuStop,
		string(r.Status), r.Error, s.now().UnixMilli(), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: no such run", r.ID)
	}
	return nil
}

// FailRun marks id as failed with cause.
func (s *Store) FailRun(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(StatusFailed), msg, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// Lookup returns the archive path of the latest finished run of bvid, or ""
// when there is none.
func (s *Store) Lookup(ctx context.Context, bvid string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `
		SELECT archive_path FROM runs
		WHERE bvid = ? AND status IN (?, ?) AND archive_path != ''
		ORDER BY started_at DESC LIMIT 1`,
		bvid, string(StatusDone), string(StatusSkipped)).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", bvid, err)
	}
	return path, nil
}

// Forget clears the recorded archive paths of bvid so Lookup no longer finds
// them. The run rows stay in the history.
func (s *Store) Forget(ctx context.Context, bvid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET archive_path = '' WHERE bvid = ? AND archive_path != ''`, bvid)
	if err != nil {
		return fmt.Errorf("forget %s: %w", bvid, err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bvid, oid, cid, title, output_dir, archive_path,
			comment_total, comment_target, comment_stop,
			danmaku_count, danmaku_target, danmaku_stop,
			status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.BVID, &r.OID, &r.CID, &r.Title, &r.OutputDir, &r.ArchivePath,
			&r.CommentTotal, &r.CommentTarget, &r.CommentStop,
			&r.DanmakuCount, &r.DanmakuTarget, &r.DanmakuStop,
			&r.Status, &r.Error, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
