// Package sqlite implements store.Store backed by a local, pure-Go
// SQLite file (no cgo), grounded on nevindra-oasis's store/sqlite.Store:
// same single-connection-pool trick to serialize writers and avoid
// SQLITE_BUSY, same blank-import driver registration.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	grerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/retry"

	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
	"github.com/fluxrun/fluxrun/internal/recovery/store"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store persists the progress and state logs into a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// writeRetry is a zero-delay backoff policy. The Store's write methods
// do not use it and make a single attempt each; recovery.Attach retries
// failed writes with its own policy.
var writeRetry = retry.Backoff(0, 0, 1) // no backoff needed: single conn serializes writes

// Open creates (if needed) and opens the log tables at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite recovery store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress (
			generation INTEGER NOT NULL,
			worker INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			worker_count INTEGER,
			resume_epoch INTEGER,
			frontier INTEGER,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			step TEXT NOT NULL,
			logical_key TEXT NOT NULL,
			payload BLOB,
			deleted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (step, logical_key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite recovery store: init: %w", err)
		}
	}
	return nil
}

func (s *Store) WriteProgress(ctx context.Context, e model.ProgressEntry) error {
	deleted := 0
	if e.Change.Kind == model.Delete {
		deleted = 1
	}
	msg := e.Change.Value
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress (generation, worker, kind, worker_count, resume_epoch, frontier, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Worker.Generation, e.Worker.Worker, msg.Kind, msg.WorkerCount, msg.ResumeEpoch, msg.Frontier, deleted,
	)
	if err != nil {
		return grerrors.E(grerrors.Unavailable, "sqlite recovery store: write progress", err)
	}
	return nil
}

func (s *Store) ReadProgress(ctx context.Context) ([]model.ProgressEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT generation, worker, kind, worker_count, resume_epoch, frontier, deleted FROM progress ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ProgressEntry
	for rows.Next() {
		var (
			gen, worker                    int64
			kind                           int
			workerCount, resumeEp, frontier int64
			deleted                        int
		)
		if err := rows.Scan(&gen, &worker, &kind, &workerCount, &resumeEp, &frontier, &deleted); err != nil {
			return nil, err
		}
		msg := model.ProgressMsg{
			Kind:        model.ProgressMsgKind(kind),
			WorkerCount: id.WorkerCount(workerCount),
			ResumeEpoch: id.Epoch(resumeEp),
			Frontier:    id.Epoch(frontier),
		}
		change := model.UpsertChange(msg)
		if deleted == 1 {
			change = model.DeleteChange[model.ProgressMsg]()
		}
		out = append(out, model.ProgressEntry{
			Worker: id.WorkerKey{Generation: id.Generation(gen), Worker: id.WorkerIndex(worker)},
			Change: change,
		})
	}
	return out, rows.Err()
}

func (s *Store) WriteState(ctx context.Context, e model.StateEntry) error {
	if e.Change.Kind == model.Delete {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO state (step, logical_key, payload, deleted) VALUES (?, ?, NULL, 1)
			 ON CONFLICT(step, logical_key) DO UPDATE SET payload = NULL, deleted = 1`,
			e.Key.Step, e.Key.Key)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (step, logical_key, payload, deleted) VALUES (?, ?, ?, 0)
		 ON CONFLICT(step, logical_key) DO UPDATE SET payload = excluded.payload, deleted = 0`,
		e.Key.Step, e.Key.Key, e.Change.Value)
	return err
}

func (s *Store) ReadState(ctx context.Context) ([]model.StateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step, logical_key, payload, deleted FROM state WHERE deleted = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StateEntry
	for rows.Next() {
		var step, key string
		var payload []byte
		var deleted int
		if err := rows.Scan(&step, &key, &payload, &deleted); err != nil {
			return nil, err
		}
		out = append(out, model.StateEntry{
			Key:    model.StateKey{Step: id.StepID(step), Key: key},
			Change: model.UpsertChange(payload),
		})
	}
	return out, rows.Err()
}

// GarbageCollect deletes progress rows for frontiers strictly below
// summary.MinFrontier; every worker has already durably passed them so
// they can never again be part of a ResumeFrom computation.
func (s *Store) GarbageCollect(ctx context.Context, summary store.Summary) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM progress WHERE kind = ? AND frontier < ?`,
		model.Frontier, summary.MinFrontier)
	return err
}

func (s *Store) Close() error { return s.db.Close() }
