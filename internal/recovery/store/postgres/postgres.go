// Package postgres implements store.Store backed by PostgreSQL, grounded
// on nevindra-oasis's store/postgres.Store. Open creates its own
// *pgxpool.Pool and New wraps one the caller supplies; Store.Close closes
// the pool in both cases.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
	"github.com/fluxrun/fluxrun/internal/recovery/store"
)

// Store persists the progress and state logs into PostgreSQL tables.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and ensures the recovery tables exist.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres recovery store: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already-open pool, mirroring the teacher's
// constructor-injection style. The Store's Close closes that pool.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fluxrun_progress (
			id BIGSERIAL PRIMARY KEY,
			generation BIGINT NOT NULL,
			worker INTEGER NOT NULL,
			kind SMALLINT NOT NULL,
			worker_count INTEGER,
			resume_epoch BIGINT,
			frontier BIGINT,
			deleted BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS fluxrun_state (
			step TEXT NOT NULL,
			logical_key TEXT NOT NULL,
			payload BYTEA,
			deleted BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (step, logical_key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres recovery store: init: %w", err)
		}
	}
	return nil
}

func (s *Store) WriteProgress(ctx context.Context, e model.ProgressEntry) error {
	msg := e.Change.Value
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fluxrun_progress (generation, worker, kind, worker_count, resume_epoch, frontier, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Worker.Generation, e.Worker.Worker, msg.Kind, msg.WorkerCount, msg.ResumeEpoch, msg.Frontier,
		e.Change.Kind == model.Delete)
	return err
}

func (s *Store) ReadProgress(ctx context.Context) ([]model.ProgressEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT generation, worker, kind, worker_count, resume_epoch, frontier, deleted
		 FROM fluxrun_progress ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ProgressEntry
	for rows.Next() {
		var (
			gen, worker                     int64
			kind                            int
			workerCount, resumeEp, frontier int64
			deleted                         bool
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
		if deleted {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fluxrun_state (step, logical_key, payload, deleted) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (step, logical_key) DO UPDATE SET payload = excluded.payload, deleted = excluded.deleted`,
		e.Key.Step, e.Key.Key, e.Change.Value, e.Change.Kind == model.Delete)
	return err
}

func (s *Store) ReadState(ctx context.Context) ([]model.StateEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT step, logical_key, payload FROM fluxrun_state WHERE NOT deleted`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StateEntry
	for rows.Next() {
		var step, key string
		var payload []byte
		if err := rows.Scan(&step, &key, &payload); err != nil {
			return nil, err
		}
		out = append(out, model.StateEntry{
			Key:    model.StateKey{Step: id.StepID(step), Key: key},
			Change: model.UpsertChange(payload),
		})
	}
	return out, rows.Err()
}

func (s *Store) GarbageCollect(ctx context.Context, summary store.Summary) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM fluxrun_progress WHERE kind = $1 AND frontier < $2`,
		model.Frontier, summary.MinFrontier)
	return err
}

func (s *Store) Close() error { s.pool.Close(); return nil }
