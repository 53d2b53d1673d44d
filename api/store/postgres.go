package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"skald/api/model"
)

type DB struct {
	pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Pool exposes the connection pool to the saga event store.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS invocations (
			id          TEXT PRIMARY KEY,
			saga_id     TEXT NOT NULL,
			kind        TEXT NOT NULL,
			service     TEXT NOT NULL,
			stage       TEXT NOT NULL,
			region      TEXT NOT NULL DEFAULT '',
			timestamp   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'running',
			steps       JSONB NOT NULL DEFAULT '[]',
			error       TEXT NOT NULL DEFAULT '',
			started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_invocations_target ON invocations(service, stage);
		CREATE INDEX IF NOT EXISTS idx_invocations_status ON invocations(status);

		CREATE TABLE IF NOT EXISTS saga_events (
			id        TEXT PRIMARY KEY,
			saga_id   TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			source    TEXT NOT NULL,
			target    TEXT NOT NULL,
			category  TEXT NOT NULL,
			action    TEXT NOT NULL,
			message   TEXT NOT NULL,
			metadata  JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_saga_events_saga ON saga_events(saga_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_saga_events_target ON saga_events(target, timestamp DESC);
	`)
	return err
}

func (db *DB) InsertInvocation(ctx context.Context, inv *model.Invocation) error {
	steps, _ := json.Marshal(inv.Steps)
	if inv.Steps == nil {
		steps = []byte("[]")
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO invocations (id, saga_id, kind, service, stage, region, timestamp, status, steps, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.SagaID, inv.Kind, inv.Service, inv.Stage, inv.Region, inv.Timestamp, inv.Status, steps, inv.StartedAt,
	)
	return err
}

func (db *DB) FinishInvocation(ctx context.Context, inv *model.Invocation) error {
	steps, _ := json.Marshal(inv.Steps)
	if inv.Steps == nil {
		steps = []byte("[]")
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE invocations SET status = $1, timestamp = $2, steps = $3, error = $4, finished_at = $5 WHERE id = $6`,
		inv.Status, inv.Timestamp, steps, inv.Error, inv.FinishedAt, inv.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invocation %s: %w", inv.ID, model.ErrNotFound)
	}
	return nil
}

func (db *DB) ListInvocations(ctx context.Context, f InvocationFilter) ([]model.Invocation, error) {
	where := ""
	args := []any{}
	argN := 1
	for _, c := range []struct{ col, val string }{
		{"service", f.Service}, {"stage", f.Stage}, {"kind", f.Kind},
	} {
		if c.val == "" {
			continue
		}
		where += fmt.Sprintf(" AND %s = $%d", c.col, argN)
		args = append(args, c.val)
		argN++
	}
	args = append(args, f.limit())

	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, saga_id, kind, service, stage, region, timestamp, status, steps, error, started_at, finished_at
		 FROM invocations WHERE 1=1%s ORDER BY started_at DESC LIMIT $%d`, where, argN), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Invocation
	for rows.Next() {
		var inv model.Invocation
		var steps []byte
		if err := rows.Scan(&inv.ID, &inv.SagaID, &inv.Kind, &inv.Service, &inv.Stage, &inv.Region, &inv.Timestamp,
			&inv.Status, &steps, &inv.Error, &inv.StartedAt, &inv.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &inv.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of %s: %w", inv.ID, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// RecoverInFlight marks invocations interrupted by a restart as failed.
func (db *DB) RecoverInFlight(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE invocations
		 SET status = 'failed', error = 'skald restarted during invocation', finished_at = now()
		 WHERE status = 'running'`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
