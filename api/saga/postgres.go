package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = "id, saga_id, timestamp, source, target, category, action, message, metadata"

// PostgresStore persists events in the saga_events table created by
// store.DB.Migrate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, evt *Event) error {
	meta := []byte("{}")
	if len(evt.Metadata) > 0 {
		b, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = b
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO saga_events ("+eventColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		evt.ID, evt.SagaID, evt.Timestamp, evt.Source, evt.Target, evt.Category, evt.Action, evt.Message, meta,
	)
	return err
}

func (s *PostgresStore) ListBySaga(ctx context.Context, sagaID string) ([]Event, error) {
	return s.query(ctx, "WHERE saga_id = $1 ORDER BY timestamp ASC", sagaID)
}

func (s *PostgresStore) ListByTarget(ctx context.Context, target string, limit int) ([]Event, error) {
	return s.query(ctx, "WHERE target = $1 ORDER BY timestamp DESC LIMIT $2", target, pageSize(limit))
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	return s.query(ctx, "ORDER BY timestamp DESC LIMIT $1", pageSize(limit))
}

func (s *PostgresStore) query(ctx context.Context, clause string, args ...any) ([]Event, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+eventColumns+" FROM saga_events "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query saga events: %w", err)
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (Event, error) {
	var (
		evt  Event
		meta []byte
	)
	err := row.Scan(&evt.ID, &evt.SagaID, &evt.Timestamp, &evt.Source, &evt.Target,
		&evt.Category, &evt.Action, &evt.Message, &meta)
	if err != nil {
		return evt, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &evt.Metadata); err != nil {
			return evt, fmt.Errorf("decode metadata for %s: %w", evt.ID, err)
		}
	}
	return evt, nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
