package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Each event is
// stored whole as JSONB next to the columns indexers filter on.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts events in one batch. Events already stored under the same
// sequence number are skipped so a replayed commit is harmless.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	const query = `
		INSERT INTO events (seq, kind, entity_id, caller, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (seq) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %d: %w", e.Seq, err)
		}
		batch.Queue(query,
			int64(e.Seq), string(e.Kind), int64(e.EntityID),
			e.Caller.Hex(), e.Timestamp, payload,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert event batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns up to limit events with seq >= fromSeq in sequence order.
func (s *EventStore) List(ctx context.Context, fromSeq uint64, limit int) ([]domain.Event, error) {
	query := `SELECT payload FROM events WHERE seq >= $1 ORDER BY seq`
	args := []any{int64(fromSeq)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanJSON[domain.Event])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest stored sequence number, or zero.
func (s *EventStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: last event seq: %w", err)
	}
	if seq == nil {
		return 0, nil
	}
	return uint64(*seq), nil
}

// scanJSON decodes a single JSONB column into T.
func scanJSON[T any](row pgx.CollectableRow) (T, error) {
	var (
		v   T
		raw []byte
	)
	if err := row.Scan(&raw); err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("unmarshal: %w", err)
	}
	return v, nil
}
