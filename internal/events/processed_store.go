package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore deduplicates provider webhook deliveries by event id.
// Providers redeliver on slow or failed acknowledgements, so handlers check
// Seen before acting and Record after committing their side effects.
type ProcessedStore struct {
	db rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{db: exec}
}

// Seen reports whether the provider event id was already recorded.
func (s *ProcessedStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)`
	var seen bool
	if err := s.db.QueryRow(ctx, q, provider, eventID).Scan(&seen); err != nil {
		return false, fmt.Errorf("events: processed lookup: %w", err)
	}
	return seen, nil
}

// Record stores the event id. It returns false when the id was already
// present, meaning a concurrent delivery recorded it first.
func (s *ProcessedStore) Record(ctx context.Context, provider, eventID string) (bool, error) {
	const q = `INSERT INTO processed_events (provider, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	ct, err := s.db.Exec(ctx, q, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: record processed: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
