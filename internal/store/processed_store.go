package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
	"github.com/Priya8975/webhook-ingest-service/internal/idempotency"
	"github.com/google/uuid"
)

// ProcessedEventStore is the Postgres idempotency backend. The primary key
// on event_identity makes Reserve a single atomic upsert.
type ProcessedEventStore struct {
	pg        *PostgresStore
	retention time.Duration
	now       func() time.Time
}

func NewProcessedEventStore(pg *PostgresStore, retention time.Duration) *ProcessedEventStore {
	if retention <= 0 {
		retention = idempotency.DefaultRetention
	}
	return &ProcessedEventStore{
		pg:        pg,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ProcessedEventStore) Reserve(ctx context.Context, id string, lease time.Duration) (idempotency.Reservation, bool, error) {
	if lease <= 0 {
		lease = idempotency.DefaultLease
	}
	now := s.now()
	res := idempotency.Reservation{
		ID:        id,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(lease),
	}

	tag, err := s.pg.pool.Exec(ctx, `
		INSERT INTO processed_events (event_identity, status, token, lease_expires_at)
		VALUES ($1, 'reserved', $2, $3)
		ON CONFLICT (event_identity) DO UPDATE
		SET status = 'reserved',
		    token = EXCLUDED.token,
		    lease_expires_at = EXCLUDED.lease_expires_at,
		    processed_at = NULL,
		    expires_at = NULL
		WHERE (processed_events.status = 'reserved' AND processed_events.lease_expires_at <= $4)
		   OR (processed_events.status = 'processed' AND processed_events.expires_at <= $4)
	`, id, res.Token, res.ExpiresAt, now)
	if err != nil {
		return idempotency.Reservation{}, false, idempotency.Unavailable("reserve", fmt.Errorf("upserting reservation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return idempotency.Reservation{}, false, nil
	}
	return res, true, nil
}

func (s *ProcessedEventStore) Commit(ctx context.Context, res idempotency.Reservation, at time.Time) error {
	return s.MarkProcessed(ctx, res.ID, at)
}

func (s *ProcessedEventStore) Release(ctx context.Context, res idempotency.Reservation) error {
	_, err := s.pg.pool.Exec(ctx, `
		DELETE FROM processed_events
		WHERE event_identity = $1 AND status = 'reserved' AND token = $2
	`, res.ID, res.Token)
	if err != nil {
		return idempotency.Unavailable("release", fmt.Errorf("deleting reservation: %w", err))
	}
	return nil
}

func (s *ProcessedEventStore) HasProcessed(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pg.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM processed_events
			WHERE event_identity = $1 AND status = 'processed' AND expires_at > $2
		)
	`, id, s.now()).Scan(&exists)
	if err != nil {
		return false, idempotency.Unavailable("lookup", fmt.Errorf("querying processed event: %w", err))
	}
	return exists, nil
}

func (s *ProcessedEventStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.pg.pool.Exec(ctx, `
		INSERT INTO processed_events (event_identity, status, processed_at, expires_at)
		VALUES ($1, 'processed', $2, $3)
		ON CONFLICT (event_identity) DO UPDATE
		SET status = 'processed',
		    token = NULL,
		    lease_expires_at = NULL,
		    processed_at = EXCLUDED.processed_at,
		    expires_at = EXCLUDED.expires_at
		WHERE processed_events.status <> 'processed'
		   OR processed_events.expires_at <= $4
	`, id, at, at.Add(s.retention), s.now())
	if err != nil {
		return idempotency.Unavailable("mark processed", fmt.Errorf("upserting processed event: %w", err))
	}
	return nil
}

// Sweep deletes processed records past retention and abandoned reservations.
func (s *ProcessedEventStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pg.pool.Exec(ctx, `
		DELETE FROM processed_events
		WHERE (status = 'processed' AND expires_at <= $1)
		   OR (status = 'reserved' AND lease_expires_at <= $1)
	`, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListProcessed returns the most recently committed records.
func (s *ProcessedEventStore) ListProcessed(ctx context.Context, limit int) ([]domain.ProcessedRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pg.pool.Query(ctx, `
		SELECT event_identity, processed_at
		FROM processed_events
		WHERE status = 'processed'
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying processed events: %w", err)
	}
	defer rows.Close()

	records := []domain.ProcessedRecord{}
	for rows.Next() {
		var r domain.ProcessedRecord
		if err := rows.Scan(&r.EventIdentity, &r.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scanning processed event: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating processed events: %w", err)
	}
	return records, nil
}

var (
	_ idempotency.Store   = (*ProcessedEventStore)(nil)
	_ idempotency.Sweeper = (*ProcessedEventStore)(nil)
)
