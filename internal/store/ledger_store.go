package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

// UpdateOrder merges fields into the order row, creating it if needed.
// Re-applying the same fields leaves the row unchanged apart from updated_at.
func (s *PostgresStore) UpdateOrder(ctx context.Context, orderID string, fields map[string]any) error {
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding order fields: %w", err)
	}
	status, _ := fields["status"].(string)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (id, status, fields)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET status = COALESCE(NULLIF(EXCLUDED.status, ''), orders.status),
		    fields = orders.fields || EXCLUDED.fields,
		    updated_at = NOW()
	`, orderID, status, string(doc))
	if err != nil {
		return fmt.Errorf("upserting order %s: %w", orderID, err)
	}
	return nil
}

// UpdateClient merges fields into the client row, creating it if needed.
func (s *PostgresStore) UpdateClient(ctx context.Context, clientID string, fields map[string]any) error {
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding client fields: %w", err)
	}
	status, _ := fields["merchantStatus"].(string)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO clients (id, merchant_status, fields)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET merchant_status = COALESCE(NULLIF(EXCLUDED.merchant_status, ''), clients.merchant_status),
		    fields = clients.fields || EXCLUDED.fields,
		    updated_at = NOW()
	`, clientID, status, string(doc))
	if err != nil {
		return fmt.Errorf("upserting client %s: %w", clientID, err)
	}
	return nil
}

func (s *PostgresStore) EnablePaymentProcessing(ctx context.Context, clientID string) error {
	return s.setPaymentProcessing(ctx, clientID, true)
}

func (s *PostgresStore) DisablePaymentProcessing(ctx context.Context, clientID string) error {
	return s.setPaymentProcessing(ctx, clientID, false)
}

func (s *PostgresStore) setPaymentProcessing(ctx context.Context, clientID string, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, payment_processing_enabled)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET payment_processing_enabled = EXCLUDED.payment_processing_enabled,
		    updated_at = NOW()
	`, clientID, enabled)
	if err != nil {
		return fmt.Errorf("setting payment processing for client %s: %w", clientID, err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, fields, updated_at FROM orders WHERE id = $1
	`, orderID).Scan(&o.ID, &o.Status, &doc, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying order: %w", err)
	}
	if err := json.Unmarshal(doc, &o.Fields); err != nil {
		return nil, fmt.Errorf("decoding order fields: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var c domain.Client
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, merchant_status, payment_processing_enabled, fields, updated_at
		FROM clients WHERE id = $1
	`, clientID).Scan(&c.ID, &c.MerchantStatus, &c.PaymentProcessingEnabled, &doc, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying client: %w", err)
	}
	if err := json.Unmarshal(doc, &c.Fields); err != nil {
		return nil, fmt.Errorf("decoding client fields: %w", err)
	}
	return &c, nil
}
