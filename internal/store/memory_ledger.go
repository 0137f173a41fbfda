package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
)

// MemoryLedger keeps orders and clients in process. It backs single-instance
// deployments that run without Postgres.
type MemoryLedger struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	clients map[string]*domain.Client
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders:  make(map[string]*domain.Order),
		clients: make(map[string]*domain.Client),
	}
}

func (l *MemoryLedger) UpdateOrder(_ context.Context, orderID string, fields map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		o = &domain.Order{ID: orderID, Fields: map[string]any{}}
		l.orders[orderID] = o
	}
	maps.Copy(o.Fields, fields)
	if status, _ := fields["status"].(string); status != "" {
		o.Status = status
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) UpdateClient(_ context.Context, clientID string, fields map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clientLocked(clientID)
	maps.Copy(c.Fields, fields)
	if status, _ := fields["merchantStatus"].(string); status != "" {
		c.MerchantStatus = status
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) EnablePaymentProcessing(_ context.Context, clientID string) error {
	l.setPaymentProcessing(clientID, true)
	return nil
}

func (l *MemoryLedger) DisablePaymentProcessing(_ context.Context, clientID string) error {
	l.setPaymentProcessing(clientID, false)
	return nil
}

func (l *MemoryLedger) setPaymentProcessing(clientID string, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clientLocked(clientID)
	c.PaymentProcessingEnabled = enabled
	c.UpdatedAt = time.Now().UTC()
}

func (l *MemoryLedger) clientLocked(clientID string) *domain.Client {
	c, ok := l.clients[clientID]
	if !ok {
		c = &domain.Client{ID: clientID, Fields: map[string]any{}}
		l.clients[clientID] = c
	}
	return c
}

// GetOrder returns a copy of the order, or nil.
func (l *MemoryLedger) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	cp.Fields = maps.Clone(o.Fields)
	return &cp, nil
}

// GetClient returns a copy of the client, or nil.
func (l *MemoryLedger) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.clients[clientID]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Fields = maps.Clone(c.Fields)
	return &cp, nil
}
