package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entryStatus int

const (
	statusReserved entryStatus = iota
	statusProcessed
)

type memoryEntry struct {
	status    entryStatus
	token     string
	expiresAt time.Time
	elem      *list.Element
}

// MemoryStore is the single-instance backend. It holds at most MaxEntries
// processed records; the oldest are dropped first when the bound is hit.
// It does not dedup across processes.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*memoryEntry
	// processed ids in commit order; with a fixed retention this is also
	// expiry order.
	order *list.List
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
	}
}

func (s *MemoryStore) Reserve(_ context.Context, id string, lease time.Duration) (Reservation, bool, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		if now.Before(e.expiresAt) {
			return Reservation{}, false, nil
		}
		s.removeLocked(id, e)
	}

	s.evictLocked(now)

	res := Reservation{
		ID:        id,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(lease),
	}
	s.entries[id] = &memoryEntry{
		status:    statusReserved,
		token:     res.Token,
		expiresAt: res.ExpiresAt,
	}
	return res, true, nil
}

func (s *MemoryStore) Commit(ctx context.Context, res Reservation, at time.Time) error {
	return s.MarkProcessed(ctx, res.ID, at)
}

func (s *MemoryStore) Release(_ context.Context, res Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[res.ID]
	if !ok || e.status != statusReserved || e.token != res.Token {
		return nil
	}
	delete(s.entries, res.ID)
	return nil
}

func (s *MemoryStore) HasProcessed(_ context.Context, id string) (bool, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	return ok && e.status == statusProcessed && now.Before(e.expiresAt), nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = s.opts.Now()
	}
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		if e.status == statusProcessed && now.Before(e.expiresAt) {
			return nil
		}
		s.removeLocked(id, e)
	}

	s.evictLocked(now)

	e := &memoryEntry{
		status:    statusProcessed,
		expiresAt: at.Add(s.opts.Retention),
	}
	e.elem = s.order.PushBack(id)
	s.entries[id] = e
	return nil
}

// Sweep drops expired processed records and stale reservations.
func (s *MemoryStore) Sweep(_ context.Context) (int64, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			s.removeLocked(id, e)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked ids, reserved or processed.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked drops expired records from the front of the commit order and,
// while the store is full, the oldest live ones.
func (s *MemoryStore) evictLocked(now time.Time) {
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		id := front.Value.(string)
		e, ok := s.entries[id]
		if !ok {
			s.order.Remove(front)
			continue
		}
		if now.Before(e.expiresAt) && len(s.entries) < s.opts.MaxEntries {
			return
		}
		s.removeLocked(id, e)
	}
}

func (s *MemoryStore) removeLocked(id string, e *memoryEntry) {
	if e.elem != nil {
		s.order.Remove(e.elem)
		e.elem = nil
	}
	delete(s.entries, id)
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)
