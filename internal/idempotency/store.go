// Package idempotency tracks which webhook events have been processed.
//
// Dedup goes through a single atomic Reserve call. A reservation is an
// in-flight lease held while the handler runs; Commit turns it into a
// processed record kept for the retention window, Release drops it so a
// later delivery of the same event can retry.
package idempotency

import (
	"context"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultRetention  = 24 * time.Hour
	DefaultLease      = 5 * time.Minute
	DefaultMaxEntries = 100_000

	TextCodeStoreUnavailable = "IDEMPOTENCY_STORE_UNAVAILABLE"
)

// Reservation is the claim returned by Reserve. Token identifies the holder
// so a stale worker cannot release a newer worker's claim.
type Reservation struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// Store is implemented by every backend. All methods are safe for
// concurrent use.
type Store interface {
	// Reserve atomically claims id for processing. It returns false when id
	// is already processed or held by an unexpired reservation.
	Reserve(ctx context.Context, id string, lease time.Duration) (Reservation, bool, error)
	// Commit records id as processed at the given time.
	Commit(ctx context.Context, res Reservation, at time.Time) error
	// Release drops an in-flight reservation. Unknown or foreign tokens are ignored.
	Release(ctx context.Context, res Reservation) error
	HasProcessed(ctx context.Context, id string) (bool, error)
	// MarkProcessed records id as processed. Marking twice is a no-op.
	MarkProcessed(ctx context.Context, id string, at time.Time) error
}

// Sweeper is implemented by backends that need explicit eviction.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Options configures the retention policy shared by the backends.
type Options struct {
	Retention  time.Duration
	MaxEntries int
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Unavailable wraps a backend failure so callers can tell a store outage
// apart from a duplicate.
func Unavailable(op string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "idempotency: "+op).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(TextCodeStoreUnavailable)
}

// IsUnavailable reports whether err came from Unavailable.
func IsUnavailable(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == TextCodeStoreUnavailable
}
