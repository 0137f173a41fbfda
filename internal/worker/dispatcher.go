// Package worker processes accepted webhook envelopes off the request path.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
	"github.com/Priya8975/webhook-ingest-service/internal/idempotency"
	"github.com/Priya8975/webhook-ingest-service/internal/metrics"
	"github.com/Priya8975/webhook-ingest-service/internal/router"
	"github.com/Priya8975/webhook-ingest-service/internal/websocket"
)

// Outcome is what happened to one envelope.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnhandled Outcome = "unhandled"
	OutcomeFailed    Outcome = "failed"
)

const (
	DefaultHandlerTimeout = 30 * time.Second
	DefaultEnqueueWait    = 100 * time.Millisecond
)

// Broadcaster receives every dispatch outcome. *websocket.Hub implements it.
type Broadcaster interface {
	Broadcast(ev websocket.DispatchEvent)
}

// Options sizes the pool and bounds handler execution.
type Options struct {
	NumWorkers     int
	QueueSize      int
	HandlerTimeout time.Duration
	// Lease is how long a reservation survives a crashed worker. It is
	// raised above HandlerTimeout when set lower.
	Lease       time.Duration
	EnqueueWait time.Duration
}

// Dispatcher dedups, routes and runs handlers for accepted envelopes.
// Handler outcomes never reach the caller of Submit.
type Dispatcher struct {
	store          idempotency.Store
	router         *router.Router
	feed           Broadcaster
	pool           *Pool
	logger         *slog.Logger
	handlerTimeout time.Duration
	lease          time.Duration
	now            func() time.Time
}

// NewDispatcher builds a dispatcher and its pool. feed may be nil.
func NewDispatcher(store idempotency.Store, r *router.Router, feed Broadcaster, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.Lease <= 0 {
		opts.Lease = idempotency.DefaultLease
	}
	if opts.Lease <= opts.HandlerTimeout {
		logger.Warn("reservation lease shorter than handler timeout, raising it",
			"lease", opts.Lease,
			"handler_timeout", opts.HandlerTimeout,
		)
		opts.Lease = opts.HandlerTimeout + time.Minute
	}
	if opts.EnqueueWait == 0 {
		opts.EnqueueWait = DefaultEnqueueWait
	}

	d := &Dispatcher{
		store:          store,
		router:         r,
		feed:           feed,
		logger:         logger,
		handlerTimeout: opts.HandlerTimeout,
		lease:          opts.Lease,
		now:            func() time.Time { return time.Now().UTC() },
	}
	d.pool = NewPool(opts.NumWorkers, opts.QueueSize, opts.EnqueueWait, d, logger)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

// Stop drains queued envelopes and waits for in-flight handlers.
func (d *Dispatcher) Stop(ctx context.Context) error {
	return d.pool.Stop(ctx)
}

// Submit hands env to the pool. It returns ErrQueueFull when saturated and
// ErrStopped after Stop.
func (d *Dispatcher) Submit(env domain.Envelope) error {
	return d.pool.Submit(env)
}

// Process runs the full dedup and handling sequence for one envelope.
func (d *Dispatcher) Process(ctx context.Context, env domain.Envelope) Outcome {
	start := time.Now()
	id := env.Identity()
	log := d.logger.With(
		"event_identity", id,
		"event_type", env.EventType,
		"provider", env.Provider,
	)

	res, acquired, err := d.store.Reserve(ctx, id, d.lease)
	reserved := err == nil
	switch {
	case err != nil:
		metrics.StoreErrors.WithLabelValues("reserve").Inc()
		log.Error("idempotency store unavailable, processing without dedup", "error", err)
	case !acquired:
		log.Info("event already processed, skipping")
		return d.finish(env, id, OutcomeDuplicate, start, nil)
	}

	route := d.router.Route(env.EventType)
	if !route.Known {
		log.Warn("unhandled event type")
		d.commit(ctx, log, id, res, reserved)
		return d.finish(env, id, OutcomeUnhandled, start, nil)
	}

	handlerStart := time.Now()
	result, running := d.runHandler(ctx, route, env.Data())
	metrics.HandlerDuration.WithLabelValues(string(route.Type)).Observe(time.Since(handlerStart).Seconds())

	if !result.Commit() {
		log.Error("event handler failed", "error", result.Reason)
		if reserved {
			if running != nil {
				// The timed-out handler may still be working. Keep the
				// reservation until it returns so a redelivery cannot run
				// alongside it; the lease covers one that never does.
				go d.releaseWhenDone(log, res, running)
			} else {
				d.release(ctx, log, res)
			}
		}
		return d.finish(env, id, OutcomeFailed, start, result.Reason)
	}

	d.commit(ctx, log, id, res, reserved)
	log.Info("event processed", "duration_ms", time.Since(start).Milliseconds())
	return d.finish(env, id, OutcomeProcessed, start, nil)
}

// commit records id as processed. Without a reservation (store was down at
// Reserve time) it falls back to MarkProcessed. Failures only widen the
// window for a duplicate run.
func (d *Dispatcher) commit(ctx context.Context, log *slog.Logger, id string, res idempotency.Reservation, reserved bool) {
	var err error
	if reserved {
		err = d.store.Commit(ctx, res, d.now())
	} else {
		err = d.store.MarkProcessed(ctx, id, d.now())
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("commit").Inc()
		log.Error("failed to record processed event", "error", err)
	}
}

func (d *Dispatcher) release(ctx context.Context, log *slog.Logger, res idempotency.Reservation) {
	if err := d.store.Release(ctx, res); err != nil {
		metrics.StoreErrors.WithLabelValues("release").Inc()
		log.Error("failed to release reservation, retry waits for lease expiry", "error", err)
	}
}

func (d *Dispatcher) releaseWhenDone(log *slog.Logger, res idempotency.Reservation, running <-chan error) {
	err := <-running
	log.Warn("timed out handler returned, releasing reservation", "late_error", err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.release(ctx, log, res)
}

// runHandler enforces the handler timeout and turns panics into failures.
// On timeout the handler goroutine is abandoned and the returned channel
// yields its eventual result; otherwise the channel is nil.
func (d *Dispatcher) runHandler(ctx context.Context, route router.Route, data map[string]any) (domain.HandlerResult, <-chan error) {
	hctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler for %s panicked: %v", route.Type, r)
			}
		}()
		done <- route.Handler.Handle(hctx, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return domain.Failed(err), nil
		}
		return domain.Succeeded(), nil
	case <-hctx.Done():
		return domain.Failed(fmt.Errorf("handler for %s: %w", route.Type, hctx.Err())), done
	}
}

func (d *Dispatcher) finish(env domain.Envelope, id string, outcome Outcome, start time.Time, reason error) Outcome {
	label := env.EventType
	if _, ok := router.ParseEventType(label); !ok {
		label = "unknown"
	}
	metrics.DispatchOutcomes.WithLabelValues(label, string(outcome)).Inc()

	if d.feed != nil {
		ev := websocket.DispatchEvent{
			Outcome:       string(outcome),
			EventIdentity: id,
			EventType:     env.EventType,
			Provider:      env.Provider,
			DurationMs:    time.Since(start).Milliseconds(),
			Timestamp:     d.now(),
		}
		if reason != nil {
			ev.Error = reason.Error()
		}
		d.feed.Broadcast(ev)
	}
	return outcome
}
