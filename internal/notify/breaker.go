package notify

import (
	"context"
	"errors"
)

// ErrCircuitOpen is returned while the mail relay's circuit is open. The
// handler fails and the event is retried on the next delivery.
var ErrCircuitOpen = errors.New("mail relay circuit open")

// Breaker is the subset of engine.CircuitBreaker the mailer needs.
type Breaker interface {
	Allow(ctx context.Context, name string) bool
	RecordSuccess(ctx context.Context, name string)
	RecordFailure(ctx context.Context, name string)
}

type guardedMailer struct {
	next    Mailer
	breaker Breaker
	name    string
}

// WithBreaker stops calling next while name's circuit is open.
func WithBreaker(next Mailer, b Breaker, name string) Mailer {
	return &guardedMailer{next: next, breaker: b, name: name}
}

func (g *guardedMailer) SendEmail(ctx context.Context, kind, recipient string, data map[string]any) error {
	if !g.breaker.Allow(ctx, g.name) {
		return ErrCircuitOpen
	}
	if err := g.next.SendEmail(ctx, kind, recipient, data); err != nil {
		g.breaker.RecordFailure(ctx, g.name)
		return err
	}
	g.breaker.RecordSuccess(ctx, g.name)
	return nil
}
