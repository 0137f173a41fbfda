// Package router maps webhook event types to their handlers.
package router

import (
	"context"
	"fmt"
)

// EventType is the closed set of events the service understands.
type EventType string

const (
	PaymentSuccess    EventType = "payment.success"
	PaymentFailed     EventType = "payment.failed"
	PaymentRefunded   EventType = "payment.refunded"
	MerchantCreated   EventType = "merchant.created"
	MerchantApproved  EventType = "merchant.approved"
	MerchantSuspended EventType = "merchant.suspended"
)

// EventTypes lists every known event type in a stable order.
var EventTypes = []EventType{
	PaymentSuccess,
	PaymentFailed,
	PaymentRefunded,
	MerchantCreated,
	MerchantApproved,
	MerchantSuspended,
}

// ParseEventType returns the EventType for s and whether it is known.
func ParseEventType(s string) (EventType, bool) {
	for _, t := range EventTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Handler performs the side effects for one event. A non-nil error means
// the event was not handled and may be retried.
type Handler interface {
	Handle(ctx context.Context, data map[string]any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data map[string]any) error

func (f HandlerFunc) Handle(ctx context.Context, data map[string]any) error {
	return f(ctx, data)
}

// Route is the result of a lookup. Known is false for event types outside
// the enumeration, in which case Handler is nil.
type Route struct {
	Type    EventType
	Handler Handler
	Known   bool
}

// Router is immutable after New and safe for concurrent use.
type Router struct {
	handlers map[EventType]Handler
}

// New copies the mapping. Every key must be a known event type with a
// non-nil handler.
func New(handlers map[EventType]Handler) (*Router, error) {
	m := make(map[EventType]Handler, len(handlers))
	for t, h := range handlers {
		if _, ok := ParseEventType(string(t)); !ok {
			return nil, fmt.Errorf("registering handler: unknown event type %q", t)
		}
		if h == nil {
			return nil, fmt.Errorf("registering handler: nil handler for %q", t)
		}
		m[t] = h
	}
	return &Router{handlers: m}, nil
}

// Route resolves eventType. Known event types without a registered handler
// are reported as unhandled too.
func (r *Router) Route(eventType string) Route {
	t, ok := ParseEventType(eventType)
	if !ok {
		return Route{}
	}
	h, ok := r.handlers[t]
	if !ok {
		return Route{Type: t}
	}
	return Route{Type: t, Handler: h, Known: true}
}
