package domain

import (
	"time"
)

// ProcessedRecord marks an event identity whose handler completed.
type ProcessedRecord struct {
	EventIdentity string    `json:"event_identity"`
	EventType     string    `json:"event_type,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// ResultKind classifies what happened when an envelope reached its handler.
type ResultKind string

const (
	ResultSuccess          ResultKind = "success"
	ResultUnknownEventType ResultKind = "unknown_event_type"
	ResultHandlerFailure   ResultKind = "handler_failure"
)

// HandlerResult decides whether a ProcessedRecord is committed. It is never
// persisted.
type HandlerResult struct {
	Kind   ResultKind
	Reason error
}

// Commit reports whether the identity should be marked processed.
func (r HandlerResult) Commit() bool {
	return r.Kind == ResultSuccess || r.Kind == ResultUnknownEventType
}

func Succeeded() HandlerResult { return HandlerResult{Kind: ResultSuccess} }

func Unhandled() HandlerResult { return HandlerResult{Kind: ResultUnknownEventType} }

func Failed(reason error) HandlerResult {
	return HandlerResult{Kind: ResultHandlerFailure, Reason: reason}
}
