package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPayload is returned when a webhook body is not a JSON object
// carrying an object-valued "data" field.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Envelope is one inbound webhook delivery. It is built once by the ingress
// layer and never modified afterwards.
type Envelope struct {
	Provider   string         `json:"provider"`
	EventType  string         `json:"event_type"`
	Timestamp  string         `json:"timestamp"`
	Signature  string         `json:"-"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	RawBody    []byte         `json:"-"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
}

// NewEnvelope parses the raw body and returns an envelope holding a private
// copy of it. The delivery id falls back to the body's "id" or "eventId"
// field when the header did not carry one.
func NewEnvelope(provider, eventType, timestamp, signature, deliveryID string, rawBody []byte) (Envelope, error) {
	payload, err := ParsePayload(rawBody)
	if err != nil {
		return Envelope{}, err
	}

	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		deliveryID = firstString(payload, "id", "eventId")
	}

	return Envelope{
		Provider:   provider,
		EventType:  strings.TrimSpace(eventType),
		Timestamp:  strings.TrimSpace(timestamp),
		Signature:  signature,
		DeliveryID: deliveryID,
		RawBody:    append([]byte(nil), rawBody...),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// ParsePayload decodes a webhook body. Numbers are kept as json.Number so
// amounts survive without float rounding.
func ParsePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: body is not an object", ErrInvalidPayload)
	}
	if _, ok := payload["data"].(map[string]any); !ok {
		return nil, fmt.Errorf("%w: missing data object", ErrInvalidPayload)
	}
	return payload, nil
}

// Data returns the event payload nested under "data".
func (e Envelope) Data() map[string]any {
	data, _ := e.Payload["data"].(map[string]any)
	if data == nil {
		return map[string]any{}
	}
	return data
}

// BodyEventType returns the "event" field of the body, if any.
func (e Envelope) BodyEventType() string {
	return firstString(e.Payload, "event")
}

// Identity derives the dedup key for the envelope. A sender-assigned
// delivery id wins; otherwise the key is built from the event type, the
// payload's correlation key and the sender timestamp.
func (e Envelope) Identity() string {
	if e.DeliveryID != "" {
		return e.EventType + ":id:" + e.DeliveryID
	}
	return fmt.Sprintf("%s-%s-%s", e.EventType, CorrelationKey(e.Data()), e.Timestamp)
}

// CorrelationKey picks the identifier that ties an event to its subject.
func CorrelationKey(data map[string]any) string {
	if key := firstString(data, "transactionId", "merchantId"); key != "" {
		return key
	}
	return "unknown"
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
