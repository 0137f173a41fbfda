// Package sender posts signed webhook events, the same way the payment
// platform does. It backs the sender command used for local testing.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/webhook-ingest-service/internal/signature"
)

// Event is the body of one webhook delivery.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Platform  string         `json:"platform"`
	Data      map[string]any `json:"data"`
}

// Result describes the receiver's answer.
type Result struct {
	StatusCode int
	Body       string
	Duration   time.Duration
}

// Client signs and delivers events to one receiver URL.
type Client struct {
	httpClient *http.Client
	url        string
	secret     string
	platform   string
	logger     *slog.Logger
}

func NewClient(url, secret, platform string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
		secret:     secret,
		platform:   platform,
		logger:     logger,
	}
}

// NewEvent fills in the id, timestamp and platform for eventType.
func (c *Client) NewEvent(eventType string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Event:     eventType,
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		Platform:  c.platform,
		Data:      data,
	}
}

// Send posts ev. Calling Send twice with the same event is a redelivery.
func (c *Client) Send(ctx context.Context, ev Event) (Result, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Result{}, fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature.Sign(payload, c.secret))
	req.Header.Set("X-Webhook-Event", ev.Event)
	req.Header.Set("X-Webhook-Timestamp", ev.Timestamp)
	if ev.ID != "" {
		req.Header.Set("X-Webhook-ID", ev.ID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()

	// Receivers answer with a tiny JSON body; cap what we keep.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	res := Result{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Duration:   time.Since(start),
	}

	c.logger.Info("event sent",
		"event_type", ev.Event,
		"event_id", ev.ID,
		"status_code", res.StatusCode,
		"response_time_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
