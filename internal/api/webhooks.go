package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
	"github.com/Priya8975/webhook-ingest-service/internal/engine"
	"github.com/Priya8975/webhook-ingest-service/internal/metrics"
	"github.com/Priya8975/webhook-ingest-service/internal/signature"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"

	DefaultMaxBodyBytes = 1 << 20
)

// Submitter accepts envelopes for asynchronous processing.
// *worker.Dispatcher implements it.
type Submitter interface {
	Submit(env domain.Envelope) error
}

// WebhookHandler is the ingress endpoint. It authenticates the delivery,
// hands it to the dispatcher and acknowledges without waiting for the
// handler.
type WebhookHandler struct {
	secret       string
	dispatcher   Submitter
	limiter      engine.Limiter
	maxBodyBytes int64
	logger       *slog.Logger
}

func NewWebhookHandler(secret string, dispatcher Submitter, limiter engine.Limiter, maxBodyBytes int64, logger *slog.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &WebhookHandler{
		secret:       secret,
		dispatcher:   dispatcher,
		limiter:      limiter,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	log := h.logger.With("provider", provider, "remote_addr", r.RemoteAddr)

	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	eventType := strings.TrimSpace(r.Header.Get(HeaderEvent))
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if sig == "" || eventType == "" || timestamp == "" {
		log.Warn("missing webhook headers",
			"has_signature", sig != "",
			"has_event", eventType != "",
			"has_timestamp", timestamp != "",
		)
		h.reject(w, provider, "missing_headers", errMissingHeaders)
		return
	}
	log = log.With("event_type", eventType)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", "limit", h.maxBodyBytes)
			h.reject(w, provider, "too_large", errPayloadTooLarge)
			return
		}
		log.Warn("failed to read webhook body", "error", err)
		h.reject(w, provider, "invalid_payload", errInvalidPayload)
		return
	}

	if !signature.Verify(body, sig, h.secret) {
		if h.secret == "" {
			log.Error("rejecting webhook: WEBHOOK_SECRET is not configured")
		} else {
			log.Warn("invalid webhook signature", "security_event", true)
		}
		h.reject(w, provider, "invalid_signature", errInvalidSignature)
		return
	}

	// Only authenticated deliveries count against the sender's quota.
	if h.limiter != nil && !h.limiter.Allow(r.Context(), providerLabel(provider)) {
		log.Warn("webhook rate limited")
		h.reject(w, provider, "rate_limited", errRateLimited)
		return
	}

	env, err := domain.NewEnvelope(provider, eventType, timestamp, sig, r.Header.Get(HeaderID), body)
	if err != nil {
		log.Warn("invalid webhook payload", "error", err)
		h.reject(w, provider, "invalid_payload", errInvalidPayload)
		return
	}
	// The event header is outside the MAC. It must agree with the signed
	// body, or a replayed body could be routed to a different handler.
	if bodyType := env.BodyEventType(); bodyType != "" && bodyType != env.EventType {
		log.Warn("event header does not match signed body",
			"body_event", bodyType,
			"security_event", true,
		)
		h.reject(w, provider, "event_mismatch", errInvalidSignature)
		return
	}

	if err := h.dispatcher.Submit(env); err != nil {
		log.Error("failed to enqueue webhook", "error", err, "event_identity", env.Identity())
		h.reject(w, provider, "unavailable", errUnavailable)
		return
	}

	metrics.WebhooksReceived.WithLabelValues(providerLabel(provider), "accepted").Inc()
	log.Info("webhook accepted", "event_identity", env.Identity())
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, provider, result string, err error) {
	metrics.WebhooksReceived.WithLabelValues(providerLabel(provider), result).Inc()
	respondErr(w, err)
}

// providerLabel keeps unauthenticated path input from minting arbitrary
// metric series.
func providerLabel(provider string) string {
	if provider == "" || len(provider) > 32 {
		return "other"
	}
	for _, c := range provider {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return "other"
		}
	}
	return provider
}
