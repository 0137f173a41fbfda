package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
	"github.com/Priya8975/webhook-ingest-service/internal/engine"
	"github.com/Priya8975/webhook-ingest-service/internal/idempotency"
)

// ProcessedLister is implemented by backends that can enumerate records.
type ProcessedLister interface {
	ListProcessed(ctx context.Context, limit int) ([]domain.ProcessedRecord, error)
}

// LedgerReader exposes the records the event handlers maintain.
// *store.PostgresStore and *store.MemoryLedger implement it.
type LedgerReader interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
}

// ClientCounter reports live feed connections.
type ClientCounter interface {
	ClientCount() int
}

// OpsHandler serves read-only operator endpoints.
type OpsHandler struct {
	store       idempotency.Store
	lister      ProcessedLister
	ledger      LedgerReader
	feed        ClientCounter
	breaker     *engine.CircuitBreaker
	breakerName string
	logger      *slog.Logger
}

// Processed reports whether one event identity has been handled.
func (h *OpsHandler) Processed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")

	ok, err := h.store.HasProcessed(r.Context(), id)
	if err != nil {
		h.logger.Error("processed lookup failed", "error", err, "event_identity", id)
		respondError(w, http.StatusServiceUnavailable, "Idempotency store unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"event_identity": id,
		"processed":      ok,
	})
}

// ListProcessed returns the most recent processed records. Only the Postgres
// backend supports listing.
func (h *OpsHandler) ListProcessed(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		respondError(w, http.StatusNotImplemented, "listing is not supported by this backend")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := h.lister.ListProcessed(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing processed events failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list processed events")
		return
	}
	if records == nil {
		records = []domain.ProcessedRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// Order returns the order record as the payment handlers left it.
func (h *OpsHandler) Order(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := h.ledger.GetOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("order lookup failed", "error", err, "order_id", id)
		respondError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	if order == nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// Client returns the platform client record as the merchant handlers left it.
func (h *OpsHandler) Client(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	client, err := h.ledger.GetClient(r.Context(), id)
	if err != nil {
		h.logger.Error("client lookup failed", "error", err, "client_id", id)
		respondError(w, http.StatusInternalServerError, "failed to load client")
		return
	}
	if client == nil {
		respondError(w, http.StatusNotFound, "client not found")
		return
	}
	respondJSON(w, http.StatusOK, client)
}

// Stats summarizes live feed clients and the mail relay circuit.
func (h *OpsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	type statsResponse struct {
		WebSocketClients int                         `json:"websocket_clients"`
		MailCircuit      *engine.CircuitBreakerState `json:"mail_circuit,omitempty"`
	}

	var resp statsResponse
	if h.feed != nil {
		resp.WebSocketClients = h.feed.ClientCount()
	}
	if h.breaker != nil {
		state := h.breaker.GetState(r.Context(), h.breakerName)
		resp.MailCircuit = &state
	}
	respondJSON(w, http.StatusOK, resp)
}
