package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Priya8975/webhook-ingest-service/internal/engine"
	"github.com/Priya8975/webhook-ingest-service/internal/idempotency"
	ws "github.com/Priya8975/webhook-ingest-service/internal/websocket"
)

// Deps collects everything the HTTP layer talks to. Limiter, Hub, Lister,
// Ledger and Breaker are optional.
type Deps struct {
	Secret       string
	Dispatcher   Submitter
	Store        idempotency.Store
	Limiter      engine.Limiter
	Hub          *ws.Hub
	Lister       ProcessedLister
	Ledger       LedgerReader
	Breaker      *engine.CircuitBreaker
	BreakerName  string
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(recoverJSON(d.Logger))

	webhooks := NewWebhookHandler(d.Secret, d.Dispatcher, d.Limiter, d.MaxBodyBytes, d.Logger)
	ops := &OpsHandler{
		store:       d.Store,
		lister:      d.Lister,
		ledger:      d.Ledger,
		breaker:     d.Breaker,
		breakerName: d.BreakerName,
		logger:      d.Logger,
	}
	if d.Hub != nil {
		ops.feed = d.Hub
		r.Get("/ws", d.Hub.HandleWebSocket)
	}

	r.Get("/health", HealthHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/{provider}", webhooks.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())
		r.Get("/stats", ops.Stats)
		if d.Store != nil {
			r.Get("/processed/{identity}", ops.Processed)
		}
		r.Get("/processed", ops.ListProcessed)
		if d.Ledger != nil {
			r.Get("/orders/{id}", ops.Order)
			r.Get("/clients/{id}", ops.Client)
		}
	})

	return r
}

// recoverJSON turns a panic into the 500 body every other error uses.
func recoverJSON(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil || rec == http.ErrAbortHandler {
					if rec != nil {
						panic(rec)
					}
					return
				}
				logger.Error("panic in http handler",
					"panic", rec,
					"request_id", middleware.GetReqID(r.Context()),
					"stack", string(debug.Stack()),
				)
				respondError(w, http.StatusInternalServerError, "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
