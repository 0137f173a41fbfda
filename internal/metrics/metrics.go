// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived counts ingress responses by provider and result
	// ("accepted", "missing_headers", "invalid_signature", ...).
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_ingress_requests_total",
		Help: "Webhook requests received, by provider and result",
	}, []string{"provider", "result"})

	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_dispatch_outcomes_total",
		Help: "Dispatched webhook events, by event type and outcome",
	}, []string{"event_type", "outcome"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_handler_duration_seconds",
		Help:    "Time spent in event handlers",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"event_type"})

	// StoreErrors is the alert signal for an unavailable idempotency store.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_idempotency_store_errors_total",
		Help: "Idempotency store failures, by operation",
	}, []string{"op"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_dispatch_queue_depth",
		Help: "Envelopes waiting for a worker",
	})

	SweptRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_idempotency_swept_total",
		Help: "Expired idempotency records removed by the sweeper",
	})
)
