// Package handlers holds the side effects for each webhook event type.
//
// Every handler may run more than once for the same event (a failed attempt
// is retried on redelivery), so the collaborators are expected to apply
// updates as idempotent upserts.
package handlers

import (
	"context"
	"log/slog"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/Priya8975/webhook-ingest-service/internal/notify"
	"github.com/Priya8975/webhook-ingest-service/internal/router"
)

const (
	TextCodeMissingField = "WEBHOOK_MISSING_FIELD"
	TextCodeCollaborator = "WEBHOOK_COLLABORATOR_FAILED"
	TextCodeNotification = "WEBHOOK_NOTIFICATION_FAILED"
)

// OrderUpdater merges fields into an order record.
type OrderUpdater interface {
	UpdateOrder(ctx context.Context, orderID string, fields map[string]any) error
}

// ClientUpdater merges fields into a merchant client record.
type ClientUpdater interface {
	UpdateClient(ctx context.Context, clientID string, fields map[string]any) error
}

// ProcessingToggle switches card processing for a client.
type ProcessingToggle interface {
	EnablePaymentProcessing(ctx context.Context, clientID string) error
	DisablePaymentProcessing(ctx context.Context, clientID string) error
}

// Ledger is the full set of record collaborators. store.PostgresStore and
// store.MemoryLedger both satisfy it.
type Ledger interface {
	OrderUpdater
	ClientUpdater
	ProcessingToggle
}

// Deps wires the handlers to their collaborators.
type Deps struct {
	Orders     OrderUpdater
	Clients    ClientUpdater
	Processing ProcessingToggle
	Mailer     notify.Mailer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Handlers implements one router.Handler per event type.
type Handlers struct {
	orders     OrderUpdater
	clients    ClientUpdater
	processing ProcessingToggle
	mailer     notify.Mailer
	logger     *slog.Logger
	now        func() time.Time
}

func New(d Deps) *Handlers {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{
		orders:     d.Orders,
		clients:    d.Clients,
		processing: d.Processing,
		mailer:     d.Mailer,
		logger:     d.Logger,
		now:        d.Now,
	}
}

// Routes returns the mapping used to build the router.
func (h *Handlers) Routes() map[router.EventType]router.Handler {
	return map[router.EventType]router.Handler{
		router.PaymentSuccess:    router.HandlerFunc(h.PaymentSuccess),
		router.PaymentFailed:     router.HandlerFunc(h.PaymentFailed),
		router.PaymentRefunded:   router.HandlerFunc(h.PaymentRefunded),
		router.MerchantCreated:   router.HandlerFunc(h.MerchantCreated),
		router.MerchantApproved:  router.HandlerFunc(h.MerchantApproved),
		router.MerchantSuspended: router.HandlerFunc(h.MerchantSuspended),
	}
}

func (h *Handlers) PaymentSuccess(ctx context.Context, data map[string]any) error {
	orderID, err := required(data, "platformOrderId")
	if err != nil {
		return err
	}
	h.logger.Info("payment successful", "transaction_id", str(data, "transactionId"), "order_id", orderID)

	if err := h.updateOrder(ctx, orderID, map[string]any{
		"status":               "paid",
		"transactionId":        data["transactionId"],
		"gatewayTransactionId": data["gatewayTransactionId"],
		"authCode":             data["authCode"],
		"paidAt":               h.now(),
	}); err != nil {
		return err
	}

	return h.email(ctx, notify.KindPaymentConfirmation, str(data, "customerEmail"), map[string]any{
		"amount":        data["amount"],
		"orderId":       orderID,
		"transactionId": data["transactionId"],
	})
}

func (h *Handlers) PaymentFailed(ctx context.Context, data map[string]any) error {
	orderID, err := required(data, "platformOrderId")
	if err != nil {
		return err
	}
	h.logger.Info("payment failed", "transaction_id", str(data, "transactionId"), "order_id", orderID)

	if err := h.updateOrder(ctx, orderID, map[string]any{
		"status":       "payment_failed",
		"errorMessage": data["errorMessage"],
	}); err != nil {
		return err
	}

	return h.email(ctx, notify.KindPaymentFailed, str(data, "customerEmail"), map[string]any{
		"orderId":      orderID,
		"errorMessage": data["errorMessage"],
	})
}

func (h *Handlers) PaymentRefunded(ctx context.Context, data map[string]any) error {
	orderID, err := required(data, "platformOrderId")
	if err != nil {
		return err
	}
	h.logger.Info("payment refunded", "transaction_id", str(data, "transactionId"), "order_id", orderID)

	full := truthy(data["isFullyRefunded"])
	status := "partially_refunded"
	if full {
		status = "refunded"
	}

	if err := h.updateOrder(ctx, orderID, map[string]any{
		"status":         status,
		"refundedAmount": data["totalRefunded"],
		"refundReason":   data["reason"],
		"refundedAt":     h.now(),
	}); err != nil {
		return err
	}

	return h.email(ctx, notify.KindRefundConfirmation, str(data, "customerEmail"), map[string]any{
		"orderId":      orderID,
		"refundAmount": data["refundAmount"],
		"isFullRefund": full,
	})
}

func (h *Handlers) MerchantCreated(ctx context.Context, data map[string]any) error {
	clientID, err := required(data, "platformClientId")
	if err != nil {
		return err
	}
	h.logger.Info("merchant created", "merchant_id", str(data, "merchantId"), "client_id", clientID)

	if err := h.updateClient(ctx, clientID, map[string]any{
		"merchantId":            data["merchantId"],
		"nmiMerchantId":         data["nmiMerchantId"],
		"merchantStatus":        data["status"],
		"merchantApplicationId": data["applicationId"],
	}); err != nil {
		return err
	}

	return h.email(ctx, notify.KindMerchantCreated, str(data, "businessEmail"), map[string]any{
		"businessName": data["businessName"],
		"status":       data["status"],
	})
}

func (h *Handlers) MerchantApproved(ctx context.Context, data map[string]any) error {
	clientID, err := required(data, "platformClientId")
	if err != nil {
		return err
	}
	h.logger.Info("merchant approved", "merchant_id", str(data, "merchantId"), "client_id", clientID)

	if err := h.updateClient(ctx, clientID, map[string]any{
		"merchantStatus":     "active",
		"merchantApprovedAt": h.now(),
	}); err != nil {
		return err
	}
	if err := h.processing.EnablePaymentProcessing(ctx, clientID); err != nil {
		return collaboratorErr(err, "enabling payment processing", clientID)
	}

	return h.email(ctx, notify.KindMerchantApproved, str(data, "businessEmail"), map[string]any{
		"businessName": data["businessName"],
	})
}

func (h *Handlers) MerchantSuspended(ctx context.Context, data map[string]any) error {
	clientID, err := required(data, "platformClientId")
	if err != nil {
		return err
	}
	h.logger.Info("merchant suspended", "merchant_id", str(data, "merchantId"), "client_id", clientID)

	if err := h.updateClient(ctx, clientID, map[string]any{
		"merchantStatus":      "suspended",
		"merchantSuspendedAt": h.now(),
	}); err != nil {
		return err
	}
	if err := h.processing.DisablePaymentProcessing(ctx, clientID); err != nil {
		return collaboratorErr(err, "disabling payment processing", clientID)
	}

	return h.email(ctx, notify.KindMerchantSuspended, str(data, "businessEmail"), map[string]any{
		"businessName": data["businessName"],
	})
}

func (h *Handlers) updateOrder(ctx context.Context, orderID string, fields map[string]any) error {
	if err := h.orders.UpdateOrder(ctx, orderID, fields); err != nil {
		return collaboratorErr(err, "updating order", orderID)
	}
	return nil
}

func (h *Handlers) updateClient(ctx context.Context, clientID string, fields map[string]any) error {
	if err := h.clients.UpdateClient(ctx, clientID, fields); err != nil {
		return collaboratorErr(err, "updating client", clientID)
	}
	return nil
}

// email skips events that carry no recipient; a failed send fails the
// handler so the whole event is retried.
func (h *Handlers) email(ctx context.Context, kind, recipient string, data map[string]any) error {
	if recipient == "" {
		h.logger.Warn("no recipient for notification, skipping", "kind", kind)
		return nil
	}
	if err := h.mailer.SendEmail(ctx, kind, recipient, data); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "sending "+kind+" email").
			WithTextCode(TextCodeNotification)
	}
	return nil
}
