package store

import (
	"context"
	"testing"
)

func TestMemoryLedger_UpdateOrderMerges(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if err := l.UpdateOrder(ctx, "o1", map[string]any{"status": "paid", "transactionId": "tx1"}); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if err := l.UpdateOrder(ctx, "o1", map[string]any{"authCode": "A1"}); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	o, err := l.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if o == nil {
		t.Fatal("expected order o1")
	}
	if o.Status != "paid" {
		t.Errorf("status = %q, want %q", o.Status, "paid")
	}
	if o.Fields["transactionId"] != "tx1" || o.Fields["authCode"] != "A1" {
		t.Errorf("fields not merged: %v", o.Fields)
	}
}

func TestMemoryLedger_GetOrderReturnsCopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.UpdateOrder(ctx, "o1", map[string]any{"status": "paid"})

	o, _ := l.GetOrder(ctx, "o1")
	o.Fields["status"] = "tampered"

	again, _ := l.GetOrder(ctx, "o1")
	if again.Fields["status"] != "paid" {
		t.Error("GetOrder should return a copy")
	}
}

func TestMemoryLedger_PaymentProcessingToggle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	l.EnablePaymentProcessing(ctx, "c1")
	c, _ := l.GetClient(ctx, "c1")
	if !c.PaymentProcessingEnabled {
		t.Error("expected payment processing enabled")
	}

	l.UpdateClient(ctx, "c1", map[string]any{"merchantStatus": "suspended"})
	l.DisablePaymentProcessing(ctx, "c1")
	c, _ = l.GetClient(ctx, "c1")
	if c.PaymentProcessingEnabled {
		t.Error("expected payment processing disabled")
	}
	if c.MerchantStatus != "suspended" {
		t.Errorf("merchant status = %q, want %q", c.MerchantStatus, "suspended")
	}
}

func TestMemoryLedger_MissingRows(t *testing.T) {
	l := NewMemoryLedger()

	o, err := l.GetOrder(context.Background(), "missing")
	if err != nil || o != nil {
		t.Errorf("GetOrder(missing) = %v, %v; want nil, nil", o, err)
	}
	c, err := l.GetClient(context.Background(), "missing")
	if err != nil || c != nil {
		t.Errorf("GetClient(missing) = %v, %v; want nil, nil", c, err)
	}
}
