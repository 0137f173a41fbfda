package sender

import (
	"fmt"
)

// SampleData returns a plausible payload for eventType, keyed on ref so
// repeated runs can target the same order or client.
func SampleData(eventType, ref string) (map[string]any, error) {
	switch eventType {
	case "payment.success":
		return map[string]any{
			"transactionId":        "tx_" + ref,
			"gatewayTransactionId": "gw_" + ref,
			"authCode":             "123456",
			"amount":               "49.99",
			"platformOrderId":      "order_" + ref,
			"customerEmail":        "customer@example.com",
		}, nil
	case "payment.failed":
		return map[string]any{
			"transactionId":   "tx_" + ref,
			"platformOrderId": "order_" + ref,
			"errorMessage":    "Card declined",
			"customerEmail":   "customer@example.com",
		}, nil
	case "payment.refunded":
		return map[string]any{
			"transactionId":   "tx_" + ref,
			"platformOrderId": "order_" + ref,
			"refundAmount":    "10.00",
			"totalRefunded":   "10.00",
			"isFullyRefunded": false,
			"reason":          "requested_by_customer",
			"customerEmail":   "customer@example.com",
		}, nil
	case "merchant.created", "merchant.approved", "merchant.suspended":
		return map[string]any{
			"merchantId":       "mer_" + ref,
			"nmiMerchantId":    "nmi_" + ref,
			"platformClientId": "client_" + ref,
			"applicationId":    "app_" + ref,
			"status":           "pending",
			"businessName":     "Example Store",
			"businessEmail":    "owner@example.com",
		}, nil
	}
	return nil, fmt.Errorf("no sample payload for event type %q", eventType)
}
