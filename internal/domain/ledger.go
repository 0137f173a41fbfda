package domain

import "time"

// Order is the downstream order row the payment handlers update.
type Order struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Client is a platform client (merchant account) the merchant handlers update.
type Client struct {
	ID                       string         `json:"id"`
	MerchantStatus           string         `json:"merchant_status,omitempty"`
	PaymentProcessingEnabled bool           `json:"payment_processing_enabled"`
	Fields                   map[string]any `json:"fields"`
	UpdatedAt                time.Time      `json:"updated_at"`
}
