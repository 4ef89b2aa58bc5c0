package cryptocloud

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StatusSuccess is the status sent for a completed payment
const StatusSuccess = "success"

// Invoice is a created checkout invoice
type Invoice struct {
	UUID    string `json:"uuid"`
	Link    string `json:"link"`
	OrderID string `json:"order_id,omitempty"`
}

// createInvoiceRequest is the body of POST /invoice/create
type createInvoiceRequest struct {
	ShopID   string          `json:"shop_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	OrderID  string          `json:"order_id"`
}

// createInvoiceResponse is the response of POST /invoice/create
type createInvoiceResponse struct {
	Status string  `json:"status"`
	Result Invoice `json:"result"`
}

// Postback is the payment notification sent to our webhook
type Postback struct {
	Status       string      `json:"status"`
	InvoiceID    string      `json:"invoice_id,omitempty"`
	OrderID      string      `json:"order_id"`
	Amount       json.Number `json:"amount,omitempty"`
	AmountCrypto json.Number `json:"amount_crypto,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	Token        string      `json:"token,omitempty"`
}

// PaidAmount returns the notified amount, zero when absent or malformed
func (p Postback) PaidAmount() decimal.Decimal {
	for _, raw := range []json.Number{p.Amount, p.AmountCrypto} {
		if raw == "" {
			continue
		}
		if d, err := decimal.NewFromString(raw.String()); err == nil {
			return d
		}
	}
	return decimal.Zero
}
