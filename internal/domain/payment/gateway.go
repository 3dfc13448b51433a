package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// GatewayStatus is the provider-side payment state.
type GatewayStatus string

const (
	GatewayInitiated  GatewayStatus = "initiated"
	GatewayPaid       GatewayStatus = "paid"
	GatewayAuthorized GatewayStatus = "authorized"
	GatewayCaptured   GatewayStatus = "captured"
	GatewayFailed     GatewayStatus = "failed"
	GatewayRefunded   GatewayStatus = "refunded"
	GatewayVoided     GatewayStatus = "voided"
)

// IsSuccessful reports whether the provider considers the money collected.
func IsSuccessful(s GatewayStatus) bool {
	return s == GatewayPaid || s == GatewayCaptured
}

type IntentRequest struct {
	TransactionID string
	OrderID       string
	OrderNumber   string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Source        Source
}

type Intent struct {
	ID             string
	Status         GatewayStatus
	Amount         int64
	Currency       string
	TransactionURL string
}

// GatewayPayment is the provider's view of a payment. Amount is in minor units.
type GatewayPayment struct {
	ID       string
	Status   GatewayStatus
	Amount   int64
	Currency string
	Metadata map[string]string
}

type Refund struct {
	ID        string
	PaymentID string
	Status    GatewayStatus
	Amount    int64
	Currency  string
}

// Gateway is the external payment provider. CreateIntent and Refund are not
// idempotent and must not be retried automatically.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetPayment(ctx context.Context, id string) (GatewayPayment, error)
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (Refund, error)
}

// SignatureVerifier authenticates inbound webhook bodies.
type SignatureVerifier interface {
	VerifyWebhookSignature(rawBody []byte, signature string) error
}

type EventType string

const (
	EventPaid     EventType = "payment.paid"
	EventFailed   EventType = "payment.failed"
	EventRefunded EventType = "payment.refunded"
)

// WebhookEvent is the provider callback body.
type WebhookEvent struct {
	ID   string         `json:"id,omitempty"`
	Type EventType      `json:"type"`
	Data WebhookPayment `json:"data"`
}

type WebhookPayment struct {
	ID       string            `json:"id"`
	Status   GatewayStatus     `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
