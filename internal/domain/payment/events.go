package payment

import "time"

type IntentCreatedEvent struct {
	TransactionID     string    `json:"transaction_id"`
	OrderID           string    `json:"order_id"`
	ExternalPaymentID string    `json:"external_payment_id"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	Method            Method    `json:"method"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (IntentCreatedEvent) EventName() string { return "payment.intent_created" }

// StatusEvent is emitted whenever a transaction reaches a final or refunded state.
type StatusEvent struct {
	Name              string    `json:"event"`
	TransactionID     string    `json:"transaction_id"`
	OrderID           string    `json:"order_id"`
	ExternalPaymentID string    `json:"external_payment_id"`
	Status            Status    `json:"status"`
	Reason            string    `json:"reason"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (e StatusEvent) EventName() string { return e.Name }

func NewIntentCreatedEvent(t *Transaction) IntentCreatedEvent {
	return IntentCreatedEvent{
		TransactionID:     t.ID,
		OrderID:           t.OrderID,
		ExternalPaymentID: t.ExternalPaymentID,
		Amount:            t.Amount.StringFixed(2),
		Currency:          t.Currency,
		Method:            t.PaymentMethod,
		OccurredAt:        time.Now().UTC(),
	}
}

func NewStatusEvent(t *Transaction) StatusEvent {
	name := "payment." + string(t.Status)
	return StatusEvent{
		Name:              name,
		TransactionID:     t.ID,
		OrderID:           t.OrderID,
		ExternalPaymentID: t.ExternalPaymentID,
		Status:            t.Status,
		Reason:            t.FailureReason,
		OccurredAt:        time.Now().UTC(),
	}
}

// StrandedEvent reports money captured for an order that was already closed.
type StrandedEvent struct {
	TransactionID     string    `json:"transaction_id"`
	OrderID           string    `json:"order_id"`
	OrderStatus       string    `json:"order_status"`
	ExternalPaymentID string    `json:"external_payment_id"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (StrandedEvent) EventName() string { return "payment.stranded" }

func NewStrandedEvent(t *Transaction, orderStatus string) StrandedEvent {
	return StrandedEvent{
		TransactionID:     t.ID,
		OrderID:           t.OrderID,
		OrderStatus:       orderStatus,
		ExternalPaymentID: t.ExternalPaymentID,
		Amount:            t.Amount.StringFixed(2),
		Currency:          t.Currency,
		OccurredAt:        time.Now().UTC(),
	}
}

func (e IntentCreatedEvent) PartitionKey() string { return e.OrderID }
func (e StatusEvent) PartitionKey() string        { return e.OrderID }
func (e StrandedEvent) PartitionKey() string      { return e.OrderID }
