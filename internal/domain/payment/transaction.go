package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("payment: transaction not found")
	ErrPendingExists       = errors.New("payment: order already has a pending transaction")
	ErrStatusConflict      = errors.New("payment: transaction status changed concurrently")
	ErrInvalidTransition   = errors.New("payment: invalid transaction transition")
	ErrInvalidAmount       = errors.New("payment: amount must be greater than zero")
	ErrRefundExceedsAmount = errors.New("payment: refund amount exceeds the original amount")
	ErrInvalidSignature    = errors.New("payment: invalid webhook signature")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Next returns the statuses a transaction may move to from s.
// Refund is the only exit from completed; failed and refunded are final.
func (s Status) Next() []Status {
	switch s {
	case StatusPending:
		return []Status{StatusCompleted, StatusFailed, StatusRefunded}
	case StatusCompleted:
		return []Status{StatusRefunded}
	case StatusFailed, StatusRefunded:
		return nil
	default:
		panic(fmt.Sprintf("payment: unhandled status %q", string(s)))
	}
}

func CanTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	for _, next := range from.Next() {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Transaction is one payment attempt against an order.
type Transaction struct {
	ID                string
	OrderID           string
	ExternalPaymentID string
	Amount            decimal.Decimal
	Currency          string
	Status            Status
	PaymentMethod     Method
	FailureReason     string
	RefundID          string
	RefundedAmount    decimal.Decimal
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewTransaction(id, orderID, externalID string, amount decimal.Decimal, currency string, method Method) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Transaction{
		ID:                id,
		OrderID:           orderID,
		ExternalPaymentID: externalID,
		Amount:            amount,
		Currency:          currency,
		Status:            StatusPending,
		PaymentMethod:     method,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// RefundAmount resolves the amount to refund: nil means the full amount.
func (t *Transaction) RefundAmount(requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested == nil {
		return t.Amount, nil
	}
	if !requested.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if requested.GreaterThan(t.Amount) {
		return decimal.Zero, ErrRefundExceedsAmount
	}
	return *requested, nil
}

// Update is the set of fields a status transition may write alongside the status.
type Update struct {
	Status         Status
	FailureReason  string
	RefundID       string
	RefundedAmount *decimal.Decimal
}

func (t *Transaction) Apply(u Update) {
	t.Status = u.Status
	if u.FailureReason != "" {
		t.FailureReason = u.FailureReason
	}
	if u.RefundID != "" {
		t.RefundID = u.RefundID
	}
	if u.RefundedAmount != nil {
		t.RefundedAmount = *u.RefundedAmount
	}
	t.UpdatedAt = time.Now().UTC()
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
