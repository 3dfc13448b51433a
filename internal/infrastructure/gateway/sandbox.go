package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrPaymentNotFound = errors.New("gateway: payment not found")

// Sandbox is an in-memory provider for local runs and tests. Payments start
// initiated; Settle moves them the way a customer completing 3DS would.
type Sandbox struct {
	mu       sync.Mutex
	payments map[string]*dompay.GatewayPayment
	refunds  int
	failNext error
}

func NewSandbox() *Sandbox {
	return &Sandbox{payments: make(map[string]*dompay.GatewayPayment)}
}

func (s *Sandbox) CreateIntent(_ context.Context, req dompay.IntentRequest) (dompay.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return dompay.Intent{}, err
	}
	if _, err := encodeSource(req.Source); err != nil {
		return dompay.Intent{}, err
	}

	id := "pay_" + uuid.NewString()
	p := &dompay.GatewayPayment{
		ID:       id,
		Status:   dompay.GatewayInitiated,
		Amount:   dompay.ToMinorUnits(req.Amount),
		Currency: req.Currency,
		Metadata: map[string]string{
			"transaction_id": req.TransactionID,
			"order_id":       req.OrderID,
			"order_number":   req.OrderNumber,
		},
	}
	s.payments[id] = p
	return dompay.Intent{
		ID:             id,
		Status:         p.Status,
		Amount:         p.Amount,
		Currency:       p.Currency,
		TransactionURL: "https://sandbox.invalid/3ds/" + id,
	}, nil
}

func (s *Sandbox) GetPayment(_ context.Context, id string) (dompay.GatewayPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return dompay.GatewayPayment{}, err
	}
	p, ok := s.payments[id]
	if !ok {
		return dompay.GatewayPayment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	out := *p
	return out, nil
}

func (s *Sandbox) Refund(_ context.Context, paymentID string, amount decimal.Decimal, _ string) (dompay.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return dompay.Refund{}, err
	}
	p, ok := s.payments[paymentID]
	if !ok {
		return dompay.Refund{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	minor := dompay.ToMinorUnits(amount)
	if minor > p.Amount {
		return dompay.Refund{}, fmt.Errorf("gateway: refund %d exceeds captured %d", minor, p.Amount)
	}
	s.refunds++
	p.Status = dompay.GatewayRefunded
	return dompay.Refund{
		ID:        "rf_" + uuid.NewString(),
		PaymentID: paymentID,
		Status:    dompay.GatewayRefunded,
		Amount:    minor,
		Currency:  p.Currency,
	}, nil
}

// Settle sets the provider-side status of a payment.
func (s *Sandbox) Settle(id string, status dompay.GatewayStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	p.Status = status
	return nil
}

// Tamper overrides the captured amount, simulating a provider that charged something else.
func (s *Sandbox) Tamper(id string, minor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	p.Amount = minor
	return nil
}

// FailNext makes the next gateway call return err.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Sandbox) Refunds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunds
}

func (s *Sandbox) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}
