package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/ledger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/gateway"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	buyer  = identity.Principal{UserID: "buyer-1", Role: identity.RoleBuyer}
	seller = identity.Principal{UserID: "seller-1", Role: identity.RoleSeller}
	admin  = identity.Principal{UserID: "admin-1", Role: identity.RoleAdmin}
	card   = dompay.CreditCard{Name: "Sara", Number: "4111111111111111", Month: 12, Year: 2030, CVC: "123"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.EventName() == name {
			return true
		}
	}
	return false
}

type fixture struct {
	ledger    *ledger.Ledger
	lifecycle *checkout.Lifecycle
	txs       *memory.TransactionRepository
	sandbox   *gateway.Sandbox
	verifier  *gateway.HMACVerifier
	pub       *recordingPublisher

	intent  *CreateIntentUseCase
	confirm *ConfirmPaymentUseCase
	webhook *HandleWebhookUseCase
	refund  *RefundPaymentUseCase
	sweep   *SweepUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tel := observability.Nop()
	fast := func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }

	l := ledger.New(memory.NewOrderRepository(), id.NewUUIDGenerator(), id.NewOrderNumbers(), tel)
	pub := &recordingPublisher{}
	lifecycle := checkout.NewLifecycle(l, memory.NewInventoryRepository(), pub, tel, checkout.WithRestockBackOff(fast))
	txs := memory.NewTransactionRepository()
	sandbox := gateway.NewSandbox()
	verifier := gateway.NewHMACVerifier("whsec_test")
	d := Deps{
		Transactions:   txs,
		Orders:         l,
		Lifecycle:      lifecycle,
		Gateway:        sandbox,
		Verifier:       verifier,
		Dedup:          memory.NewDeduplicator(),
		IDs:            id.NewUUIDGenerator(),
		Publisher:      pub,
		ConfirmBackOff: fast,
	}
	return &fixture{
		ledger:    l,
		lifecycle: lifecycle,
		txs:       txs,
		sandbox:   sandbox,
		verifier:  verifier,
		pub:       pub,
		intent:    NewCreateIntentUseCase(d, tel),
		confirm:   NewConfirmPaymentUseCase(d, tel),
		webhook:   NewHandleWebhookUseCase(d, tel),
		refund:    NewRefundPaymentUseCase(d, tel),
		sweep:     NewSweepUseCase(d, tel),
	}
}

// order persists a pending order totalling 61.00 SAR.
func (f *fixture) order(t *testing.T) *domorder.Order {
	t.Helper()
	it, err := domorder.NewItem("", "p1", "Beans", "", 2, decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	items := []domorder.Item{it}
	o, err := f.ledger.CreateOrder(context.Background(), ledger.Draft{
		BuyerID:         buyer.UserID,
		SellerID:        seller.UserID,
		Currency:        "SAR",
		Items:           items,
		Pricing:         domorder.NewPricing(items, decimal.NewFromInt(10), decimal.Zero),
		ShippingAddress: domorder.ShippingAddress{Line1: "l1", City: "Riyadh", Country: "SA"},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) pay(t *testing.T, o *domorder.Order) *IntentResult {
	t.Helper()
	res, err := f.intent.Execute(context.Background(), CreateIntentInput{Principal: buyer, OrderID: o.ID, Source: card})
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T, orderID string) domorder.Status {
	t.Helper()
	o, err := f.ledger.FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}

func (f *fixture) tx(t *testing.T, id string) *dompay.Transaction {
	t.Helper()
	tx, err := f.txs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func (f *fixture) deliver(t *testing.T, orderID string) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []domorder.Status{domorder.StatusProcessing, domorder.StatusShipped, domorder.StatusDelivered} {
		o, err := f.ledger.FindByID(ctx, orderID)
		require.NoError(t, err)
		_, err = f.lifecycle.Advance(ctx, o, domorder.StatusUpdate{Status: s})
		require.NoError(t, err)
	}
}

func (f *fixture) deliverWebhook(t *testing.T, typ dompay.EventType, paymentID string, minor int64) (*WebhookResult, error) {
	t.Helper()
	body, err := json.Marshal(dompay.WebhookEvent{
		Type: typ,
		Data: dompay.WebhookPayment{ID: paymentID, Status: dompay.GatewayPaid, Amount: minor, Currency: "SAR"},
	})
	require.NoError(t, err)
	return f.webhook.Execute(context.Background(), WebhookInput{RawBody: body, Signature: f.verifier.Sign(body)})
}

func TestCreateIntentRecordsPendingTransaction(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)

	res := f.pay(t, o)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, dompay.GatewayInitiated, res.Status)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(61)))
	assert.Contains(t, res.TransactionURL, res.ID)

	tx := f.tx(t, res.TransactionID)
	assert.Equal(t, dompay.StatusPending, tx.Status)
	assert.Equal(t, res.ID, tx.ExternalPaymentID)
	assert.Equal(t, dompay.MethodCreditCard, tx.PaymentMethod)

	gp, err := f.sandbox.GetPayment(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6100), gp.Amount)
	assert.True(t, f.pub.has("payment.intent_created"))
}

func TestCreateIntentSupersedesStaleAttempt(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)

	first := f.pay(t, o)
	second := f.pay(t, o)

	assert.NotEqual(t, first.TransactionID, second.TransactionID)
	old := f.tx(t, first.TransactionID)
	assert.Equal(t, dompay.StatusFailed, old.Status)
	assert.Contains(t, old.FailureReason, "superseded")
	assert.Equal(t, dompay.StatusPending, f.tx(t, second.TransactionID).Status)
}

func TestCreateIntentCompletesPaidStaleAttempt(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	ctx := context.Background()
	first := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(first.ID, dompay.GatewayPaid))

	_, err := f.intent.Execute(ctx, CreateIntentInput{Principal: buyer, OrderID: o.ID, Source: card})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	assert.Equal(t, dompay.StatusCompleted, f.tx(t, first.TransactionID).Status)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))

	res, err := f.deliverWebhook(t, dompay.EventPaid, first.ID, 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookNoop, res.Outcome)
}

func TestCreateIntentWaitsForAuthorizedAttempt(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	ctx := context.Background()
	first := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(first.ID, dompay.GatewayAuthorized))

	_, err := f.intent.Execute(ctx, CreateIntentInput{Principal: buyer, OrderID: o.ID, Source: card})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, dompay.StatusPending, f.tx(t, first.TransactionID).Status)

	require.NoError(t, f.sandbox.Settle(first.ID, dompay.GatewayFailed))
	second := f.pay(t, o)
	assert.NotEqual(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, dompay.StatusFailed, f.tx(t, first.TransactionID).Status)
	assert.Equal(t, dompay.StatusPending, f.tx(t, second.TransactionID).Status)
}

func TestCreateIntentRejections(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	ctx := context.Background()

	_, err := f.intent.Execute(ctx, CreateIntentInput{Principal: buyer, OrderID: o.ID})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.intent.Execute(ctx, CreateIntentInput{Principal: seller, OrderID: o.ID, Source: card})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.intent.Execute(ctx, CreateIntentInput{Principal: buyer, OrderID: "missing", Source: card})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	f.sandbox.FailNext(errors.New("connection reset"))
	_, err = f.intent.Execute(ctx, CreateIntentInput{Principal: buyer, OrderID: o.ID, Source: card})
	assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))

	_, err = f.lifecycle.Advance(ctx, o, domorder.StatusUpdate{Status: domorder.StatusCancelled})
	require.NoError(t, err)
	_, err = f.intent.Execute(ctx, CreateIntentInput{Principal: buyer, OrderID: o.ID, Source: card})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestConfirmPaidPaymentConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(intent.ID, dompay.GatewayPaid))

	tx, err := f.confirm.Execute(context.Background(), ConfirmPaymentInput{Principal: buyer, PaymentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusCompleted, tx.Status)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))
	assert.True(t, f.pub.has("payment.completed"))

	again, err := f.confirm.Execute(context.Background(), ConfirmPaymentInput{Principal: buyer, PaymentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusCompleted, again.Status)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))
}

func TestConfirmLeavesUnsettledPaymentPending(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)

	tx, err := f.confirm.Execute(context.Background(), ConfirmPaymentInput{Principal: buyer, PaymentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusPending, tx.Status)
	assert.Equal(t, domorder.StatusPending, f.status(t, o.ID))
}

func TestConfirmFailedPayment(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(intent.ID, dompay.GatewayFailed))

	tx, err := f.confirm.Execute(context.Background(), ConfirmPaymentInput{Principal: buyer, PaymentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusFailed, tx.Status)
	assert.Equal(t, domorder.StatusPending, f.status(t, o.ID))
}

func TestConfirmAmountMismatchFailsTransaction(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(intent.ID, dompay.GatewayPaid))
	require.NoError(t, f.sandbox.Tamper(intent.ID, 100))

	_, err := f.confirm.Execute(context.Background(), ConfirmPaymentInput{Principal: buyer, PaymentID: intent.ID})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAmountMismatch, apperr.KindOf(err))

	tx := f.tx(t, intent.TransactionID)
	assert.Equal(t, dompay.StatusFailed, tx.Status)
	assert.Contains(t, tx.FailureReason, "amount mismatch")
	assert.Equal(t, domorder.StatusPending, f.status(t, o.ID))
}

func TestConfirmRejections(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	ctx := context.Background()

	_, err := f.confirm.Execute(ctx, ConfirmPaymentInput{Principal: buyer})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.confirm.Execute(ctx, ConfirmPaymentInput{Principal: buyer, PaymentID: "pay_unknown"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	stranger := identity.Principal{UserID: "buyer-2", Role: identity.RoleBuyer}
	_, err = f.confirm.Execute(ctx, ConfirmPaymentInput{Principal: stranger, PaymentID: intent.ID})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	f.sandbox.FailNext(errors.New("timeout"))
	_, err = f.confirm.Execute(ctx, ConfirmPaymentInput{Principal: admin, PaymentID: intent.ID})
	assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
}

func TestWebhookPaidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)

	res, err := f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)
	assert.Equal(t, intent.TransactionID, res.TransactionID)
	assert.Equal(t, dompay.StatusCompleted, f.tx(t, intent.TransactionID).Status)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))

	res, err = f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Outcome)

	// A delivery that slips past dedup is still a no-op.
	require.NoError(t, f.webhook.Dedup.Release(context.Background(), DedupKey(intent.ID, dompay.EventPaid)))
	res, err = f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookNoop, res.Outcome)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))
}

func TestWebhookAfterConfirmIsNoop(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(intent.ID, dompay.GatewayPaid))
	_, err := f.confirm.Execute(context.Background(), ConfirmPaymentInput{Principal: buyer, PaymentID: intent.ID})
	require.NoError(t, err)

	res, err := f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookNoop, res.Outcome)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))
}

func TestWebhookAmountMismatch(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)

	res, err := f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6000)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)
	assert.Equal(t, dompay.StatusFailed, f.tx(t, intent.TransactionID).Status)
	assert.Equal(t, domorder.StatusPending, f.status(t, o.ID))
}

func TestWebhookFailedEvent(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)

	res, err := f.deliverWebhook(t, dompay.EventFailed, intent.ID, 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)
	assert.Equal(t, dompay.StatusFailed, f.tx(t, intent.TransactionID).Status)
	assert.True(t, f.pub.has("payment.failed"))
}

func TestWebhookRefundedEvent(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	_, err := f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)
	f.deliver(t, o.ID)

	res, err := f.deliverWebhook(t, dompay.EventRefunded, intent.ID, 2000)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)

	tx := f.tx(t, intent.TransactionID)
	assert.Equal(t, dompay.StatusRefunded, tx.Status)
	assert.True(t, tx.RefundedAmount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, domorder.StatusReturned, f.status(t, o.ID))
}

func TestWebhookAcknowledgesNonActionableEvents(t *testing.T) {
	f := newFixture(t)

	res, err := f.deliverWebhook(t, dompay.EventPaid, "pay_unknown", 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookUnknownPayment, res.Outcome)

	res, err = f.deliverWebhook(t, dompay.EventType("payment.authorized"), "pay_unknown", 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)

	body := []byte(`{"type":"payment.paid"}`)
	res, err = f.webhook.Execute(context.Background(), WebhookInput{RawBody: body, Signature: f.verifier.Sign(body)})
	require.NoError(t, err)
	assert.Equal(t, WebhookMalformed, res.Outcome)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)

	body, err := json.Marshal(dompay.WebhookEvent{
		Type: dompay.EventPaid,
		Data: dompay.WebhookPayment{ID: intent.ID, Amount: 6100, Currency: "SAR"},
	})
	require.NoError(t, err)

	_, err = f.webhook.Execute(context.Background(), WebhookInput{RawBody: body, Signature: "deadbeef"})
	assert.ErrorIs(t, err, dompay.ErrInvalidSignature)
	assert.Equal(t, dompay.StatusPending, f.tx(t, intent.TransactionID).Status)
}

func TestRefundReturnsOrder(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	_, err := f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)
	f.deliver(t, o.ID)

	part := decimal.RequireFromString("20.50")
	res, err := f.refund.Execute(context.Background(), RefundInput{
		Principal:     seller,
		TransactionID: intent.TransactionID,
		Amount:        &part,
		Reason:        "damaged",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.True(t, res.Amount.Equal(part))
	assert.Equal(t, 1, f.sandbox.Refunds())

	tx := f.tx(t, intent.TransactionID)
	assert.Equal(t, dompay.StatusRefunded, tx.Status)
	assert.Equal(t, res.ID, tx.RefundID)
	assert.True(t, tx.RefundedAmount.Equal(part))
	assert.Equal(t, domorder.StatusReturned, f.status(t, o.ID))

	_, err = f.refund.Execute(context.Background(), RefundInput{Principal: admin, TransactionID: intent.TransactionID, Reason: "again"})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	assert.Equal(t, 1, f.sandbox.Refunds())
}

func TestRefundRejections(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	ctx := context.Background()

	_, err := f.refund.Execute(ctx, RefundInput{Principal: admin, TransactionID: intent.TransactionID})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.refund.Execute(ctx, RefundInput{Principal: admin, TransactionID: intent.TransactionID, Reason: "r"})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err), "pending transaction")

	_, err = f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)

	_, err = f.refund.Execute(ctx, RefundInput{Principal: buyer, TransactionID: intent.TransactionID, Reason: "r"})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	f.deliver(t, o.ID)
	over := decimal.RequireFromString("61.01")
	_, err = f.refund.Execute(ctx, RefundInput{Principal: admin, TransactionID: intent.TransactionID, Amount: &over, Reason: "r"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	f.sandbox.FailNext(errors.New("gateway down"))
	_, err = f.refund.Execute(ctx, RefundInput{Principal: admin, TransactionID: intent.TransactionID, Reason: "r"})
	assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
	assert.Equal(t, dompay.StatusCompleted, f.tx(t, intent.TransactionID).Status)
	assert.Equal(t, 0, f.sandbox.Refunds())
}

func TestRefundAfterPaidOrderCancelled(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	ctx := context.Background()
	intent := f.pay(t, o)
	_, err := f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)

	confirmed, err := f.ledger.FindByID(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Advance(ctx, confirmed, domorder.StatusUpdate{Status: domorder.StatusCancelled})
	require.NoError(t, err)

	res, err := f.refund.Execute(ctx, RefundInput{Principal: admin, TransactionID: intent.TransactionID, Reason: "cancelled"})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(61)))
	assert.Equal(t, 1, f.sandbox.Refunds())
	assert.Equal(t, dompay.StatusRefunded, f.tx(t, intent.TransactionID).Status)
	assert.Equal(t, domorder.StatusCancelled, f.status(t, o.ID))
}

func TestPaymentForCancelledOrderIsReportedStranded(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	ctx := context.Background()
	intent := f.pay(t, o)
	_, err := f.lifecycle.Advance(ctx, o, domorder.StatusUpdate{Status: domorder.StatusCancelled})
	require.NoError(t, err)

	res, err := f.deliverWebhook(t, dompay.EventPaid, intent.ID, 6100)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)
	assert.Equal(t, dompay.StatusCompleted, f.tx(t, intent.TransactionID).Status)
	assert.Equal(t, domorder.StatusCancelled, f.status(t, o.ID))
	assert.True(t, f.pub.has("payment.stranded"))

	_, err = f.refund.Execute(ctx, RefundInput{Principal: admin, TransactionID: intent.TransactionID, Reason: "order cancelled"})
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusRefunded, f.tx(t, intent.TransactionID).Status)
	assert.Equal(t, domorder.StatusCancelled, f.status(t, o.ID))
}

func TestSweepConfirmsOrphanedCompletion(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	ctx := context.Background()

	// Transaction completed but the order write never happened.
	_, err := f.txs.Transition(ctx, intent.TransactionID, dompay.StatusPending, dompay.Update{Status: dompay.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, domorder.StatusPending, f.status(t, o.ID))

	res, err := f.sweep.Execute(ctx, SweepInput{
		Now:        time.Now().Add(time.Minute),
		Lookback:   time.Hour,
		StaleAfter: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))
}

func TestSweepSettlesStalePending(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(intent.ID, dompay.GatewayPaid))

	res, err := f.sweep.Execute(context.Background(), SweepInput{
		Now:      time.Now().Add(time.Minute),
		Lookback: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)
	assert.Zero(t, res.Failed)
	assert.Equal(t, dompay.StatusCompleted, f.tx(t, intent.TransactionID).Status)
	assert.Equal(t, domorder.StatusConfirmed, f.status(t, o.ID))
}

func TestSweepSkipsFreshPending(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	intent := f.pay(t, o)
	require.NoError(t, f.sandbox.Settle(intent.ID, dompay.GatewayPaid))

	res, err := f.sweep.Execute(context.Background(), SweepInput{
		Now:        time.Now(),
		Lookback:   time.Hour,
		StaleAfter: 10 * time.Minute,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
	assert.Equal(t, dompay.StatusPending, f.tx(t, intent.TransactionID).Status)
}

type countingSweep struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSweep) Execute(context.Context, SweepInput) (*SweepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return &SweepResult{}, nil
}

func (c *countingSweep) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSweepWorkerRunsUntilCancelled(t *testing.T) {
	uc := &countingSweep{}
	w := NewSweepWorker(uc, 5*time.Millisecond, SweepInput{Lookback: time.Hour}, observability.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return uc.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
