// Package payment reconciles gateway payment state with transactions and orders.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/cenkalti/backoff/v4"
)

const (
	paymentService = "payment-service"
	gatewayPeer    = "payment-gateway"
)

// closedOrderError reports an order that can no longer take a payment.
type closedOrderError struct {
	orderID string
	status  domorder.Status
}

func (e *closedOrderError) Error() string {
	return fmt.Sprintf("payment: order %s is %s", e.orderID, e.status)
}

// Deps are the collaborators shared by every payment use case.
type Deps struct {
	Transactions dompay.Repository
	Orders       OrderReader
	Lifecycle    OrderLifecycle
	Gateway      dompay.Gateway
	Verifier     dompay.SignatureVerifier
	Dedup        Deduplicator
	IDs          IDGenerator
	Publisher    domoutbox.Publisher
	// ConfirmBackOff builds the retry schedule for confirming an order once its payment completed.
	ConfirmBackOff func() backoff.BackOff
}

type reconciler struct {
	Deps
	ins      application.Instrumentation
	stranded observability.Counter
}

func newReconciler(d Deps, tel observability.Observability) *reconciler {
	if d.ConfirmBackOff == nil {
		d.ConfirmBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return backoff.WithMaxRetries(b, 5)
		}
	}
	if d.Dedup == nil {
		d.Dedup = noDedup{}
	}
	ins := application.NewInstrumentation(paymentService, tel)
	return &reconciler{
		Deps:     d,
		ins:      ins,
		stranded: ins.Metrics().Counter(observability.MPaymentsStranded),
	}
}

// transition moves tx from its current status to u.Status. When another writer
// got there first the fresh row is returned with applied=false.
func (r *reconciler) transition(ctx context.Context, tx *dompay.Transaction, u dompay.Update) (*dompay.Transaction, bool, error) {
	const op = "payment.transition"
	if err := dompay.CanTransition(tx.Status, u.Status); err != nil {
		return tx, false, apperr.InvalidTransition(op, err)
	}
	updated, err := r.Transactions.Transition(ctx, tx.ID, tx.Status, u)
	switch {
	case err == nil:
		return updated, true, nil
	case errors.Is(err, dompay.ErrStatusConflict):
		fresh, ferr := r.Transactions.FindByID(ctx, tx.ID)
		if ferr != nil {
			return tx, false, apperr.Internal(op, ferr)
		}
		return fresh, false, nil
	case errors.Is(err, dompay.ErrTransactionNotFound):
		return tx, false, apperr.NotFound(op, err)
	default:
		return tx, false, apperr.Internal(op, err)
	}
}

// settle applies a gateway observation to a transaction. It is safe to call
// any number of times with the same observation.
func (r *reconciler) settle(ctx context.Context, call *application.Call, tx *dompay.Transaction, o *domorder.Order, gp dompay.GatewayPayment) (*dompay.Transaction, bool, error) {
	const op = "payment.settle"
	if tx.Status != dompay.StatusPending {
		if tx.Status == dompay.StatusCompleted {
			r.ensureConfirmed(ctx, call, tx, false)
		}
		return tx, false, nil
	}

	if !dompay.IsSuccessful(gp.Status) {
		switch gp.Status {
		case dompay.GatewayFailed, dompay.GatewayVoided:
			updated, applied, err := r.transition(ctx, tx, dompay.Update{
				Status:        dompay.StatusFailed,
				FailureReason: "gateway reported " + string(gp.Status),
			})
			if applied {
				call.Publish(ctx, r.Publisher, dompay.NewStatusEvent(updated))
			}
			return updated, applied, err
		default:
			return tx, false, nil
		}
	}

	if merr := checkAmount(gp, o); merr != nil {
		updated, applied, err := r.transition(ctx, tx, dompay.Update{
			Status:        dompay.StatusFailed,
			FailureReason: merr.Error(),
		})
		if err != nil {
			return updated, applied, err
		}
		if !applied {
			// Another writer settled first; its outcome stands.
			return updated, false, nil
		}
		call.Publish(ctx, r.Publisher, dompay.NewStatusEvent(updated))
		return updated, true, apperr.Wrap(apperr.KindAmountMismatch, op, "gateway amount does not match the order total", merr)
	}

	updated, applied, err := r.transition(ctx, tx, dompay.Update{Status: dompay.StatusCompleted})
	if err != nil {
		return updated, applied, err
	}
	if applied {
		call.Publish(ctx, r.Publisher, dompay.NewStatusEvent(updated))
	}
	if updated.Status == dompay.StatusCompleted {
		r.ensureConfirmed(ctx, call, updated, applied)
	}
	return updated, applied, nil
}

// ensureConfirmed retries the order half of the payment dual-write. If it still
// fails the sweep job picks the order up later. When report is set, money
// captured for a closed order is counted and published so it can be refunded.
func (r *reconciler) ensureConfirmed(ctx context.Context, call *application.Call, tx *dompay.Transaction, report bool) {
	orderID := tx.OrderID
	err := r.confirmOrder(context.WithoutCancel(ctx), orderID)
	var closed *closedOrderError
	switch {
	case err == nil:
	case errors.As(err, &closed):
		call.Log.Warn("order_not_confirmable",
			observability.F("order_id", orderID),
			observability.F("transaction_id", tx.ID),
			observability.F("error", err.Error()),
		)
		if report {
			r.stranded.Add(1, observability.L("order_status", string(closed.status)))
			call.Note("PAYMENT_STRANDED")
			call.Publish(ctx, r.Publisher, dompay.NewStrandedEvent(tx, string(closed.status)))
		}
	default:
		call.Note("ORDER_CONFIRM_DEFERRED")
		call.Log.Error("order_confirm_deferred",
			observability.F("order_id", orderID),
			observability.F("error", err.Error()),
		)
	}
}

func (r *reconciler) confirmOrder(ctx context.Context, orderID string) error {
	return backoff.Retry(func() error {
		o, err := r.Orders.FindByID(ctx, orderID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		switch o.Status {
		case domorder.StatusPending:
		case domorder.StatusCancelled, domorder.StatusReturned:
			return backoff.Permanent(&closedOrderError{orderID: o.ID, status: o.Status})
		default:
			return nil
		}
		_, err = r.Lifecycle.Advance(ctx, o, domorder.StatusUpdate{Status: domorder.StatusConfirmed})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.ConfirmBackOff(), ctx))
}

// returnOrder moves the order to returned when the lifecycle still allows it.
func (r *reconciler) returnOrder(ctx context.Context, call *application.Call, orderID, reason string) {
	ctx = context.WithoutCancel(ctx)
	err := backoff.Retry(func() error {
		o, err := r.Orders.FindByID(ctx, orderID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		if o.Status == domorder.StatusReturned {
			return nil
		}
		if terr := domorder.CanTransition(o.Status, domorder.StatusReturned); terr != nil {
			return backoff.Permanent(terr)
		}
		_, err = r.Lifecycle.Advance(ctx, o, domorder.StatusUpdate{Status: domorder.StatusReturned, Reason: reason})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.ConfirmBackOff(), ctx))
	if err != nil {
		call.Log.Warn("order_return_skipped",
			observability.F("order_id", orderID),
			observability.F("error", err.Error()),
		)
	}
}

func (r *reconciler) findTransaction(ctx context.Context, op string, find func(context.Context, string) (*dompay.Transaction, error), key string) (*dompay.Transaction, error) {
	tx, err := find(ctx, key)
	switch {
	case err == nil:
		return tx, nil
	case errors.Is(err, dompay.ErrTransactionNotFound):
		return nil, apperr.NotFound(op, err)
	default:
		return nil, apperr.Internal(op, err)
	}
}

// checkAmount compares the gateway amount with the order total in minor units.
func checkAmount(gp dompay.GatewayPayment, o *domorder.Order) error {
	expected := dompay.ToMinorUnits(o.Total)
	if gp.Amount != expected {
		return fmt.Errorf("amount mismatch: gateway %d, expected %d", gp.Amount, expected)
	}
	if gp.Currency != "" && o.Currency != "" && !strings.EqualFold(gp.Currency, o.Currency) {
		return fmt.Errorf("currency mismatch: gateway %s, expected %s", gp.Currency, o.Currency)
	}
	return nil
}

func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindConflict:
		return true
	default:
		return false
	}
}

type noDedup struct{}

func (noDedup) Claim(context.Context, string) (bool, error) { return true, nil }
func (noDedup) Release(context.Context, string) error       { return nil }
