package payment

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const useCaseCreateIntent = "payment.create_intent"

type CreateIntentInput struct {
	Principal identity.Principal
	OrderID   string
	Source    dompay.Source
}

type IntentResult struct {
	ID             string
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	Status         dompay.GatewayStatus
	TransactionURL string
}

// CreateIntentUseCase opens a gateway payment for a pending order and records
// a pending transaction for it. A previous pending attempt is first settled from
// the gateway's view and only superseded if the buyer never paid it.
type CreateIntentUseCase struct {
	*reconciler
}

func NewCreateIntentUseCase(d Deps, tel observability.Observability) *CreateIntentUseCase {
	return &CreateIntentUseCase{reconciler: newReconciler(d, tel)}
}

func (uc *CreateIntentUseCase) Execute(ctx context.Context, cmd CreateIntentInput) (_ *IntentResult, err error) {
	const op = "payment.create_intent"
	ctx, call := uc.ins.Begin(ctx, useCaseCreateIntent, "CreatePaymentIntent",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { call.End(err) }()

	if cmd.Source == nil {
		call.Fail("SOURCE_REQUIRED")
		return nil, apperr.Validation(op, "payment source is required")
	}
	call.Span.SetAttributes(attribute.String("payment.method", string(cmd.Source.Method())))

	o, err := uc.Orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if cmd.Principal.UserID != o.BuyerID {
		call.Fail("FORBIDDEN")
		return nil, apperr.Forbidden(op, "only the buyer may pay for an order")
	}
	if o.Status != domorder.StatusPending {
		call.Fail("ORDER_NOT_PAYABLE")
		return nil, apperr.New(apperr.KindInvalidTransition, op, "order is "+string(o.Status)+", not awaiting payment")
	}

	stale, err := uc.Transactions.FindPendingByOrder(ctx, o.ID)
	switch {
	case err == nil:
		if rerr := uc.retire(ctx, call, o, stale); rerr != nil {
			return nil, rerr
		}
	case errors.Is(err, dompay.ErrTransactionNotFound):
	default:
		call.Fail("TRANSACTION_LOOKUP_FAILED")
		return nil, apperr.Internal(op, err)
	}

	txID := uc.IDs.NewID()
	start := time.Now()
	intent, err := uc.Gateway.CreateIntent(ctx, dompay.IntentRequest{
		TransactionID: txID,
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		Amount:        o.Total,
		Currency:      o.Currency,
		Description:   "Order " + o.Number,
		Source:        cmd.Source,
	})
	uc.ins.External(gatewayPeer, "create_intent", start, err)
	if err != nil {
		call.Fail("GATEWAY_CREATE_FAILED")
		return nil, apperr.Gateway(op, err)
	}

	tx, err := dompay.NewTransaction(txID, o.ID, intent.ID, o.Total, o.Currency, cmd.Source.Method())
	if err != nil {
		call.Fail("TRANSACTION_INVALID")
		return nil, apperr.Wrap(apperr.KindValidation, op, "invalid transaction", err)
	}
	if err := uc.Transactions.Insert(ctx, tx); err != nil {
		if errors.Is(err, dompay.ErrPendingExists) {
			call.Fail("PENDING_EXISTS")
			return nil, apperr.Wrap(apperr.KindConflict, op, "another payment attempt is in progress", err)
		}
		call.Fail("TRANSACTION_INSERT_FAILED")
		return nil, apperr.Internal(op, err)
	}
	call.Publish(ctx, uc.Publisher, dompay.NewIntentCreatedEvent(tx))

	call.Annotate(
		observability.F("transaction_id", tx.ID),
		observability.F("payment_id", intent.ID),
	)
	return &IntentResult{
		ID:             intent.ID,
		TransactionID:  tx.ID,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Status:         intent.Status,
		TransactionURL: intent.TransactionURL,
	}, nil
}

// retire settles a previous pending attempt before a new one is opened. An
// attempt the gateway reports as paid completes instead, and the order is no
// longer payable. Only an attempt still initiated is marked superseded.
func (uc *CreateIntentUseCase) retire(ctx context.Context, call *application.Call, o *domorder.Order, stale *dompay.Transaction) error {
	const op = "payment.create_intent"
	start := time.Now()
	gp, err := uc.Gateway.GetPayment(ctx, stale.ExternalPaymentID)
	uc.ins.External(gatewayPeer, "get_payment", start, err)
	if err != nil {
		call.Fail("GATEWAY_FETCH_FAILED")
		return apperr.Gateway(op, err)
	}
	call.Annotate(
		observability.F("previous_transaction_id", stale.ID),
		observability.F("previous_gateway_status", string(gp.Status)),
	)

	settled, _, err := uc.settle(ctx, call, stale, o, gp)
	if err != nil {
		call.FailWith(err)
		return err
	}
	switch settled.Status {
	case dompay.StatusFailed:
		return nil
	case dompay.StatusPending:
	default:
		call.Fail("ALREADY_PAID")
		return apperr.New(apperr.KindInvalidTransition, op, "order has already been paid")
	}
	if gp.Status != dompay.GatewayInitiated {
		call.Fail("PAYMENT_IN_PROGRESS")
		return apperr.New(apperr.KindConflict, op, "previous payment attempt is "+string(gp.Status)+" at the gateway")
	}

	superseded, _, err := uc.transition(ctx, settled, dompay.Update{
		Status:        dompay.StatusFailed,
		FailureReason: "superseded by a new payment attempt",
	})
	if err != nil {
		call.Fail("SUPERSEDE_FAILED")
		return err
	}
	if superseded.Status != dompay.StatusFailed {
		// A callback settled the attempt between the gateway read and this write.
		call.Fail("ALREADY_PAID")
		return apperr.New(apperr.KindInvalidTransition, op, "order has already been paid")
	}
	call.Annotate(observability.F("superseded_transaction_id", stale.ID))
	return nil
}
