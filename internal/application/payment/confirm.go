package payment

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseConfirm = "payment.confirm"

type ConfirmPaymentInput struct {
	Principal identity.Principal
	PaymentID string
}

// ConfirmPaymentUseCase is the synchronous path taken after the buyer returns
// from the gateway redirect.
type ConfirmPaymentUseCase struct {
	*reconciler
}

func NewConfirmPaymentUseCase(d Deps, tel observability.Observability) *ConfirmPaymentUseCase {
	return &ConfirmPaymentUseCase{reconciler: newReconciler(d, tel)}
}

func (uc *ConfirmPaymentUseCase) Execute(ctx context.Context, cmd ConfirmPaymentInput) (_ *dompay.Transaction, err error) {
	const op = "payment.confirm"
	ctx, call := uc.ins.Begin(ctx, useCaseConfirm, "ConfirmPayment",
		attribute.String("payment.id", cmd.PaymentID),
	)
	defer func() { call.End(err) }()

	if cmd.PaymentID == "" {
		call.Fail("PAYMENT_ID_REQUIRED")
		return nil, apperr.Validation(op, "payment id is required")
	}
	tx, err := uc.findTransaction(ctx, op, uc.Transactions.FindByExternalID, cmd.PaymentID)
	if err != nil {
		return nil, err
	}
	o, err := uc.Orders.FindByID(ctx, tx.OrderID)
	if err != nil {
		return nil, err
	}
	if !cmd.Principal.Owns(o.BuyerID) {
		call.Fail("FORBIDDEN")
		return nil, apperr.Forbidden(op, "payment belongs to another buyer")
	}

	start := time.Now()
	gp, err := uc.Gateway.GetPayment(ctx, cmd.PaymentID)
	uc.ins.External(gatewayPeer, "get_payment", start, err)
	if err != nil {
		call.Fail("GATEWAY_FETCH_FAILED")
		return nil, apperr.Gateway(op, err)
	}
	call.Span.SetAttributes(
		attribute.String("payment.gateway_status", string(gp.Status)),
		attribute.Int64("payment.amount_minor", gp.Amount),
	)

	updated, applied, err := uc.settle(ctx, call, tx, o, gp)
	if err != nil {
		if apperr.IsKind(err, apperr.KindAmountMismatch) {
			call.Fail("AMOUNT_MISMATCH")
		}
		return nil, err
	}
	if !applied {
		call.Note("NO_CHANGE")
	}
	call.Annotate(
		observability.F("transaction_id", updated.ID),
		observability.F("transaction_status", string(updated.Status)),
	)
	return updated, nil
}
