package payment

import (
	"context"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const useCaseRefund = "payment.refund"

type RefundInput struct {
	Principal     identity.Principal
	TransactionID string
	// Amount nil means a full refund.
	Amount *decimal.Decimal
	Reason string
}

type RefundResult struct {
	ID            string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Status        dompay.GatewayStatus
}

// RefundPaymentUseCase refunds a completed transaction. The order moves to
// returned when its lifecycle allows it and otherwise keeps its status.
// The gateway call is made once and never retried.
type RefundPaymentUseCase struct {
	*reconciler
}

func NewRefundPaymentUseCase(d Deps, tel observability.Observability) *RefundPaymentUseCase {
	return &RefundPaymentUseCase{reconciler: newReconciler(d, tel)}
}

func (uc *RefundPaymentUseCase) Execute(ctx context.Context, cmd RefundInput) (_ *RefundResult, err error) {
	const op = "payment.refund"
	ctx, call := uc.ins.Begin(ctx, useCaseRefund, "RefundPayment",
		attribute.String("transaction.id", cmd.TransactionID),
	)
	defer func() { call.End(err) }()

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		call.Fail("REASON_REQUIRED")
		return nil, apperr.Validation(op, "a refund reason is required")
	}
	tx, err := uc.findTransaction(ctx, op, uc.Transactions.FindByID, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	o, err := uc.Orders.FindByID(ctx, tx.OrderID)
	if err != nil {
		return nil, err
	}
	if aerr := domorder.CanUpdateStatus(cmd.Principal, o); aerr != nil {
		call.Fail("FORBIDDEN")
		return nil, apperr.Wrap(apperr.KindAuthorization, op, "only the seller or an admin may refund", aerr)
	}
	if terr := dompay.CanTransition(tx.Status, dompay.StatusRefunded); terr != nil || tx.Status != dompay.StatusCompleted {
		call.Fail("TRANSACTION_NOT_REFUNDABLE")
		return nil, apperr.New(apperr.KindInvalidTransition, op, "only completed transactions can be refunded, transaction is "+string(tx.Status))
	}
	amount, err := tx.RefundAmount(cmd.Amount)
	if err != nil {
		call.Fail("AMOUNT_INVALID")
		return nil, apperr.Wrap(apperr.KindValidation, op, "invalid refund amount", err)
	}

	start := time.Now()
	refund, err := uc.Gateway.Refund(ctx, tx.ExternalPaymentID, amount, reason)
	uc.ins.External(gatewayPeer, "refund", start, err)
	if err != nil {
		call.Fail("GATEWAY_REFUND_FAILED")
		return nil, apperr.Gateway(op, err)
	}

	// The money has moved; the local writes must finish even if the caller left.
	wctx := context.WithoutCancel(ctx)
	updated, applied, err := uc.transition(wctx, tx, dompay.Update{
		Status:         dompay.StatusRefunded,
		RefundID:       refund.ID,
		RefundedAmount: &amount,
	})
	if err != nil {
		call.Fail("TRANSACTION_UPDATE_FAILED")
		return nil, err
	}
	if applied {
		call.Publish(ctx, uc.Publisher, dompay.NewStatusEvent(updated))
	} else {
		call.Note("REFUND_RACED_WEBHOOK")
	}
	// A cancelled order keeps its status; only the money moves back.
	if domorder.CanTransition(o.Status, domorder.StatusReturned) == nil {
		uc.returnOrder(wctx, call, o.ID, reason)
	} else {
		call.Annotate(observability.F("order_status", string(o.Status)))
	}

	call.Annotate(
		observability.F("refund_id", refund.ID),
		observability.F("refund_amount", amount.StringFixed(2)),
	)
	return &RefundResult{
		ID:            refund.ID,
		TransactionID: updated.ID,
		Amount:        amount,
		Currency:      tx.Currency,
		Status:        refund.Status,
	}, nil
}
