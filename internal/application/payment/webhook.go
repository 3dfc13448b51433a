package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseWebhook = "payment.webhook"

// Webhook outcomes, also used as the metric label.
const (
	WebhookApplied        = "applied"
	WebhookNoop           = "noop"
	WebhookDuplicate      = "duplicate"
	WebhookUnknownPayment = "unknown_payment"
	WebhookIgnored        = "ignored"
	WebhookMalformed      = "malformed"
	WebhookError          = "error"
)

type WebhookInput struct {
	RawBody   []byte
	Signature string
}

type WebhookResult struct {
	Outcome       string
	TransactionID string
}

// HandleWebhookUseCase applies gateway callbacks. Only a bad signature is an
// error the gateway sees; every business condition is acknowledged.
type HandleWebhookUseCase struct {
	*reconciler
	events observability.Counter
}

func NewHandleWebhookUseCase(d Deps, tel observability.Observability) *HandleWebhookUseCase {
	r := newReconciler(d, tel)
	return &HandleWebhookUseCase{
		reconciler: r,
		events:     r.ins.Metrics().Counter(observability.MWebhookEvents),
	}
}

// DedupKey identifies one delivery of an event type for one payment.
func DedupKey(paymentID string, t dompay.EventType) string {
	return fmt.Sprintf("webhook:%s:%s", paymentID, t)
}

func (uc *HandleWebhookUseCase) Execute(ctx context.Context, cmd WebhookInput) (res *WebhookResult, err error) {
	const op = "payment.webhook"
	ctx, call := uc.ins.Begin(ctx, useCaseWebhook, "HandleWebhook",
		attribute.Int("webhook.body_bytes", len(cmd.RawBody)),
	)
	res = &WebhookResult{}
	var eventType dompay.EventType
	defer func() {
		outcome := res.Outcome
		if err != nil && outcome == "" {
			outcome = WebhookError
		}
		uc.events.Add(1,
			observability.L("type", string(eventType)),
			observability.L("outcome", outcome),
		)
		call.Annotate(observability.F("webhook_outcome", outcome))
		call.End(err)
	}()

	if verr := uc.Verifier.VerifyWebhookSignature(cmd.RawBody, cmd.Signature); verr != nil {
		call.Fail("INVALID_SIGNATURE")
		return res, fmt.Errorf("%s: %w", op, verr)
	}

	var evt dompay.WebhookEvent
	if jerr := json.Unmarshal(cmd.RawBody, &evt); jerr != nil || evt.Data.ID == "" {
		res.Outcome = WebhookMalformed
		call.Note("MALFORMED_EVENT")
		return res, nil
	}
	eventType = evt.Type
	call.Span.SetAttributes(
		attribute.String("webhook.type", string(evt.Type)),
		attribute.String("payment.id", evt.Data.ID),
	)
	switch evt.Type {
	case dompay.EventPaid, dompay.EventFailed, dompay.EventRefunded:
	default:
		res.Outcome = WebhookIgnored
		call.Note("EVENT_IGNORED")
		return res, nil
	}

	tx, ferr := uc.Transactions.FindByExternalID(ctx, evt.Data.ID)
	if ferr != nil {
		if errors.Is(ferr, dompay.ErrTransactionNotFound) {
			res.Outcome = WebhookUnknownPayment
			call.Note("UNKNOWN_PAYMENT")
			call.Log.Warn("webhook_unknown_payment", observability.F("payment_id", evt.Data.ID))
			return res, nil
		}
		return res, apperr.Internal(op, ferr)
	}
	res.TransactionID = tx.ID

	key := DedupKey(evt.Data.ID, evt.Type)
	claimed, derr := uc.Dedup.Claim(ctx, key)
	if derr != nil {
		// The conditional update below still guarantees idempotence.
		call.Log.Warn("webhook_dedup_unavailable", observability.F("error", derr.Error()))
		claimed = true
	}
	if !claimed {
		res.Outcome = WebhookDuplicate
		call.Note("DUPLICATE_DELIVERY")
		return res, nil
	}

	applied, err := uc.apply(ctx, call, tx, evt)
	if err != nil && !apperr.IsKind(err, apperr.KindAmountMismatch) {
		if rerr := uc.Dedup.Release(context.WithoutCancel(ctx), key); rerr != nil {
			call.Log.Warn("webhook_dedup_release_failed", observability.F("error", rerr.Error()))
		}
		return res, err
	}
	if err != nil {
		call.Note("AMOUNT_MISMATCH")
	}
	if applied {
		res.Outcome = WebhookApplied
	} else {
		res.Outcome = WebhookNoop
	}
	return res, nil
}

func (uc *HandleWebhookUseCase) apply(ctx context.Context, call *application.Call, tx *dompay.Transaction, evt dompay.WebhookEvent) (bool, error) {
	switch evt.Type {
	case dompay.EventPaid:
		o, err := uc.Orders.FindByID(ctx, tx.OrderID)
		if err != nil {
			return false, err
		}
		_, applied, err := uc.settle(ctx, call, tx, o, dompay.GatewayPayment{
			ID:       evt.Data.ID,
			Status:   dompay.GatewayPaid,
			Amount:   evt.Data.Amount,
			Currency: evt.Data.Currency,
		})
		return applied, err

	case dompay.EventFailed:
		if tx.Status != dompay.StatusPending {
			return false, nil
		}
		updated, applied, err := uc.transition(ctx, tx, dompay.Update{
			Status:        dompay.StatusFailed,
			FailureReason: "gateway reported failed",
		})
		if applied {
			call.Publish(ctx, uc.Publisher, dompay.NewStatusEvent(updated))
		}
		return applied, err

	case dompay.EventRefunded:
		if tx.Status != dompay.StatusPending && tx.Status != dompay.StatusCompleted {
			return false, nil
		}
		refunded := dompay.FromMinorUnits(evt.Data.Amount)
		if evt.Data.Amount <= 0 {
			refunded = tx.Amount
		}
		updated, applied, err := uc.transition(ctx, tx, dompay.Update{
			Status:         dompay.StatusRefunded,
			RefundedAmount: &refunded,
		})
		if err != nil || !applied {
			return applied, err
		}
		call.Publish(ctx, uc.Publisher, dompay.NewStatusEvent(updated))
		uc.returnOrder(ctx, call, tx.OrderID, "payment refunded by gateway")
		return true, nil

	default:
		return false, nil
	}
}
