package payment

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseSweep = "payment.sweep"

type SweepInput struct {
	Now time.Time
	// Lookback bounds how far back the sweep scans.
	Lookback time.Duration
	// Grace leaves fresh completions to the request that produced them.
	Grace time.Duration
	// StaleAfter is how long a pending transaction waits before the gateway is asked.
	StaleAfter time.Duration
	Limit      int
}

type SweepResult struct {
	Checked   int
	Confirmed int
	Settled   int
	Failed    int
}

// SweepUseCase is the reconciliation job behind confirmPayment's dual write:
// completed transactions whose order is still pending get the order confirmed,
// and stale pending transactions are settled from the gateway's view.
type SweepUseCase struct {
	*reconciler
}

func NewSweepUseCase(d Deps, tel observability.Observability) *SweepUseCase {
	return &SweepUseCase{reconciler: newReconciler(d, tel)}
}

func (uc *SweepUseCase) Execute(ctx context.Context, cmd SweepInput) (_ *SweepResult, err error) {
	const op = "payment.sweep"
	ctx, call := uc.ins.Begin(ctx, useCaseSweep, "SweepPayments",
		attribute.Int("sweep.limit", cmd.Limit),
	)
	res := &SweepResult{}
	defer func() {
		call.Annotate(
			observability.F("checked", res.Checked),
			observability.F("confirmed", res.Confirmed),
			observability.F("settled", res.Settled),
			observability.F("failed", res.Failed),
		)
		call.End(err)
	}()

	if cmd.Now.IsZero() {
		cmd.Now = time.Now().UTC()
	}
	if cmd.Limit <= 0 {
		cmd.Limit = 100
	}
	from := cmd.Now.Add(-cmd.Lookback)

	completed, err := uc.Transactions.ListByStatus(ctx, dompay.StatusCompleted, from, cmd.Now.Add(-cmd.Grace), cmd.Limit)
	if err != nil {
		return res, apperr.Internal(op, err)
	}
	for _, tx := range completed {
		res.Checked++
		o, ferr := uc.Orders.FindByID(ctx, tx.OrderID)
		if ferr != nil {
			res.Failed++
			continue
		}
		if o.Status != domorder.StatusPending {
			continue
		}
		if cerr := uc.confirmOrder(ctx, o.ID); cerr != nil {
			res.Failed++
			call.Log.Warn("sweep_confirm_failed",
				observability.F("order_id", o.ID),
				observability.F("error", cerr.Error()),
			)
			continue
		}
		res.Confirmed++
	}

	pending, err := uc.Transactions.ListByStatus(ctx, dompay.StatusPending, from, cmd.Now.Add(-cmd.StaleAfter), cmd.Limit)
	if err != nil {
		return res, apperr.Internal(op, err)
	}
	for _, tx := range pending {
		res.Checked++
		if serr := uc.settleStale(ctx, call, tx); serr != nil {
			res.Failed++
			call.Log.Warn("sweep_settle_failed",
				observability.F("transaction_id", tx.ID),
				observability.F("error", serr.Error()),
			)
			continue
		}
		res.Settled++
	}
	return res, nil
}

func (uc *SweepUseCase) settleStale(ctx context.Context, call *application.Call, tx *dompay.Transaction) error {
	o, err := uc.Orders.FindByID(ctx, tx.OrderID)
	if err != nil {
		return err
	}
	start := time.Now()
	gp, err := uc.Gateway.GetPayment(ctx, tx.ExternalPaymentID)
	uc.ins.External(gatewayPeer, "get_payment", start, err)
	if err != nil {
		return err
	}
	_, _, err = uc.settle(ctx, call, tx, o, gp)
	return err
}
