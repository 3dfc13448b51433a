package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/cenkalti/backoff/v4"
)

const (
	lifecycleService  = "order-lifecycle"
	defaultRestockTry = 3
)

// Lifecycle applies guarded status changes and their side effects.
// Every status write in the service goes through Advance.
type Lifecycle struct {
	ledger        OrderLedger
	guard         dominv.Guard
	publisher     domoutbox.Publisher
	ins           application.Instrumentation
	compensations observability.Counter
	backOff       func() backoff.BackOff
}

type LifecycleOption func(*Lifecycle)

// WithRestockBackOff overrides the retry schedule for restocking cancelled lines.
func WithRestockBackOff(f func() backoff.BackOff) LifecycleOption {
	return func(l *Lifecycle) { l.backOff = f }
}

func NewLifecycle(
	ledger OrderLedger,
	guard dominv.Guard,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	opts ...LifecycleOption,
) *Lifecycle {
	ins := application.NewInstrumentation(lifecycleService, tel)
	l := &Lifecycle{
		ledger:        ledger,
		guard:         guard,
		publisher:     publisher,
		ins:           ins,
		compensations: ins.Metrics().Counter(observability.MCheckoutCompensations),
		backOff:       defaultBackOff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Advance moves o to u.Status if the lifecycle table allows it. The write is
// conditional on o's current status so a concurrent change wins exactly once.
// Cancelling restocks every line of the order.
func (l *Lifecycle) Advance(ctx context.Context, o *domorder.Order, u domorder.StatusUpdate) (*domorder.Order, error) {
	const op = "checkout.advance"
	if err := domorder.CanTransition(o.Status, u.Status); err != nil {
		return nil, apperr.InvalidTransition(op, err)
	}
	from := o.Status
	updated, err := l.ledger.TransitionStatus(ctx, o.ID, from, u)
	if err != nil {
		return nil, err
	}

	events := []domoutbox.Event{domorder.NewOrderStatusChangedEvent(updated, from)}
	switch updated.Status {
	case domorder.StatusCancelled:
		events = append(events, domorder.NewOrderCancelledEvent(updated))
		events = append(events, l.restock(ctx, updated)...)
	case domorder.StatusReturned:
		events = append(events, domorder.NewOrderReturnedEvent(updated))
	}
	if perr := l.ins.Publish(ctx, l.publisher, events...); perr != nil {
		logctx.FromOr(ctx, l.ins.Logger()).Warn("event_publish_failed",
			observability.F("order_id", updated.ID),
			observability.F("error", perr.Error()),
		)
	}
	return updated, nil
}

// restock returns each line's quantity to stock. A line that still fails after
// retries is logged and counted; the cancellation itself stands.
func (l *Lifecycle) restock(ctx context.Context, o *domorder.Order) []domoutbox.Event {
	ctx = context.WithoutCancel(ctx)
	logger := logctx.FromOr(ctx, l.ins.Logger())
	var events []domoutbox.Event
	for _, it := range o.Items {
		rec, err := incrementWithRetry(ctx, l.guard, l.backOff(), it.ProductID, it.Quantity)
		if err != nil {
			l.compensations.Add(1, observability.L("reason", "restock_failed"))
			logger.Error("restock_failed",
				observability.F("order_id", o.ID),
				observability.F("product_id", it.ProductID),
				observability.F("quantity", it.Quantity),
				observability.F("error", err.Error()),
			)
			continue
		}
		events = append(events, dominv.NewStockChangedEvent(it.ProductID, it.Quantity, rec))
	}
	return events
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.WithMaxRetries(b, defaultRestockTry)
}

func incrementWithRetry(ctx context.Context, guard dominv.Guard, b backoff.BackOff, productID string, qty int) (dominv.Record, error) {
	var rec dominv.Record
	err := backoff.Retry(func() error {
		var err error
		rec, err = guard.IncrementStock(ctx, productID, qty)
		if errors.Is(err, dominv.ErrNotFound) || errors.Is(err, dominv.ErrInvalidQuantity) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	return rec, err
}
