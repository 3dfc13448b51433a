// Package ledger is the durable record of orders and their items.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ledgerService = "order-ledger"
	spanPrefix    = "Ledger."
	// MaxNumberAttempts bounds regenerate-and-retry on order number collisions.
	MaxNumberAttempts = 3
)

type IDGenerator interface {
	NewID() string
}

type NumberGenerator interface {
	NewOrderNumber(now time.Time) string
}

// Draft is everything the checkout decided before the order exists.
type Draft struct {
	BuyerID         string
	SellerID        string
	Currency        string
	Items           []domain.Item
	Pricing         domain.Pricing
	ShippingAddress domain.ShippingAddress
}

type Ledger struct {
	repo    domain.Repository
	ids     IDGenerator
	numbers NumberGenerator
	tracer  observability.Tracer
	log     observability.Logger
}

func New(repo domain.Repository, ids IDGenerator, numbers NumberGenerator, tel observability.Observability) *Ledger {
	tracer := observability.NopTracer()
	baseLog := observability.NopLogger()
	if tel != nil {
		tracer = tel.Tracer()
		baseLog = tel.Logger()
	}
	return &Ledger{
		repo:    repo,
		ids:     ids,
		numbers: numbers,
		tracer:  tracer,
		log:     baseLog.With(observability.F("service", ledgerService)),
	}
}

// CreateOrder assigns identifiers and an order number, then persists order and items
// in one write. A duplicate number is regenerated up to MaxNumberAttempts times.
func (l *Ledger) CreateOrder(ctx context.Context, d Draft) (_ *domain.Order, err error) {
	const op = "ledger.create_order"
	ctx, span := l.start(ctx, "CreateOrder",
		attribute.String("order.buyer_id", d.BuyerID),
		attribute.String("order.seller_id", d.SellerID),
		attribute.Int("order.items", len(d.Items)),
	)
	defer func() { finish(span, err) }()

	orderID := l.ids.NewID()
	items := make([]domain.Item, len(d.Items))
	for i, it := range d.Items {
		if it.ID == "" {
			it.ID = l.ids.NewID()
		}
		items[i] = it
	}

	for attempt := 1; attempt <= MaxNumberAttempts; attempt++ {
		number := l.numbers.NewOrderNumber(time.Now().UTC())
		o, derr := domain.New(orderID, number, d.BuyerID, d.SellerID, d.Currency, items, d.Pricing, d.ShippingAddress)
		if derr != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, "invalid order", derr)
		}

		err = l.repo.Insert(ctx, o)
		switch {
		case err == nil:
			span.SetAttributes(
				attribute.String("order.id", o.ID),
				attribute.String("order.number", o.Number),
			)
			return o, nil
		case errors.Is(err, domain.ErrDuplicateOrderNumber):
			span.AddEvent("order.number_collision", trace.WithAttributes(
				attribute.String("order.number", number),
				attribute.Int("attempt", attempt),
			))
			logctx.FromOr(ctx, l.log).Warn("order_number_collision",
				observability.F("order_number", number),
				observability.F("attempt", attempt),
			)
		default:
			return nil, apperr.Internal(op, err)
		}
	}
	return nil, apperr.Wrap(apperr.KindConflict, op, "could not allocate a unique order number", err)
}

// UpdateStatus writes the new status without checking the prior one.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, u domain.StatusUpdate) (_ *domain.Order, err error) {
	const op = "ledger.update_status"
	ctx, span := l.start(ctx, "UpdateStatus",
		attribute.String("order.id", id),
		attribute.String("order.status", string(u.Status)),
	)
	defer func() { finish(span, err) }()

	o, err := l.repo.UpdateStatus(ctx, id, u)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	return o, nil
}

// TransitionStatus writes the new status only if the order is still in from.
func (l *Ledger) TransitionStatus(ctx context.Context, id string, from domain.Status, u domain.StatusUpdate) (_ *domain.Order, err error) {
	const op = "ledger.transition_status"
	ctx, span := l.start(ctx, "TransitionStatus",
		attribute.String("order.id", id),
		attribute.String("order.status_from", string(from)),
		attribute.String("order.status", string(u.Status)),
	)
	defer func() { finish(span, err) }()

	o, err := l.repo.TransitionStatus(ctx, id, from, u)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	return o, nil
}

func (l *Ledger) FindByID(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, span := l.start(ctx, "FindByID", attribute.String("order.id", id))
	defer func() { finish(span, err) }()

	o, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError("ledger.find_by_id", err)
	}
	return o, nil
}

func (l *Ledger) FindByOrderNumber(ctx context.Context, number string) (_ *domain.Order, err error) {
	ctx, span := l.start(ctx, "FindByOrderNumber", attribute.String("order.number", number))
	defer func() { finish(span, err) }()

	o, err := l.repo.FindByOrderNumber(ctx, number)
	if err != nil {
		return nil, mapRepoError("ledger.find_by_order_number", err)
	}
	return o, nil
}

// FindMany returns one page of orders and the total number of matches.
func (l *Ledger) FindMany(ctx context.Context, f domain.Filter) (_ []*domain.Order, _ int, err error) {
	f = f.Normalize()
	ctx, span := l.start(ctx, "FindMany",
		attribute.String("filter.buyer_id", f.BuyerID),
		attribute.String("filter.seller_id", f.SellerID),
		attribute.String("filter.status", string(f.Status)),
		attribute.Int("filter.limit", f.Limit),
		attribute.Int("filter.offset", f.Offset),
	)
	defer func() { finish(span, err) }()

	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("ledger.find_many", "unknown status filter "+string(f.Status))
	}
	orders, total, err := l.repo.FindMany(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal("ledger.find_many", err)
	}
	return orders, total, nil
}

func (l *Ledger) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, spanPrefix+name, attrs...)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperr.NotFound(op, err)
	case errors.Is(err, domain.ErrStatusConflict):
		return apperr.Wrap(apperr.KindConflict, op, "order status changed concurrently", err)
	default:
		return apperr.Internal(op, err)
	}
}
