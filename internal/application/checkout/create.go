package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/ledger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService    = "checkout-service"
	useCaseOrderCreate = "order.create"
)

type CartLine struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	Principal       identity.Principal
	Items           []CartLine
	ShippingAddress domorder.ShippingAddress
	DiscountCode    string
}

// CreateOrderUseCase turns a cart into a persisted order with its stock held.
type CreateOrderUseCase struct {
	ledger        OrderLedger
	catalog       dominv.Catalog
	guard         dominv.Guard
	shipping      ShippingRater
	discounts     DiscountPolicy
	publisher     domoutbox.Publisher
	currency      string
	ins           application.Instrumentation
	compensations observability.Counter
	backOff       func() backoff.BackOff
}

func NewCreateOrderUseCase(
	ledger OrderLedger,
	catalog dominv.Catalog,
	guard dominv.Guard,
	shipping ShippingRater,
	discounts DiscountPolicy,
	publisher domoutbox.Publisher,
	currency string,
	tel observability.Observability,
) *CreateOrderUseCase {
	ins := application.NewInstrumentation(checkoutService, tel)
	if discounts == nil {
		discounts = NoDiscount{}
	}
	return &CreateOrderUseCase{
		ledger:        ledger,
		catalog:       catalog,
		guard:         guard,
		shipping:      shipping,
		discounts:     discounts,
		publisher:     publisher,
		currency:      currency,
		ins:           ins,
		compensations: ins.Metrics().Counter(observability.MCheckoutCompensations),
		backOff:       defaultBackOff,
	}
}

// Execute validates the cart, prices it, persists the order and then decrements
// stock line by line. A failed decrement restocks the earlier lines and cancels
// the order before the error is returned.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *domorder.Order, err error) {
	const op = "checkout.create_order"
	ctx, call := uc.ins.Begin(ctx, useCaseOrderCreate, "CreateOrder",
		attribute.String("order.buyer_id", cmd.Principal.UserID),
		attribute.Int("order.lines", len(cmd.Items)),
	)
	defer func() { call.End(err) }()

	if cmd.Principal.UserID == "" {
		call.Fail("UNAUTHENTICATED")
		return nil, apperr.Forbidden(op, "buyer identity is required")
	}
	if len(cmd.Items) == 0 {
		call.Fail("EMPTY_CART")
		return nil, apperr.Validation(op, "cart is empty")
	}
	if cmd.ShippingAddress.IsZero() {
		call.Fail("ADDRESS_REQUIRED")
		return nil, apperr.Validation(op, "shipping address is required")
	}
	lines, err := mergeLines(cmd.Items)
	if err != nil {
		call.Fail("QUANTITY_INVALID")
		return nil, apperr.Wrap(apperr.KindValidation, op, "invalid cart line", err)
	}

	// Advisory read: the conditional decrement below is the real guarantee.
	items := make([]domorder.Item, 0, len(lines))
	sellerID := ""
	for _, line := range lines {
		p, ferr := uc.catalog.FindProduct(ctx, line.ProductID)
		if ferr != nil {
			if errors.Is(ferr, dominv.ErrNotFound) {
				call.Fail("PRODUCT_NOT_FOUND")
				return nil, apperr.NotFound(op, fmt.Errorf("product %s: %w", line.ProductID, ferr))
			}
			call.Fail("CATALOG_READ_FAILED")
			return nil, apperr.Internal(op, ferr)
		}
		if !p.Inventory.InStock || p.Inventory.Quantity <= 0 {
			call.Fail("OUT_OF_STOCK")
			return nil, apperr.New(apperr.KindOutOfStock, op, "product "+p.ID+" is out of stock")
		}
		if line.Quantity > p.Inventory.Quantity {
			call.Fail("INSUFFICIENT_STOCK")
			return nil, &dominv.InsufficientStockError{
				ProductID: p.ID,
				Requested: line.Quantity,
				Available: p.Inventory.Quantity,
			}
		}
		if sellerID == "" {
			sellerID = p.SellerID
		} else if p.SellerID != sellerID {
			call.Fail("MULTIPLE_SELLERS")
			return nil, apperr.New(apperr.KindMultipleSellers, op, "all items must come from one seller")
		}
		item, ierr := domorder.NewItem("", p.ID, p.Name, p.NameAr, line.Quantity, p.Price)
		if ierr != nil {
			call.Fail("ITEM_INVALID")
			return nil, apperr.Wrap(apperr.KindValidation, op, "invalid item", ierr)
		}
		items = append(items, item)
	}

	pricing, err := uc.price(ctx, items, cmd)
	if err != nil {
		call.Fail("PRICING_FAILED")
		return nil, apperr.Internal(op, err)
	}
	call.Span.SetAttributes(
		attribute.String("order.seller_id", sellerID),
		attribute.String("order.total", pricing.Total.StringFixed(2)),
	)

	draft := ledger.Draft{
		BuyerID:         cmd.Principal.UserID,
		SellerID:        sellerID,
		Currency:        uc.currency,
		Items:           items,
		Pricing:         pricing,
		ShippingAddress: cmd.ShippingAddress,
	}
	persist := &persistOrderStep{ledger: uc.ledger, draft: draft}
	steps := []step{persist}
	reserves := make([]*reserveStockStep, 0, len(lines))
	for _, line := range lines {
		s := &reserveStockStep{guard: uc.guard, line: line, backOff: uc.backOff}
		reserves = append(reserves, s)
		steps = append(steps, s)
	}

	failed, err := runSaga(ctx, call.Log, steps)
	if err != nil {
		if persist.order == nil {
			call.Fail("LEDGER_WRITE_FAILED")
			return nil, err
		}
		uc.compensations.Add(1, observability.L("reason", string(apperr.KindOf(err))))
		call.Annotate(
			observability.F("order_id", persist.order.ID),
			observability.F("compensation_failures", failed),
		)
		call.Span.AddEvent("order.compensated", trace.WithAttributes(
			attribute.String("order.id", persist.order.ID),
			attribute.Int("compensation_failures", failed),
		))
		call.FailWith(err)
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Internal(op, err)
		}
		return nil, err
	}

	o := persist.order
	events := []domoutbox.Event{domorder.NewOrderCreatedEvent(o)}
	for _, s := range reserves {
		events = append(events, dominv.NewStockChangedEvent(s.line.ProductID, -s.line.Quantity, s.after))
	}
	call.Publish(ctx, uc.publisher, events...)

	call.Annotate(
		observability.F("order_id", o.ID),
		observability.F("order_number", o.Number),
	)
	call.Span.AddEvent("order.created", trace.WithAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.number", o.Number),
	))
	return o, nil
}

func (uc *CreateOrderUseCase) price(ctx context.Context, items []domorder.Item, cmd CreateOrderInput) (domorder.Pricing, error) {
	subtotal := domorder.NewPricing(items, decimal.Zero, decimal.Zero).Subtotal
	shipping, err := uc.shipping.Rate(ctx, cmd.ShippingAddress, subtotal)
	if err != nil {
		return domorder.Pricing{}, fmt.Errorf("shipping rate: %w", err)
	}
	discount, err := uc.discounts.Apply(ctx, cmd.DiscountCode, subtotal)
	if err != nil {
		return domorder.Pricing{}, fmt.Errorf("discount: %w", err)
	}
	if discount.GreaterThan(subtotal.Add(shipping)) {
		discount = subtotal.Add(shipping)
	}
	return domorder.NewPricing(items, shipping, discount), nil
}

// mergeLines folds repeated products into one line, keeping first-seen order.
func mergeLines(in []CartLine) ([]CartLine, error) {
	idx := make(map[string]int, len(in))
	out := make([]CartLine, 0, len(in))
	for _, l := range in {
		if l.ProductID == "" {
			return nil, errors.New("product id is required")
		}
		if l.Quantity <= 0 {
			return nil, domorder.ErrInvalidQuantity
		}
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

type persistOrderStep struct {
	ledger OrderLedger
	draft  ledger.Draft
	order  *domorder.Order
}

func (s *persistOrderStep) Name() string { return "persist_order" }

func (s *persistOrderStep) Execute(ctx context.Context) error {
	o, err := s.ledger.CreateOrder(ctx, s.draft)
	if err != nil {
		return err
	}
	s.order = o
	return nil
}

func (s *persistOrderStep) Compensate(ctx context.Context, cause error) error {
	reason := "stock reservation failed"
	if cause != nil {
		reason += ": " + cause.Error()
	}
	o, err := s.ledger.TransitionStatus(ctx, s.order.ID, domorder.StatusPending, domorder.StatusUpdate{
		Status: domorder.StatusCancelled,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	s.order = o
	return nil
}

type reserveStockStep struct {
	guard   dominv.Guard
	line    CartLine
	after   dominv.Record
	backOff func() backoff.BackOff
}

func (s *reserveStockStep) Name() string { return "reserve_stock:" + s.line.ProductID }

func (s *reserveStockStep) Execute(ctx context.Context) error {
	rec, err := s.guard.DecrementStock(ctx, s.line.ProductID, s.line.Quantity)
	if err != nil {
		if errors.Is(err, dominv.ErrNotFound) {
			return apperr.NotFound("checkout.reserve_stock", err)
		}
		return err
	}
	s.after = rec
	return nil
}

func (s *reserveStockStep) Compensate(ctx context.Context, _ error) error {
	_, err := incrementWithRetry(ctx, s.guard, s.backOff(), s.line.ProductID, s.line.Quantity)
	return err
}
