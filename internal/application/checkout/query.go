package checkout

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseGetOrder   = "order.get"
	useCaseListOrders = "order.list"
	useCaseListSeller = "order.list_seller"
)

type GetOrderInput struct {
	Principal identity.Principal
	OrderID   string
}

type GetOrderUseCase struct {
	ledger OrderLedger
	ins    application.Instrumentation
}

func NewGetOrderUseCase(ledger OrderLedger, tel observability.Observability) *GetOrderUseCase {
	return &GetOrderUseCase{ledger: ledger, ins: application.NewInstrumentation(checkoutService, tel)}
}

func (uc *GetOrderUseCase) Execute(ctx context.Context, cmd GetOrderInput) (_ *domorder.Order, err error) {
	ctx, call := uc.ins.Begin(ctx, useCaseGetOrder, "GetOrder", attribute.String("order.id", cmd.OrderID))
	defer func() { call.End(err) }()

	o, err := uc.ledger.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if aerr := domorder.CanView(cmd.Principal, o); aerr != nil {
		call.Fail("FORBIDDEN")
		return nil, apperr.Wrap(apperr.KindAuthorization, "checkout.get_order", "order belongs to another user", aerr)
	}
	return o, nil
}

type ListOrdersInput struct {
	Principal identity.Principal
	// SellerID selects the seller view; empty means the caller's buyer view.
	SellerID string
	Status   domorder.Status
	Limit    int
	Offset   int
}

type Page struct {
	Orders []*domorder.Order
	Total  int
	Limit  int
	Offset int
}

type ListOrdersUseCase struct {
	ledger OrderLedger
	ins    application.Instrumentation
}

func NewListOrdersUseCase(ledger OrderLedger, tel observability.Observability) *ListOrdersUseCase {
	return &ListOrdersUseCase{ledger: ledger, ins: application.NewInstrumentation(checkoutService, tel)}
}

func (uc *ListOrdersUseCase) Execute(ctx context.Context, cmd ListOrdersInput) (_ *Page, err error) {
	const op = "checkout.list_orders"
	name, spanName := useCaseListOrders, "ListOrders"
	if cmd.SellerID != "" {
		name, spanName = useCaseListSeller, "ListSellerOrders"
	}
	ctx, call := uc.ins.Begin(ctx, name, spanName,
		attribute.String("filter.status", string(cmd.Status)),
		attribute.String("filter.seller_id", cmd.SellerID),
	)
	defer func() { call.End(err) }()

	if cmd.Status != "" && !cmd.Status.Valid() {
		call.Fail("STATUS_INVALID")
		return nil, apperr.Validation(op, "unknown status "+string(cmd.Status))
	}
	f := domorder.Filter{Status: cmd.Status, Limit: cmd.Limit, Offset: cmd.Offset}
	if cmd.SellerID != "" {
		if !cmd.Principal.Owns(cmd.SellerID) {
			call.Fail("FORBIDDEN")
			return nil, apperr.Forbidden(op, "sellers may only list their own orders")
		}
		f.SellerID = cmd.SellerID
	} else {
		if cmd.Principal.UserID == "" {
			call.Fail("FORBIDDEN")
			return nil, apperr.Forbidden(op, "buyer identity is required")
		}
		f.BuyerID = cmd.Principal.UserID
	}
	f = f.Normalize()

	orders, total, err := uc.ledger.FindMany(ctx, f)
	if err != nil {
		return nil, err
	}
	call.Annotate(observability.F("result_count", len(orders)), observability.F("total", total))
	return &Page{Orders: orders, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
