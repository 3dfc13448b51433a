package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseStatusUpdate = "order.update_status"
	useCaseCancel       = "order.cancel"
	useCaseReturn       = "order.return"
)

type UpdateStatusInput struct {
	Principal         identity.Principal
	OrderID           string
	Status            domorder.Status
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	Reason            string
}

// UpdateStatusUseCase is the generic seller/admin status change.
type UpdateStatusUseCase struct {
	ledger    OrderLedger
	lifecycle *Lifecycle
	ins       application.Instrumentation
}

func NewUpdateStatusUseCase(ledger OrderLedger, lifecycle *Lifecycle, tel observability.Observability) *UpdateStatusUseCase {
	return &UpdateStatusUseCase{
		ledger:    ledger,
		lifecycle: lifecycle,
		ins:       application.NewInstrumentation(checkoutService, tel),
	}
}

func (uc *UpdateStatusUseCase) Execute(ctx context.Context, cmd UpdateStatusInput) (_ *domorder.Order, err error) {
	const op = "checkout.update_status"
	ctx, call := uc.ins.Begin(ctx, useCaseStatusUpdate, "UpdateOrderStatus",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.status", string(cmd.Status)),
	)
	defer func() { call.End(err) }()

	if !cmd.Status.Valid() {
		call.Fail("STATUS_INVALID")
		return nil, apperr.Validation(op, "unknown status "+string(cmd.Status))
	}
	o, err := uc.ledger.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if aerr := domorder.CanUpdateStatus(cmd.Principal, o); aerr != nil {
		call.Fail("FORBIDDEN")
		return nil, apperr.Wrap(apperr.KindAuthorization, op, "only the seller or an admin may change status", aerr)
	}

	return advance(ctx, call, uc.lifecycle, o, domorder.StatusUpdate{
		Status:            cmd.Status,
		TrackingNumber:    cmd.TrackingNumber,
		EstimatedDelivery: cmd.EstimatedDelivery,
		Reason:            strings.TrimSpace(cmd.Reason),
	})
}

type CancelOrderInput struct {
	Principal identity.Principal
	OrderID   string
	Reason    string
}

// CancelOrderUseCase cancels an order and restocks its items.
type CancelOrderUseCase struct {
	ledger    OrderLedger
	lifecycle *Lifecycle
	ins       application.Instrumentation
}

func NewCancelOrderUseCase(ledger OrderLedger, lifecycle *Lifecycle, tel observability.Observability) *CancelOrderUseCase {
	return &CancelOrderUseCase{
		ledger:    ledger,
		lifecycle: lifecycle,
		ins:       application.NewInstrumentation(checkoutService, tel),
	}
}

func (uc *CancelOrderUseCase) Execute(ctx context.Context, cmd CancelOrderInput) (_ *domorder.Order, err error) {
	const op = "checkout.cancel"
	ctx, call := uc.ins.Begin(ctx, useCaseCancel, "CancelOrder",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("principal.role", string(cmd.Principal.Role)),
	)
	defer func() { call.End(err) }()

	o, err := uc.ledger.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if aerr := domorder.CanCancel(cmd.Principal, o); aerr != nil {
		call.Fail("FORBIDDEN")
		return nil, apperr.Wrap(apperr.KindAuthorization, op, "cancel not permitted", aerr)
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "cancelled by " + string(cmd.Principal.Role)
	}
	return advance(ctx, call, uc.lifecycle, o, domorder.StatusUpdate{
		Status: domorder.StatusCancelled,
		Reason: reason,
	})
}

type ReturnOrderInput struct {
	Principal identity.Principal
	OrderID   string
	Reason    string
}

// ReturnOrderUseCase records a buyer return. Stock is not restored here.
type ReturnOrderUseCase struct {
	ledger    OrderLedger
	lifecycle *Lifecycle
	ins       application.Instrumentation
}

func NewReturnOrderUseCase(ledger OrderLedger, lifecycle *Lifecycle, tel observability.Observability) *ReturnOrderUseCase {
	return &ReturnOrderUseCase{
		ledger:    ledger,
		lifecycle: lifecycle,
		ins:       application.NewInstrumentation(checkoutService, tel),
	}
}

func (uc *ReturnOrderUseCase) Execute(ctx context.Context, cmd ReturnOrderInput) (_ *domorder.Order, err error) {
	const op = "checkout.return"
	ctx, call := uc.ins.Begin(ctx, useCaseReturn, "ReturnOrder",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { call.End(err) }()

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		call.Fail("REASON_REQUIRED")
		return nil, apperr.Validation(op, "a return reason is required")
	}
	o, err := uc.ledger.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if aerr := domorder.CanReturn(cmd.Principal, o); aerr != nil {
		call.Fail("FORBIDDEN")
		return nil, apperr.Wrap(apperr.KindAuthorization, op, "return not permitted", aerr)
	}
	return advance(ctx, call, uc.lifecycle, o, domorder.StatusUpdate{
		Status: domorder.StatusReturned,
		Reason: reason,
	})
}

func advance(ctx context.Context, call *application.Call, l *Lifecycle, o *domorder.Order, u domorder.StatusUpdate) (*domorder.Order, error) {
	from := o.Status
	updated, err := l.Advance(ctx, o, u)
	if err != nil {
		return nil, err
	}
	call.Span.SetAttributes(
		attribute.String("order.status_from", string(from)),
		attribute.String("order.status_to", string(updated.Status)),
	)
	call.Annotate(
		observability.F("order_id", updated.ID),
		observability.F("status_from", string(from)),
		observability.F("status_to", string(updated.Status)),
	)
	return updated, nil
}
