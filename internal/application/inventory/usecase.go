package inventory

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService = "inventory-service"
	useCaseLowStock  = "inventory.low_stock_alert"
)

type LowStockResult struct {
	Alerted bool
}

// LowStockAlertUseCase raises an alert when a decrement leaves a product at or
// below its threshold. Restocks never alert.
type LowStockAlertUseCase struct {
	publisher domoutbox.Publisher
	ins       application.Instrumentation
	lowStock  observability.Counter
}

func NewLowStockAlertUseCase(publisher domoutbox.Publisher, tel observability.Observability) *LowStockAlertUseCase {
	ins := application.NewInstrumentation(inventoryService, tel)
	return &LowStockAlertUseCase{
		publisher: publisher,
		ins:       ins,
		lowStock:  ins.Metrics().Counter(observability.MInventoryLowStock),
	}
}

func (uc *LowStockAlertUseCase) Execute(ctx context.Context, e dominv.StockChangedEvent) (_ *LowStockResult, err error) {
	ctx, call := uc.ins.Begin(ctx, useCaseLowStock, "LowStockAlert",
		attribute.String("product.id", e.ProductID),
		attribute.Int("inventory.quantity", e.Quantity),
		attribute.Int("inventory.delta", e.Delta),
	)
	defer func() { call.End(err) }()

	if e.Delta >= 0 || !e.LowStock {
		call.Note("NOT_LOW")
		return &LowStockResult{}, nil
	}
	uc.lowStock.Add(1)
	call.Publish(ctx, uc.publisher, dominv.NewLowStockEvent(e.ProductID, e.Quantity))
	call.Annotate(
		observability.F("product_id", e.ProductID),
		observability.F("quantity", e.Quantity),
	)
	return &LowStockResult{Alerted: true}, nil
}
