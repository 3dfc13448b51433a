package inventory

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
)

// Worker routes stock events from the bus to the inventory use cases.
type Worker struct {
	lowStock application.UseCase[dominv.StockChangedEvent, *LowStockResult]
}

func NewWorker(lowStock application.UseCase[dominv.StockChangedEvent, *LowStockResult]) *Worker {
	return &Worker{lowStock: lowStock}
}

// Handlers maps event names to the handlers this worker serves.
func (w *Worker) Handlers() map[string]domoutbox.Handler {
	return map[string]domoutbox.Handler{
		dominv.StockChangedEvent{}.EventName(): w.handleStockChanged,
	}
}

func (w *Worker) handleStockChanged(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dominv.StockChangedEvent)
	if !ok {
		return nil
	}
	if _, err := w.lowStock.Execute(ctx, evt); err != nil {
		return fmt.Errorf("worker: low stock alert: %w", err)
	}
	return nil
}
