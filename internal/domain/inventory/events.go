package inventory

import "time"

// StockChangedEvent is emitted after every successful guard write.
type StockChangedEvent struct {
	ProductID  string    `json:"product_id"`
	Delta      int       `json:"delta"`
	Quantity   int       `json:"quantity"`
	InStock    bool      `json:"in_stock"`
	LowStock   bool      `json:"low_stock"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (StockChangedEvent) EventName() string { return "inventory.stock_changed" }

func NewStockChangedEvent(productID string, delta int, rec Record) StockChangedEvent {
	return StockChangedEvent{
		ProductID:  productID,
		Delta:      delta,
		Quantity:   rec.Quantity,
		InStock:    rec.InStock,
		LowStock:   rec.IsLow(),
		OccurredAt: time.Now().UTC(),
	}
}

// LowStockEvent is emitted when a decrement leaves a product at or below its threshold.
type LowStockEvent struct {
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (LowStockEvent) EventName() string { return "inventory.low_stock" }

func NewLowStockEvent(productID string, quantity int) LowStockEvent {
	return LowStockEvent{
		ProductID:  productID,
		Quantity:   quantity,
		OccurredAt: time.Now().UTC(),
	}
}

func (e StockChangedEvent) PartitionKey() string { return e.ProductID }
func (e LowStockEvent) PartitionKey() string     { return e.ProductID }
