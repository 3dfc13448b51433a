package order

import "time"

// LineQuantity is the stock footprint of one order line.
type LineQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func linesOf(o *Order) []LineQuantity {
	out := make([]LineQuantity, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, LineQuantity{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

// OrderCreatedEvent is emitted once the order is persisted and its stock is held.
type OrderCreatedEvent struct {
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	BuyerID     string         `json:"buyer_id"`
	SellerID    string         `json:"seller_id"`
	Total       string         `json:"total"`
	Currency    string         `json:"currency"`
	Lines       []LineQuantity `json:"lines"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		Total:       o.Total.StringFixed(2),
		Currency:    o.Currency,
		Lines:       linesOf(o),
		OccurredAt:  time.Now().UTC(),
	}
}

// OrderStatusChangedEvent is emitted for every accepted transition.
type OrderStatusChangedEvent struct {
	OrderID    string    `json:"order_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (OrderStatusChangedEvent) EventName() string { return "order.status_changed" }

func NewOrderStatusChangedEvent(o *Order, from Status) OrderStatusChangedEvent {
	return OrderStatusChangedEvent{
		OrderID:    o.ID,
		From:       from,
		To:         o.Status,
		Reason:     o.StatusReason,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderCancelledEvent carries the lines that were restocked.
type OrderCancelledEvent struct {
	OrderID    string         `json:"order_id"`
	Reason     string         `json:"reason"`
	Lines      []LineQuantity `json:"lines"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:    o.ID,
		Reason:     o.StatusReason,
		Lines:      linesOf(o),
		OccurredAt: time.Now().UTC(),
	}
}

type OrderReturnedEvent struct {
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (OrderReturnedEvent) EventName() string { return "order.returned" }

func NewOrderReturnedEvent(o *Order) OrderReturnedEvent {
	return OrderReturnedEvent{
		OrderID:    o.ID,
		Reason:     o.StatusReason,
		OccurredAt: time.Now().UTC(),
	}
}

func (e OrderCreatedEvent) PartitionKey() string       { return e.OrderID }
func (e OrderStatusChangedEvent) PartitionKey() string { return e.OrderID }
func (e OrderCancelledEvent) PartitionKey() string     { return e.OrderID }
func (e OrderReturnedEvent) PartitionKey() string      { return e.OrderID }
