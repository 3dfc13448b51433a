package order

import (
	"context"
	"time"
)

// StatusUpdate carries the optional fields that may accompany a status change.
type StatusUpdate struct {
	Status            Status
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	Reason            string
}

// Filter selects orders for list views. Zero values mean "any".
type Filter struct {
	BuyerID     string
	SellerID    string
	Status      Status
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps pagination to sane bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type Repository interface {
	// Insert writes the order and its items atomically.
	// A clash on the order number returns ErrDuplicateOrderNumber.
	Insert(ctx context.Context, o *Order) error
	// UpdateStatus writes unconditionally.
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) (*Order, error)
	// TransitionStatus writes only if the stored status still equals from,
	// otherwise it returns ErrStatusConflict.
	TransitionStatus(ctx context.Context, id string, from Status, u StatusUpdate) (*Order, error)
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByOrderNumber(ctx context.Context, number string) (*Order, error)
	FindMany(ctx context.Context, f Filter) ([]*Order, int, error)
}
