package payment

import (
	"context"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type IDGenerator interface {
	NewID() string
}

// OrderReader loads orders from the ledger.
type OrderReader interface {
	FindByID(ctx context.Context, id string) (*domorder.Order, error)
}

// OrderLifecycle applies guarded order status changes.
type OrderLifecycle interface {
	Advance(ctx context.Context, o *domorder.Order, u domorder.StatusUpdate) (*domorder.Order, error)
}

// Deduplicator short-circuits webhook deliveries that were already seen.
// Claim returns false when the key is already held.
type Deduplicator interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
