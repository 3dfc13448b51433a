package checkout

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/ledger"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/shopspring/decimal"
)

// OrderLedger is the subset of the ledger the checkout drives.
type OrderLedger interface {
	CreateOrder(ctx context.Context, d ledger.Draft) (*domorder.Order, error)
	TransitionStatus(ctx context.Context, id string, from domorder.Status, u domorder.StatusUpdate) (*domorder.Order, error)
	FindByID(ctx context.Context, id string) (*domorder.Order, error)
	FindMany(ctx context.Context, f domorder.Filter) ([]*domorder.Order, int, error)
}

// ShippingRater prices delivery to an address.
type ShippingRater interface {
	Rate(ctx context.Context, addr domorder.ShippingAddress, subtotal decimal.Decimal) (decimal.Decimal, error)
}

// DiscountPolicy resolves a discount code against a subtotal.
type DiscountPolicy interface {
	Apply(ctx context.Context, code string, subtotal decimal.Decimal) (decimal.Decimal, error)
}
