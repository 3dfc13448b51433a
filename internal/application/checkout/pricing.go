package checkout

import (
	"context"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/shopspring/decimal"
)

// FlatRate charges the same shipping cost for every address.
type FlatRate struct {
	Amount decimal.Decimal
}

func (f FlatRate) Rate(context.Context, domorder.ShippingAddress, decimal.Decimal) (decimal.Decimal, error) {
	return f.Amount, nil
}

// NoDiscount ignores discount codes.
type NoDiscount struct{}

func (NoDiscount) Apply(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
