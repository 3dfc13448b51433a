package inventory

import (
	"errors"
	"testing"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecrement(t *testing.T) {
	r := Record{Quantity: 5, InStock: true, LowStockThreshold: 2}

	require.NoError(t, r.Decrement("p1", 3))
	assert.Equal(t, 2, r.Quantity)
	assert.True(t, r.InStock)
	assert.True(t, r.IsLow())

	err := r.Decrement("p1", 3)
	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 2, ise.Available)
	assert.Equal(t, 3, ise.Requested)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.Equal(t, 2, r.Quantity)

	require.NoError(t, r.Decrement("p1", 2))
	assert.Equal(t, 0, r.Quantity)
	assert.False(t, r.InStock)

	assert.ErrorIs(t, r.Decrement("p1", 0), ErrInvalidQuantity)
}

func TestIncrementRestoresInStock(t *testing.T) {
	r := Record{Quantity: 0, InStock: false}
	require.NoError(t, r.Increment(4))
	assert.Equal(t, 4, r.Quantity)
	assert.True(t, r.InStock)
	assert.ErrorIs(t, r.Increment(-1), ErrInvalidQuantity)
}

func TestIsLowNeedsThreshold(t *testing.T) {
	assert.False(t, Record{Quantity: 0}.IsLow())
	assert.True(t, Record{Quantity: 3, LowStockThreshold: 3}.IsLow())
	assert.False(t, Record{Quantity: 4, LowStockThreshold: 3}.IsLow())
}

func TestNewProduct(t *testing.T) {
	_, err := NewProduct("p1", "s1", "n", decimal.NewFromInt(1), -1, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	p, err := NewProduct("p1", "s1", "n", decimal.NewFromInt(1), 0, 0)
	require.NoError(t, err)
	assert.False(t, p.Inventory.InStock)
}

func TestStockChangedEventFlagsLowStock(t *testing.T) {
	e := NewStockChangedEvent("p1", -3, Record{Quantity: 1, InStock: true, LowStockThreshold: 2})
	assert.True(t, e.LowStock)
	assert.Equal(t, "inventory.stock_changed", e.EventName())
	assert.Equal(t, "p1", e.PartitionKey())
}
