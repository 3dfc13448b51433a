package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// InsufficientStockError reports a rejected conditional decrement.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

func (e *InsufficientStockError) ErrorKind() apperr.Kind { return apperr.KindInsufficientStock }

// Record is the stock sub-document embedded in a product.
type Record struct {
	Quantity          int  `json:"quantity"`
	InStock           bool `json:"inStock"`
	LowStockThreshold int  `json:"lowStockThreshold"`
}

// Decrement applies the conditional decrement to an in-memory record.
// Quantity and InStock always change together.
func (r *Record) Decrement(productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if r.Quantity < qty {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: r.Quantity}
	}
	r.Quantity -= qty
	r.InStock = r.Quantity > 0
	return nil
}

func (r *Record) Increment(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	r.Quantity += qty
	r.InStock = true
	return nil
}

// IsLow reports whether the record sits at or below its alert threshold.
func (r Record) IsLow() bool {
	return r.LowStockThreshold > 0 && r.Quantity <= r.LowStockThreshold
}

// Product is the catalog view the checkout needs: seller, price snapshot source and stock.
type Product struct {
	ID        string          `json:"id"`
	SellerID  string          `json:"sellerId"`
	Name      string          `json:"name"`
	NameAr    string          `json:"nameAr"`
	Price     decimal.Decimal `json:"price"`
	Inventory Record          `json:"inventory"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func NewProduct(id, sellerID, name string, price decimal.Decimal, quantity, lowStockThreshold int) (*Product, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Product{
		ID:       id,
		SellerID: sellerID,
		Name:     name,
		Price:    price,
		Inventory: Record{
			Quantity:          quantity,
			InStock:           quantity > 0,
			LowStockThreshold: lowStockThreshold,
		},
		UpdatedAt: time.Now().UTC(),
	}, nil
}
