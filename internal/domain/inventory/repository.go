package inventory

import "context"

// Catalog reads authoritative product documents.
type Catalog interface {
	FindProduct(ctx context.Context, productID string) (*Product, error)
}

// Guard is the only writer of stock. DecrementStock must be a single indivisible
// conditional write: it succeeds only when quantity >= qty.
type Guard interface {
	DecrementStock(ctx context.Context, productID string, qty int) (Record, error)
	IncrementStock(ctx context.Context, productID string, qty int) (Record, error)
}

type Repository interface {
	Catalog
	Guard
}
