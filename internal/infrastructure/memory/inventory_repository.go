package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

// InventoryRepository keeps product documents in memory. Each guard write holds
// the lock for the whole check-and-set, so it is indivisible like the SQL variant.
type InventoryRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		products: make(map[string]*domain.Product),
	}
}

// Seed inserts or replaces product documents.
func (r *InventoryRepository) Seed(products ...*domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range products {
		if p == nil {
			continue
		}
		r.products[p.ID] = cloneProduct(p)
	}
}

func (r *InventoryRepository) FindProduct(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (r *InventoryRepository) DecrementStock(ctx context.Context, productID string, qty int) (domain.Record, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	if err := p.Inventory.Decrement(productID, qty); err != nil {
		return p.Inventory, err
	}
	p.UpdatedAt = time.Now().UTC()
	return p.Inventory, nil
}

func (r *InventoryRepository) IncrementStock(ctx context.Context, productID string, qty int) (domain.Record, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	if err := p.Inventory.Increment(qty); err != nil {
		return p.Inventory, err
	}
	p.UpdatedAt = time.Now().UTC()
	return p.Inventory, nil
}

func cloneProduct(p *domain.Product) *domain.Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
