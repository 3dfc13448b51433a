package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type OrderRepository struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	byNumber map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:   make(map[string]*domain.Order),
		byNumber: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNumber[order.Number]; exists {
		return domain.ErrDuplicateOrderNumber
	}
	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("order repository: duplicate id %s", order.ID)
	}

	r.orders[order.ID] = order.Clone()
	r.byNumber[order.Number] = order.ID
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, u domain.StatusUpdate) (*domain.Order, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	order.Apply(u)
	return order.Clone(), nil
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from domain.Status, u domain.StatusUpdate) (*domain.Order, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", domain.ErrStatusConflict, from, order.Status)
	}
	order.Apply(u)
	return order.Clone(), nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, number string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[number]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.orders[id].Clone(), nil
}

// FindMany returns matches newest first.
func (r *OrderRepository) FindMany(ctx context.Context, f domain.Filter) ([]*domain.Order, int, error) {
	_ = ctx
	f = f.Normalize()

	r.mu.RLock()
	matches := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if matchesFilter(o, f) {
			matches = append(matches, o.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	total := len(matches)
	if f.Offset >= total {
		return []*domain.Order{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matches[f.Offset:end], total, nil
}

func matchesFilter(o *domain.Order, f domain.Filter) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.SellerID != "" && o.SellerID != f.SellerID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.CreatedFrom != nil && o.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && !o.CreatedAt.Before(*f.CreatedTo) {
		return false
	}
	return true
}
