package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

type TransactionRepository struct {
	mu         sync.RWMutex
	txs        map[string]*domain.Transaction
	byExternal map[string]string
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		txs:        make(map[string]*domain.Transaction),
		byExternal: make(map[string]string),
	}
}

func (r *TransactionRepository) Insert(ctx context.Context, tx *domain.Transaction) error {
	_ = ctx
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("transaction repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.Status == domain.StatusPending {
		for _, existing := range r.txs {
			if existing.OrderID == tx.OrderID && existing.Status == domain.StatusPending {
				return domain.ErrPendingExists
			}
		}
	}
	if _, exists := r.byExternal[tx.ExternalPaymentID]; exists && tx.ExternalPaymentID != "" {
		return fmt.Errorf("transaction repository: duplicate external id %s", tx.ExternalPaymentID)
	}

	r.txs[tx.ID] = tx.Clone()
	if tx.ExternalPaymentID != "" {
		r.byExternal[tx.ExternalPaymentID] = tx.ID
	}
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.txs[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (r *TransactionRepository) FindByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return r.txs[id].Clone(), nil
}

func (r *TransactionRepository) FindPendingByOrder(ctx context.Context, orderID string) (*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tx := range r.txs {
		if tx.OrderID == orderID && tx.Status == domain.StatusPending {
			return tx.Clone(), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *TransactionRepository) Transition(ctx context.Context, id string, from domain.Status, u domain.Update) (*domain.Transaction, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	if tx.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", domain.ErrStatusConflict, from, tx.Status)
	}
	tx.Apply(u)
	return tx.Clone(), nil
}

func (r *TransactionRepository) ListByStatus(ctx context.Context, status domain.Status, from, to time.Time, limit int) ([]*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	out := make([]*domain.Transaction, 0)
	for _, tx := range r.txs {
		if tx.Status != status || tx.UpdatedAt.Before(from) || !tx.UpdatedAt.Before(to) {
			continue
		}
		out = append(out, tx.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
