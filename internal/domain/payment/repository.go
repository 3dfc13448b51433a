package payment

import (
	"context"
	"time"
)

type Repository interface {
	// Insert fails with ErrPendingExists if the order already has a pending transaction.
	Insert(ctx context.Context, t *Transaction) error
	FindByID(ctx context.Context, id string) (*Transaction, error)
	FindByExternalID(ctx context.Context, externalID string) (*Transaction, error)
	FindPendingByOrder(ctx context.Context, orderID string) (*Transaction, error)
	// Transition applies u only while the stored status equals from,
	// otherwise it returns ErrStatusConflict and leaves the row untouched.
	Transition(ctx context.Context, id string, from Status, u Update) (*Transaction, error)
	// ListByStatus returns transactions in status last updated within [from, to), oldest first.
	ListByStatus(ctx context.Context, status Status, from, to time.Time, limit int) ([]*Transaction, error)
}
