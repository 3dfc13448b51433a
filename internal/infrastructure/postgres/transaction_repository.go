package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	onePendingConstraint = "transactions_one_pending_per_order"
	externalIDConstraint = "transactions_external_payment_id_key"
	transactionColumns   = `id, order_id, COALESCE(external_payment_id, ''), amount::text, currency, status, payment_method,
	failure_reason, refund_id, refunded_amount::text, created_at, updated_at`
)

var errDuplicateExternalID = errors.New("postgres: duplicate external payment id")

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Insert relies on a partial unique index to keep one pending transaction per order.
func (r *TransactionRepository) Insert(ctx context.Context, t *domain.Transaction) (err error) {
	ctx, span := tracer().Start(ctx, "TransactionRepository.Insert", trace.WithAttributes(
		attribute.String("transaction.id", t.ID),
		attribute.String("order.id", t.OrderID),
	))
	defer func() { finish(span, err) }()

	var external *string
	if t.ExternalPaymentID != "" {
		external = &t.ExternalPaymentID
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO transactions (
			id, order_id, external_payment_id, amount, currency, status, payment_method,
			failure_reason, refund_id, refunded_amount, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.OrderID, external, t.Amount.String(), t.Currency, string(t.Status), string(t.PaymentMethod),
		t.FailureReason, t.RefundID, t.RefundedAmount.String(), t.CreatedAt, t.UpdatedAt,
	)
	switch {
	case err == nil:
		return nil
	case uniqueViolation(err, onePendingConstraint):
		return fmt.Errorf("%w: order %s", domain.ErrPendingExists, t.OrderID)
	case uniqueViolation(err, externalIDConstraint):
		return fmt.Errorf("%w: %s", errDuplicateExternalID, t.ExternalPaymentID)
	default:
		return fmt.Errorf("postgres: insert transaction: %w", err)
	}
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (_ *domain.Transaction, err error) {
	ctx, span := tracer().Start(ctx, "TransactionRepository.FindByID", trace.WithAttributes(attribute.String("transaction.id", id)))
	defer func() { finish(span, err) }()

	return r.findOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *TransactionRepository) FindByExternalID(ctx context.Context, externalID string) (_ *domain.Transaction, err error) {
	ctx, span := tracer().Start(ctx, "TransactionRepository.FindByExternalID", trace.WithAttributes(attribute.String("payment.id", externalID)))
	defer func() { finish(span, err) }()

	return r.findOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_payment_id = $1`, externalID)
}

func (r *TransactionRepository) FindPendingByOrder(ctx context.Context, orderID string) (_ *domain.Transaction, err error) {
	ctx, span := tracer().Start(ctx, "TransactionRepository.FindPendingByOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { finish(span, err) }()

	return r.findOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 AND status = 'pending'`, orderID)
}

// Transition is a compare-and-set on the status column.
func (r *TransactionRepository) Transition(ctx context.Context, id string, from domain.Status, u domain.Update) (_ *domain.Transaction, err error) {
	ctx, span := tracer().Start(ctx, "TransactionRepository.Transition", trace.WithAttributes(
		attribute.String("transaction.id", id),
		attribute.String("transaction.status_from", string(from)),
		attribute.String("transaction.status_to", string(u.Status)),
	))
	defer func() { finish(span, err) }()

	var refunded *string
	if u.RefundedAmount != nil {
		s := u.RefundedAmount.String()
		refunded = &s
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE transactions SET
			status = $3,
			failure_reason = CASE WHEN $4::text = '' THEN failure_reason ELSE $4::text END,
			refund_id = CASE WHEN $5::text = '' THEN refund_id ELSE $5::text END,
			refunded_amount = COALESCE($6::numeric, refunded_amount),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+transactionColumns,
		id, string(from), string(u.Status), u.FailureReason, u.RefundID, refunded,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: transition transaction: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: scan transaction: %w", err)
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read transaction status: %w", err)
	}
	return nil, fmt.Errorf("%w: expected %s, found %s", domain.ErrStatusConflict, from, current)
}

func (r *TransactionRepository) ListByStatus(ctx context.Context, status domain.Status, from, to time.Time, limit int) (_ []*domain.Transaction, err error) {
	ctx, span := tracer().Start(ctx, "TransactionRepository.ListByStatus", trace.WithAttributes(
		attribute.String("transaction.status", string(status)),
		attribute.Int("limit", limit),
	))
	defer func() { finish(span, err) }()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = $1 AND updated_at >= $2 AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4`,
		string(status), from, to, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transactions: %w", err)
	}
	return txs, nil
}

func (r *TransactionRepository) findOne(ctx context.Context, query string, arg any) (*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: query transaction: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transaction: %w", err)
	}
	return t, nil
}

func scanTransaction(row pgx.CollectableRow) (*domain.Transaction, error) {
	var (
		t                domain.Transaction
		amount, refunded string
		status, method   string
	)
	if err := row.Scan(
		&t.ID, &t.OrderID, &t.ExternalPaymentID, &amount, &t.Currency, &status, &method,
		&t.FailureReason, &t.RefundID, &refunded, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if t.RefundedAmount, err = decimal.NewFromString(refunded); err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	t.PaymentMethod = domain.Method(method)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
