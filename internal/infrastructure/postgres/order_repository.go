package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const orderNumberConstraint = "orders_order_number_key"

const orderColumns = `
	id, order_number, buyer_id, seller_id, status,
	subtotal::text, shipping_cost::text, discount::text, total::text, currency,
	shipping_address, tracking_number, estimated_delivery, status_reason,
	created_at, updated_at`

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Insert writes the order row and its items in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) (err error) {
	ctx, span := tracer().Start(ctx, "OrderRepository.Insert", trace.WithAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.number", o.Number),
	))
	defer func() { finish(span, err) }()

	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("postgres: encode shipping address: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer rollback(ctx, tx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, buyer_id, seller_id, status,
			subtotal, shipping_cost, discount, total, currency,
			shipping_address, tracking_number, estimated_delivery, status_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.Number, o.BuyerID, o.SellerID, string(o.Status),
		o.Subtotal.String(), o.ShippingCost.String(), o.Discount.String(), o.Total.String(), o.Currency,
		addr, o.TrackingNumber, o.EstimatedDelivery, o.StatusReason,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err, orderNumberConstraint) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateOrderNumber, o.Number)
		}
		return fmt.Errorf("postgres: insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, product_id, product_name, product_name_ar, quantity, unit_price, subtotal, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, o.ID, it.ProductID, it.ProductName, it.ProductNameAr, it.Quantity,
			it.UnitPrice.String(), it.Subtotal.String(), i,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, u domain.StatusUpdate) (_ *domain.Order, err error) {
	ctx, span := tracer().Start(ctx, "OrderRepository.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(u.Status)),
	))
	defer func() { finish(span, err) }()

	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET
			status = $2,
			tracking_number = COALESCE($3::text, tracking_number),
			estimated_delivery = COALESCE($4::timestamptz, estimated_delivery),
			status_reason = CASE WHEN $5::text = '' THEN status_reason ELSE $5::text END,
			updated_at = NOW()
		WHERE id = $1`,
		id, string(u.Status), u.TrackingNumber, u.EstimatedDelivery, u.Reason,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

// TransitionStatus is a compare-and-set on the status column.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from domain.Status, u domain.StatusUpdate) (_ *domain.Order, err error) {
	ctx, span := tracer().Start(ctx, "OrderRepository.TransitionStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status_from", string(from)),
		attribute.String("order.status_to", string(u.Status)),
	))
	defer func() { finish(span, err) }()

	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET
			status = $3,
			tracking_number = COALESCE($4::text, tracking_number),
			estimated_delivery = COALESCE($5::timestamptz, estimated_delivery),
			status_reason = CASE WHEN $6::text = '' THEN status_reason ELSE $6::text END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(u.Status), u.TrackingNumber, u.EstimatedDelivery, u.Reason,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: transition order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("postgres: read order status: %w", err)
		}
		return nil, fmt.Errorf("%w: expected %s, found %s", domain.ErrStatusConflict, from, current)
	}
	return r.FindByID(ctx, id)
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, span := tracer().Start(ctx, "OrderRepository.FindByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { finish(span, err) }()

	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, number string) (_ *domain.Order, err error) {
	ctx, span := tracer().Start(ctx, "OrderRepository.FindByOrderNumber", trace.WithAttributes(attribute.String("order.number", number)))
	defer func() { finish(span, err) }()

	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
}

// FindMany returns matches newest first together with the unpaged total.
func (r *OrderRepository) FindMany(ctx context.Context, f domain.Filter) (_ []*domain.Order, _ int, err error) {
	ctx, span := tracer().Start(ctx, "OrderRepository.FindMany", trace.WithAttributes(
		attribute.String("filter.buyer_id", f.BuyerID),
		attribute.String("filter.seller_id", f.SellerID),
		attribute.String("filter.status", string(f.Status)),
	))
	defer func() { finish(span, err) }()

	f = f.Normalize()
	where, args := filterClause(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count orders: %w", err)
	}
	if total == 0 || f.Offset >= total {
		return []*domain.Order{}, total, nil
	}

	n := len(args)
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.pool.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: scan orders: %w", err)
	}
	if err := r.attachItems(ctx, orders...); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func filterClause(f domain.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.BuyerID != "" {
		add("buyer_id = ?", f.BuyerID)
	}
	if f.SellerID != "" {
		add("seller_id = ?", f.SellerID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.CreatedFrom != nil {
		add("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at < ?", *f.CreatedTo)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *OrderRepository) findOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: query order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan order: %w", err)
	}
	if err := r.attachItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders ...*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []domain.Item{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, product_name_ar, quantity, unit_price::text, subtotal::text
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("postgres: query order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return fmt.Errorf("postgres: scan order items: %w", err)
	}
	for _, it := range items {
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (*domain.Order, error) {
	var (
		o                                   domain.Order
		status                              string
		subtotal, shipping, discount, total string
		addr                                []byte
		estimatedDelivery                   *time.Time
	)
	if err := row.Scan(
		&o.ID, &o.Number, &o.BuyerID, &o.SellerID, &status,
		&subtotal, &shipping, &discount, &total, &o.Currency,
		&addr, &o.TrackingNumber, &estimatedDelivery, &o.StatusReason,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)
	var err error
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, err
	}
	if o.ShippingCost, err = decimal.NewFromString(shipping); err != nil {
		return nil, err
	}
	if o.Discount, err = decimal.NewFromString(discount); err != nil {
		return nil, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if estimatedDelivery != nil {
		ed := estimatedDelivery.UTC()
		o.EstimatedDelivery = &ed
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func scanItem(row pgx.CollectableRow) (domain.Item, error) {
	var (
		it                  domain.Item
		unitPrice, subtotal string
	)
	if err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductNameAr,
		&it.Quantity, &unitPrice, &subtotal); err != nil {
		return domain.Item{}, err
	}
	var err error
	if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return domain.Item{}, err
	}
	if it.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}
