package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InventoryRepository stores one JSONB document per product. Stock lives under
// doc->'inventory' and is only changed by single conditional UPDATE statements.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// productDoc is the stored document; id and seller also live in their own columns.
type productDoc struct {
	Name      string          `json:"name"`
	NameAr    string          `json:"nameAr,omitempty"`
	Price     json.RawMessage `json:"price"`
	Inventory domain.Record   `json:"inventory"`
}

// Upsert writes a full product document. Used by seeding and tests.
func (r *InventoryRepository) Upsert(ctx context.Context, p *domain.Product) (err error) {
	ctx, span := tracer().Start(ctx, "InventoryRepository.Upsert", trace.WithAttributes(attribute.String("product.id", p.ID)))
	defer func() { finish(span, err) }()

	price, err := p.Price.MarshalJSON()
	if err != nil {
		return fmt.Errorf("postgres: encode price: %w", err)
	}
	doc, err := json.Marshal(productDoc{Name: p.Name, NameAr: p.NameAr, Price: price, Inventory: p.Inventory})
	if err != nil {
		return fmt.Errorf("postgres: encode product: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO products (id, seller_id, doc, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id, doc = EXCLUDED.doc, updated_at = NOW()`,
		p.ID, p.SellerID, doc,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert product: %w", err)
	}
	return nil
}

func (r *InventoryRepository) FindProduct(ctx context.Context, productID string) (_ *domain.Product, err error) {
	ctx, span := tracer().Start(ctx, "InventoryRepository.FindProduct", trace.WithAttributes(attribute.String("product.id", productID)))
	defer func() { finish(span, err) }()

	var (
		p   domain.Product
		doc []byte
	)
	err = r.pool.QueryRow(ctx, `SELECT id, seller_id, doc, updated_at FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.SellerID, &doc, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find product: %w", err)
	}

	var d productDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("postgres: decode product: %w", err)
	}
	if err := p.Price.UnmarshalJSON(d.Price); err != nil {
		return nil, fmt.Errorf("postgres: decode price: %w", err)
	}
	p.Name, p.NameAr, p.Inventory = d.Name, d.NameAr, d.Inventory
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// DecrementStock subtracts qty only while the stored quantity covers it.
// The check and the write are one statement, so concurrent callers can never
// drive quantity below zero.
func (r *InventoryRepository) DecrementStock(ctx context.Context, productID string, qty int) (_ domain.Record, err error) {
	ctx, span := tracer().Start(ctx, "InventoryRepository.DecrementStock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("inventory.quantity", qty),
	))
	defer func() { finish(span, err) }()

	if qty <= 0 {
		return domain.Record{}, domain.ErrInvalidQuantity
	}

	var raw []byte
	err = r.pool.QueryRow(ctx, `
		UPDATE products SET
			doc = jsonb_set(
				jsonb_set(doc, '{inventory,quantity}', to_jsonb((doc->'inventory'->>'quantity')::int - $2::int)),
				'{inventory,inStock}', to_jsonb((doc->'inventory'->>'quantity')::int - $2::int > 0)
			),
			updated_at = NOW()
		WHERE id = $1 AND (doc->'inventory'->>'quantity')::int >= $2::int
		RETURNING doc->'inventory'`,
		productID, qty,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.rejectDecrement(ctx, productID, qty)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("postgres: decrement stock: %w", err)
	}
	return decodeRecord(raw)
}

// rejectDecrement explains why the conditional update matched nothing.
func (r *InventoryRepository) rejectDecrement(ctx context.Context, productID string, qty int) (domain.Record, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc->'inventory' FROM products WHERE id = $1`, productID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("postgres: read stock: %w", err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return domain.Record{}, err
	}
	return rec, &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: rec.Quantity}
}

func (r *InventoryRepository) IncrementStock(ctx context.Context, productID string, qty int) (_ domain.Record, err error) {
	ctx, span := tracer().Start(ctx, "InventoryRepository.IncrementStock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("inventory.quantity", qty),
	))
	defer func() { finish(span, err) }()

	if qty <= 0 {
		return domain.Record{}, domain.ErrInvalidQuantity
	}

	var raw []byte
	err = r.pool.QueryRow(ctx, `
		UPDATE products SET
			doc = jsonb_set(
				jsonb_set(doc, '{inventory,quantity}', to_jsonb((doc->'inventory'->>'quantity')::int + $2::int)),
				'{inventory,inStock}', 'true'::jsonb
			),
			updated_at = NOW()
		WHERE id = $1
		RETURNING doc->'inventory'`,
		productID, qty,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("postgres: increment stock: %w", err)
	}
	return decodeRecord(raw)
}

func decodeRecord(raw []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("postgres: decode inventory: %w", err)
	}
	return rec, nil
}

