package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	goredis "github.com/redis/go-redis/v9"
)

// CachedCatalog is a read-through cache in front of the product store.
// Stock writes always go to the store and evict the cached document, so the
// cache only ever serves the advisory pre-check.
type CachedCatalog struct {
	next   dominv.Repository
	client *goredis.Client
	ttl    time.Duration
	log    observability.Logger
}

func NewCachedCatalog(next dominv.Repository, client *goredis.Client, ttl time.Duration, logger observability.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = TTLProduct
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedCatalog{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    logger.With(observability.F("component", "catalog_cache")),
	}
}

func (c *CachedCatalog) FindProduct(ctx context.Context, productID string) (*dominv.Product, error) {
	key := fmt.Sprintf(keyProduct, productID)

	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p dominv.Product
		if uerr := json.Unmarshal(val, &p); uerr == nil {
			return &p, nil
		}
		c.client.Del(ctx, key)
	case !errors.Is(err, goredis.Nil):
		c.log.Warn("catalog_cache_read_failed",
			observability.F("product_id", productID),
			observability.F("error", err.Error()),
		)
	}

	p, err := c.next.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if data, merr := json.Marshal(p); merr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.log.Warn("catalog_cache_write_failed",
				observability.F("product_id", productID),
				observability.F("error", serr.Error()),
			)
		}
	}
	return p, nil
}

func (c *CachedCatalog) DecrementStock(ctx context.Context, productID string, qty int) (dominv.Record, error) {
	rec, err := c.next.DecrementStock(ctx, productID, qty)
	c.evict(ctx, productID)
	return rec, err
}

func (c *CachedCatalog) IncrementStock(ctx context.Context, productID string, qty int) (dominv.Record, error) {
	rec, err := c.next.IncrementStock(ctx, productID, qty)
	c.evict(ctx, productID)
	return rec, err
}

func (c *CachedCatalog) evict(ctx context.Context, productID string) {
	if err := c.client.Del(context.WithoutCancel(ctx), fmt.Sprintf(keyProduct, productID)).Err(); err != nil {
		c.log.Warn("catalog_cache_evict_failed",
			observability.F("product_id", productID),
			observability.F("error", err.Error()),
		)
	}
}
