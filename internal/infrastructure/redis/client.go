// Package redis holds the Redis-backed catalog cache and webhook dedup keys.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	// product:{id} -> JSON product document
	keyProduct = "product:%s"
	// dedup:webhook:{paymentId}:{type}
	keyWebhookDedup = "dedup:%s"

	TTLProduct = 10 * time.Minute
	TTLDedup   = 48 * time.Hour
)

// Connect builds a client and pings it.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	c := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return c, nil
}
