package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// WebhookDedup claims webhook delivery keys with SET NX. A claim only saves
// work; the conditional status update in the store decides correctness.
type WebhookDedup struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewWebhookDedup(client *goredis.Client, ttl time.Duration) *WebhookDedup {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &WebhookDedup{client: client, ttl: ttl}
}

func (d *WebhookDedup) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, fmt.Sprintf(keyWebhookDedup, key), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", key, err)
	}
	return ok, nil
}

func (d *WebhookDedup) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, fmt.Sprintf(keyWebhookDedup, key)).Err(); err != nil {
		return fmt.Errorf("redis: release %s: %w", key, err)
	}
	return nil
}
