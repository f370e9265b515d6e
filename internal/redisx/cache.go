package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Cache is the redis fast path for webhook ingestion: delivery dedup keys
// and order-status cache invalidation. All operations are best-effort; a
// redis outage degrades to reprocessing, never to lost payments.
type Cache struct {
	R *redis.Client
}

func (c *Cache) Seen(ctx context.Context, key string) bool {
	ok, _ := Exists(ctx, c.R, key)
	return ok
}

func (c *Cache) Mark(ctx context.Context, key string) {
	_ = c.R.Set(ctx, key, "1", TTLDedup).Err()
}

func (c *Cache) DropStatus(ctx context.Context, orderID string) {
	_ = c.R.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
