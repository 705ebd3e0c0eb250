package cache

import (
	"context"
	"time"
)

// BytesCache is the best-effort cache used for session snapshots; a
// miss or a cache error always falls through to storage.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
