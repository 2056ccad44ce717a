// Package rediscache keeps transient readiness verdicts in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
)

const defaultPrefix = "workflow:verdict:"

// VerdictCache stores readiness verdicts under caller supplied keys. Entries
// expire after the configured TTL and are never the source of truth.
type VerdictCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// New creates a cache over client. A non-positive ttl defaults to one minute.
func New(client redis.Cmdable, ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &VerdictCache{client: client, ttl: ttl, prefix: defaultPrefix}
}

// Get returns the cached verdict for key. A miss is reported with ok=false
// and a nil error.
func (c *VerdictCache) Get(ctx context.Context, key string) (readiness.Verdict, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return readiness.Verdict{}, false, nil
	}
	if err != nil {
		return readiness.Verdict{}, false, fmt.Errorf("read verdict %s: %w", key, err)
	}
	var verdict readiness.Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return readiness.Verdict{}, false, fmt.Errorf("decode verdict %s: %w", key, err)
	}
	return verdict, true, nil
}

// Put stores verdict under key.
func (c *VerdictCache) Put(ctx context.Context, key string, verdict readiness.Verdict) error {
	raw, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("store verdict %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (c *VerdictCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
