package submit

import (
	"context"
	"log/slog"
	"time"

	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
	"github.com/lifearchive/enrichment-pipeline/pkg/redis"
)

const dedupeKeyPrefix = "ingest:key:"

// DedupeCache remembers idempotency keys the boundary has already accepted,
// so a re-collected document with unchanged content is not resubmitted. It
// fails open: any cache error is treated as "not seen".
type DedupeCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewDedupeCache creates a cache over the given Redis client.
func NewDedupeCache(client *redis.Client, ttl time.Duration) *DedupeCache {
	return &DedupeCache{
		client: client,
		ttl:    ttl,
		logger: logger.WithComponent("dedupe-cache"),
	}
}

// Seen reports whether key was already accepted by the boundary.
func (c *DedupeCache) Seen(ctx context.Context, key string) bool {
	ok, err := c.client.Exists(ctx, dedupeKeyPrefix+key)
	if err != nil {
		c.logger.Warn("dedupe lookup failed", "error", err)
		return false
	}
	return ok
}

// Mark records key as accepted. Best effort: a failed write only means a
// future resubmission, which the boundary deduplicates anyway.
func (c *DedupeCache) Mark(ctx context.Context, key string) {
	if _, err := c.client.SetNX(ctx, dedupeKeyPrefix+key, 1, c.ttl); err != nil {
		c.logger.Warn("dedupe mark failed", "error", err)
	}
}
