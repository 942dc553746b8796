package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundingbot/fundingbot/internal/arb"
)

// feeCacheTTL mirrors spec §3's "cached ≤24h" bound for FeeStructure.
const feeCacheTTL = 24 * time.Hour

const feeCacheKeyPrefix = "fundingbot:fee:"

// FeeCache is a Redis-backed cache for each venue's FeeStructure with a
// 24h TTL. Nothing outside its tests constructs one; the venue adapters
// fetch fees directly on each call. Grounded on the
// teacher's Blackboard redis client construction
// (internal/orchestrator/blackboard.go), narrowed to a single
// get/set-with-TTL use case.
type FeeCache struct {
	client *redis.Client
}

// NewFeeCache builds a FeeCache against a Redis instance at addr.
func NewFeeCache(addr, password string, db int) *FeeCache {
	return &FeeCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Close releases the underlying Redis client.
func (c *FeeCache) Close() error { return c.client.Close() }

// Get returns the cached fee structure for venue, if present and not
// past the §3 24h bound (Redis TTL already enforces this, but Expired
// is checked too since CachedAt travels with the payload for callers
// that bypass Redis's own expiry, e.g. in tests against miniredis).
func (c *FeeCache) Get(ctx context.Context, venue string, now time.Time) (arb.FeeStructure, bool) {
	data, err := c.client.Get(ctx, feeCacheKeyPrefix+venue).Bytes()
	if err != nil {
		return arb.FeeStructure{}, false
	}
	var fs arb.FeeStructure
	if err := json.Unmarshal(data, &fs); err != nil {
		return arb.FeeStructure{}, false
	}
	if fs.Expired(now) {
		return arb.FeeStructure{}, false
	}
	return fs, true
}

// Set caches a venue's fee structure with the §3 TTL.
func (c *FeeCache) Set(ctx context.Context, venue string, fs arb.FeeStructure) error {
	data, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("marshal fee structure for %s: %w", venue, err)
	}
	return c.client.Set(ctx, feeCacheKeyPrefix+venue, data, feeCacheTTL).Err()
}
