package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/utils"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrCacheUnavailable reports a Redis failure on the read path.
var ErrCacheUnavailable = errors.New("match cache unavailable")

// ComputeFunc produces a fresh candidate set on cache miss. It runs at most
// once per (tenant, subject) key regardless of how many callers are waiting.
type ComputeFunc func(ctx context.Context) ([]models.MatchCandidate, error)

// MatchCache is the read-through cache in front of candidate generation.
type MatchCache interface {
	// GetOrCompute returns the cached set for the key, or runs compute and
	// stores the result. fresh is true when compute ran for this call chain.
	GetOrCompute(ctx context.Context, tenantID, subjectKey string, compute ComputeFunc) (candidates []models.MatchCandidate, fresh bool, err error)
	// Peek returns the cached entry without computing, nil on miss.
	Peek(ctx context.Context, tenantID, subjectKey string) (*models.CacheEntry, error)
	Invalidate(ctx context.Context, tenantID, subjectKey string) error
	// Clear drops every entry for a tenant and returns how many were removed.
	Clear(ctx context.Context, tenantID string) (int64, error)
	EntryCount(ctx context.Context, tenantID string) (int64, error)
}

// RedisMatchCache implements MatchCache on go-redis with single-flight
// coalescing of concurrent computations per key.
type RedisMatchCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	group   singleflight.Group
	metrics *EngineMetrics
}

// NewRedisMatchCache creates a new Redis-backed match cache
func NewRedisMatchCache(client redis.UniversalClient, ttl time.Duration, metrics *EngineMetrics) *RedisMatchCache {
	if ttl <= 0 {
		ttl = utils.DefaultCacheTTL
	}
	return &RedisMatchCache{
		client:  client,
		ttl:     ttl,
		metrics: metrics,
	}
}

func cacheKey(tenantID, subjectKey string) string {
	return fmt.Sprintf("match:%s:%s", tenantID, subjectKey)
}

func tenantPattern(tenantID string) string {
	return fmt.Sprintf("match:%s:*", tenantID)
}

type cacheResult struct {
	candidates []models.MatchCandidate
	fresh      bool
}

// GetOrCompute implements the read-through path. Concurrent callers for the
// same key share one computation; the shared result is fanned out to all of
// them.
func (c *RedisMatchCache) GetOrCompute(ctx context.Context, tenantID, subjectKey string, compute ComputeFunc) ([]models.MatchCandidate, bool, error) {
	entry, err := c.Peek(ctx, tenantID, subjectKey)
	if err != nil {
		return nil, false, err
	}
	if entry != nil {
		c.metrics.CacheHit(tenantID)
		return entry.Candidates, false, nil
	}

	c.metrics.CacheMiss(tenantID)

	key := cacheKey(tenantID, subjectKey)
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A racing caller may have populated the key while we queued.
		entry, err := c.Peek(ctx, tenantID, subjectKey)
		if err == nil && entry != nil {
			return cacheResult{candidates: entry.Candidates}, nil
		}

		candidates, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		// A cancelled computation is discarded, never cached.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if storeErr := c.store(ctx, tenantID, subjectKey, candidates); storeErr != nil {
			// The computed set is still good; serve it uncached.
			log.Printf("match cache: failed to store entry for %s: %v", key, storeErr)
		}

		return cacheResult{candidates: candidates, fresh: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	result := v.(cacheResult)
	return result.candidates, result.fresh, nil
}

// Peek returns the cached entry for the key without triggering computation
func (c *RedisMatchCache) Peek(ctx context.Context, tenantID, subjectKey string) (*models.CacheEntry, error) {
	raw, err := c.client.Get(ctx, cacheKey(tenantID, subjectKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Treat a corrupt entry as a miss; it will be recomputed.
		log.Printf("match cache: dropping corrupt entry for %s:%s: %v", tenantID, subjectKey, err)
		return nil, nil
	}

	if entry.Expired(utils.UTCNow()) {
		return nil, nil
	}

	return &entry, nil
}

func (c *RedisMatchCache) store(ctx context.Context, tenantID, subjectKey string, candidates []models.MatchCandidate) error {
	now := utils.UTCNow()
	entry := models.CacheEntry{
		TenantID:   tenantID,
		SubjectKey: subjectKey,
		Candidates: candidates,
		ComputedAt: now,
		ExpiresAt:  now.Add(c.ttl),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, cacheKey(tenantID, subjectKey), raw, c.ttl).Err()
}

// Invalidate drops a single entry
func (c *RedisMatchCache) Invalidate(ctx context.Context, tenantID, subjectKey string) error {
	err := c.client.Del(ctx, cacheKey(tenantID, subjectKey)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Clear removes all entries for a tenant and returns the exact count removed
func (c *RedisMatchCache) Clear(ctx context.Context, tenantID string) (int64, error) {
	var cleared int64

	iter := c.client.Scan(ctx, 0, tenantPattern(tenantID), 100).Iterator()
	keys := make([]string, 0, 100)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return cleared, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
			}
			cleared += n
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return cleared, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	if len(keys) > 0 {
		n, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			return cleared, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		cleared += n
	}

	return cleared, nil
}

// EntryCount returns the live number of cached entries for a tenant
func (c *RedisMatchCache) EntryCount(ctx context.Context, tenantID string) (int64, error) {
	var count int64

	iter := c.client.Scan(ctx, 0, tenantPattern(tenantID), 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	return count, nil
}
