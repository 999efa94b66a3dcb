// Package scheduler hosts the background workers of the engine
package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/utils"
	"github.com/redis/go-redis/v9"
)

// CacheSweeper periodically scans the match cache and drops entries whose
// embedded expiry has passed. Redis TTLs already expire keys on their own;
// the sweeper catches keys left with a longer TTL after an admin shortens the
// cache TTL, and corrupt payloads.
type CacheSweeper struct {
	client   redis.UniversalClient
	logger   *log.Logger
	interval time.Duration
}

func NewCacheSweeper(client redis.UniversalClient, logger *log.Logger, interval time.Duration) *CacheSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CacheSweeper{
		client:   client,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the sweep loop and returns a cancel function.
func (s *CacheSweeper) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *CacheSweeper) runOnce(ctx context.Context) {
	now := utils.UTCNow()
	var scanned, removed int64

	iter := s.client.Scan(ctx, 0, "match:*", 100).Iterator()
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return
		}
		key := iter.Val()
		scanned++

		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// Expired between scan and read, or transient failure; skip either way.
			continue
		}

		var entry models.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			s.logger.Printf("cache sweeper: dropping corrupt entry %s: %v", key, err)
			s.drop(ctx, key, &removed)
			continue
		}

		if entry.Expired(now) {
			s.drop(ctx, key, &removed)
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.Printf("cache sweeper: scan failed: %v", err)
		return
	}

	if removed > 0 {
		s.logger.Printf("cache sweeper: scanned %d entries, removed %d", scanned, removed)
	}
}

func (s *CacheSweeper) drop(ctx context.Context, key string, removed *int64) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Printf("cache sweeper: delete %s failed: %v", key, err)
		return
	}
	*removed++
}
