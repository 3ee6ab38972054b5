package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exiletrade/deal-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary. Redis failures are never
// surfaced; the primary answers instead.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) RecordSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	if err := s.primary.RecordSnapshot(ctx, snap); err != nil {
		return err
	}
	// Every cached limit for this key is stale now. A read that missed
	// before this write may still refill the hash with older rows; those
	// live at most ttl.
	if err := s.rdb.Del(ctx, historyKey(snap.Key)).Err(); err != nil {
		slog.Debug("history cache invalidation failed", "key", snap.Key, "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListSnapshots(ctx context.Context, key string, limit int) ([]model.MarketSnapshot, error) {
	limit = normalizeLimit(limit)
	field := fmt.Sprintf("%d", limit)

	data, err := s.rdb.HGet(ctx, historyKey(key), field).Bytes()
	if err == nil {
		var snaps []model.MarketSnapshot
		if json.Unmarshal(data, &snaps) == nil {
			return snaps, nil
		}
	}

	// Cache miss.
	snaps, err := s.primary.ListSnapshots(ctx, key, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snaps); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, historyKey(key), field, data)
		pipe.Expire(ctx, historyKey(key), s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Debug("history cache fill failed", "key", key, "err", err)
		}
	}
	return snaps, nil
}

func historyKey(key string) string { return fmt.Sprintf("history:%s", key) }
