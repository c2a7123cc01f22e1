package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisShard is a durable, cross-process alternative to Shard for the
// "contents" and "sections" shards — the two expected to hold the larger
// payloads, including the section-selection cache. It exposes the same
// read/write/evict vocabulary as Shard (Get/Set/Delete; there is no
// Clear) but is not a drop-in Go interface implementation of Shard: Redis
// has no notion of the in-process LRU list Shard maintains, so eviction is
// left to Redis's own maxmemory policy and only TTL expiry is enforced
// here. Hit/miss counters are kept in-process since Redis has no built-in
// per-key counter semantics cheap enough to use on every GET.
type RedisShard struct {
	rdb        *redis.Client
	prefix     string
	defaultTTL time.Duration
	jitter     float64

	hits   atomic.Int64
	misses atomic.Int64
}

// RedisOption configures a RedisShard at construction time.
type RedisOption func(*RedisShard)

// WithRedisDefaultTTL mirrors WithDefaultTTL for the Redis-backed shard.
func WithRedisDefaultTTL(d time.Duration) RedisOption {
	return func(s *RedisShard) { s.defaultTTL = d }
}

// WithRedisJitter mirrors WithJitter for the Redis-backed shard.
func WithRedisJitter(j float64) RedisOption {
	return func(s *RedisShard) { s.jitter = j }
}

// NewRedisShard wraps rdb as a cache shard namespaced under prefix, so one
// Redis instance can back several logical shards without key collisions.
func NewRedisShard(rdb *redis.Client, prefix string, opts ...RedisOption) *RedisShard {
	s := &RedisShard{rdb: rdb, prefix: prefix, jitter: 0.1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisShard) key(k string) string { return s.prefix + ":" + k }

type redisPayload struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Hits      int             `json:"hits"`
	Size      int             `json:"size"`
}

// Get mirrors Shard.Get against the remote store. TTL is enforced by Redis
// itself (Set writes the key with an EXPIRE), so any key Get finds is by
// definition live; a miss is therefore always "absent", never "expired".
func (s *RedisShard) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		s.misses.Add(1)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get %q: %w", key, err)
	}
	var p redisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis decode %q: %w", key, err)
	}
	var data any
	if err := json.Unmarshal(p.Data, &data); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis decode payload %q: %w", key, err)
	}
	s.hits.Add(1)
	return Entry{Data: data, Timestamp: p.Timestamp, Hits: p.Hits + 1, Size: p.Size}, true, nil
}

// Set mirrors Shard.Set, jittering the effective TTL the same way the
// in-memory shard does before handing it to Redis as the key's EXPIRE.
func (s *RedisShard) Set(ctx context.Context, key string, value any, ttl *time.Duration, size int) error {
	effective := s.defaultTTL
	if ttl != nil {
		effective = *ttl
	}
	effective = jitterDuration(effective, s.jitter)

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: redis encode payload %q: %w", key, err)
	}
	payload, err := json.Marshal(redisPayload{Data: data, Timestamp: time.Now(), Size: size})
	if err != nil {
		return fmt.Errorf("cache: redis encode entry %q: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.key(key), payload, effective).Err(); err != nil {
		return fmt.Errorf("cache: redis set %q: %w", key, err)
	}
	return nil
}

// Delete mirrors Shard.Delete.
func (s *RedisShard) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete %q: %w", key, err)
	}
	return nil
}

// Stats returns the in-process hit/miss counters accumulated since
// construction (Redis itself is not asked to track these).
func (s *RedisShard) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// jitterDuration applies the same base*(1+U(-j,+j)) jitter formula Shard
// uses, so both backings agree on the same stampede-avoidance behavior.
func jitterDuration(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	spread := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(base) * (1 + spread))
}
