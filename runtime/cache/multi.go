package cache

import (
	"sync"
	"time"
)

// ShardName identifies one of the four independently capacitated logical
// shards the cache maintains.
type ShardName string

const (
	ShardSections     ShardName = "sections"
	ShardContents     ShardName = "contents"
	ShardSkills       ShardName = "skills"
	ShardParseResults ShardName = "parse_results"
)

// Default shard capacities.
const (
	DefaultSectionsCapacity     = 50
	DefaultContentsCapacity     = 100
	DefaultSkillsCapacity       = 50
	DefaultParseResultsCapacity = 20
)

// Cache composes the four logical shards into a single unit with default
// capacities and a combined hit-rate view.
type Cache struct {
	shards map[ShardName]*Shard

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// CacheOption configures Cache at construction time.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	ttl    time.Duration
	jitter float64
}

// WithTTL sets the default TTL applied to every shard.
func WithTTL(d time.Duration) CacheOption {
	return func(c *cacheConfig) { c.ttl = d }
}

// WithCacheJitter sets the jitter fraction applied to every shard.
func WithCacheJitter(j float64) CacheOption {
	return func(c *cacheConfig) { c.jitter = j }
}

// NewCache constructs the four standard shards with their default
// capacities (sections 50, contents 100, skills 50, parse results 20) and a
// default TTL of 5 minutes with 0.1 jitter unless overridden.
func NewCache(opts ...CacheOption) *Cache {
	cfg := cacheConfig{ttl: 5 * time.Minute, jitter: 0.1}
	for _, opt := range opts {
		opt(&cfg)
	}
	shardOpts := []Option{WithDefaultTTL(cfg.ttl), WithJitter(cfg.jitter)}
	return &Cache{
		shards: map[ShardName]*Shard{
			ShardSections:     NewShard(DefaultSectionsCapacity, shardOpts...),
			ShardContents:     NewShard(DefaultContentsCapacity, shardOpts...),
			ShardSkills:       NewShard(DefaultSkillsCapacity, shardOpts...),
			ShardParseResults: NewShard(DefaultParseResultsCapacity, shardOpts...),
		},
	}
}

// Shard returns the named logical shard. It panics on an unrecognized name
// since ShardName is a closed enumeration local to this package.
func (c *Cache) Shard(name ShardName) *Shard {
	s, ok := c.shards[name]
	if !ok {
		panic("cache: unknown shard " + string(name))
	}
	return s
}

// CombinedStats is the unified per-shard plus aggregate hit/miss view.
type CombinedStats struct {
	PerShard map[ShardName]Stats
	Total    Stats
}

// HitRate returns the combined hit rate across every shard.
func (cs CombinedStats) HitRate() float64 { return cs.Total.HitRate() }

// Stats reports per-shard and combined hit/miss counters.
func (c *Cache) Stats() CombinedStats {
	out := CombinedStats{PerShard: make(map[ShardName]Stats, len(c.shards))}
	for name, shard := range c.shards {
		st := shard.Stats()
		out.PerShard[name] = st
		out.Total.Hits += st.Hits
		out.Total.Misses += st.Misses
	}
	return out
}

// ClearExpired sweeps every shard once, returning the total number of
// expired entries removed.
func (c *Cache) ClearExpired() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.ClearExpired()
	}
	return total
}

// ClearAll empties every shard.
func (c *Cache) ClearAll() {
	for _, shard := range c.shards {
		shard.Clear()
	}
}

// StartSweeper launches a background goroutine that calls ClearExpired
// every interval until Stop is called. It is safe to call StartSweeper at
// most once per Cache; subsequent calls are no-ops.
func (c *Cache) StartSweeper(interval time.Duration) {
	c.sweepOnce.Do(func() {
		c.stopSweep = make(chan struct{})
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.ClearExpired()
				case <-c.stopSweep:
					return
				}
			}
		}()
	})
}

// Stop halts a sweeper started by StartSweeper. It is a no-op if the
// sweeper was never started.
func (c *Cache) Stop() {
	if c.stopSweep != nil {
		select {
		case <-c.stopSweep:
		default:
			close(c.stopSweep)
		}
	}
}
