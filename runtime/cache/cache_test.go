package cache

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestShard_SetGetRoundTrip(t *testing.T) {
	s := NewShard(10)
	s.Set("k", "v", nil, 1)
	entry, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", entry.Data)
	require.Equal(t, 1, entry.Hits)
}

func TestShard_GetMovesToMRUAndEvictsLRU(t *testing.T) {
	s := NewShard(2)
	s.Set("a", 1, nil, 1)
	s.Set("b", 2, nil, 1)
	_, _ = s.Get("a") // "a" is now MRU, "b" is LRU
	s.Set("c", 3, nil, 1)

	_, ok := s.Get("b")
	require.False(t, ok, "b should have been evicted as LRU")
	_, ok = s.Get("a")
	require.True(t, ok)
	_, ok = s.Get("c")
	require.True(t, ok)
}

func TestShard_TTLExpiry(t *testing.T) {
	s := NewShard(10, WithJitter(0))
	ttl := 10 * time.Millisecond
	s.Set("k", "v", &ttl, 1)
	time.Sleep(20 * time.Millisecond)
	_, ok := s.Get("k")
	require.False(t, ok)
}

func TestShard_DeleteAndClear(t *testing.T) {
	s := NewShard(10)
	s.Set("a", 1, nil, 1)
	s.Delete("a")
	_, ok := s.Get("a")
	require.False(t, ok)

	s.Set("b", 1, nil, 1)
	s.Set("c", 2, nil, 1)
	s.Clear()
	require.Equal(t, 0, s.Len())
}

func TestShard_ClearExpired(t *testing.T) {
	s := NewShard(10, WithJitter(0))
	ttl := 5 * time.Millisecond
	s.Set("expiring", 1, &ttl, 1)
	s.Set("persistent", 2, nil, 1)
	time.Sleep(15 * time.Millisecond)
	removed := s.ClearExpired()
	require.Equal(t, 1, removed)
	_, ok := s.Get("persistent")
	require.True(t, ok)
}

func TestShard_HitRate(t *testing.T) {
	s := NewShard(10)
	s.Set("a", 1, nil, 1)
	_, _ = s.Get("a")
	_, _ = s.Get("missing")
	stats := s.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.InDelta(t, 0.5, stats.HitRate(), 0.0001)
}

func TestShard_RangeVisitsLiveEntriesMRUFirst(t *testing.T) {
	s := NewShard(10)
	s.Set("a", 1, nil, 1)
	s.Set("b", 2, nil, 1)

	var keys []string
	s.Range(func(key string, e Entry) bool {
		keys = append(keys, key)
		return true
	})
	require.Equal(t, []string{"b", "a"}, keys)

	keys = nil
	s.Range(func(key string, e Entry) bool {
		keys = append(keys, key)
		return false
	})
	require.Equal(t, []string{"b"}, keys)
}

func TestCache_DefaultShardCapacities(t *testing.T) {
	c := NewCache()
	require.NotNil(t, c.Shard(ShardSections))
	require.NotNil(t, c.Shard(ShardContents))
	require.NotNil(t, c.Shard(ShardSkills))
	require.NotNil(t, c.Shard(ShardParseResults))
	require.Equal(t, DefaultSectionsCapacity, c.Shard(ShardSections).capacity)
	require.Equal(t, DefaultContentsCapacity, c.Shard(ShardContents).capacity)
	require.Equal(t, DefaultSkillsCapacity, c.Shard(ShardSkills).capacity)
	require.Equal(t, DefaultParseResultsCapacity, c.Shard(ShardParseResults).capacity)
}

func TestCache_CombinedStats(t *testing.T) {
	c := NewCache()
	c.Shard(ShardSections).Set("a", 1, nil, 1)
	_, _ = c.Shard(ShardSections).Get("a")
	_, _ = c.Shard(ShardContents).Get("missing")

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Total.Hits)
	require.Equal(t, int64(1), stats.Total.Misses)
}

// P9: after Set(k,v) and before any eviction or TTL expiry, Get(k) = v and
// increments hits.
func TestShard_CacheLivenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("set then immediate get returns the stored value and bumps hits", prop.ForAll(
		func(key string, value int) bool {
			s := NewShard(1000) // capacity far above what a single Set/Get touches
			s.Set(key, value, nil, 1)
			entry, ok := s.Get(key)
			return ok && entry.Data == value && entry.Hits == 1
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.Int(),
	))

	properties.TestingRun(t)
}
