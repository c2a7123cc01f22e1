// Package cache implements a bounded, sharded LRU+TTL key-value store used to
// hold section, content, skill, and parse-result payloads for context
// assembly. Each shard stores a bounded-capacity, any-payload entry with
// explicit LRU eviction on top of per-entry TTL expiry.
package cache

import (
	"container/list"
	"math/rand/v2"
	"sync"
	"time"
)

// Entry is a single cached value plus its bookkeeping: insertion timestamp,
// hit counter, an opaque size hint, and an optional per-entry TTL override.
type Entry struct {
	Data      any
	Timestamp time.Time
	Hits      int
	Size      int
	TTL       *time.Duration
}

// Option configures a Shard at construction time.
type Option func(*Shard)

// WithDefaultTTL sets the TTL applied to entries that do not specify their
// own. The zero value means entries never expire on age alone (only
// eviction removes them).
func WithDefaultTTL(d time.Duration) Option {
	return func(s *Shard) { s.defaultTTL = d }
}

// WithJitter sets the fractional jitter applied to each entry's effective
// TTL at Set time, spreading expirations so they do not all land at once
// (the classic cache stampede). j is a fraction in [0,1); the default
// is 0.1.
func WithJitter(j float64) Option {
	return func(s *Shard) { s.jitter = j }
}

// Shard is a single bounded, capacity-limited LRU+TTL cache. Four
// independently-capacitated Shards (sections, contents, skills, parse
// results) compose the full Cache (see multi.go); each Shard itself only
// knows about one capacity and one namespace of keys.
type Shard struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	jitter     float64

	items map[string]*list.Element
	order *list.List // front = most recently used

	hits   int64
	misses int64
}

type node struct {
	key   string
	entry Entry
}

// NewShard constructs a Shard bounded to capacity entries. A non-positive
// capacity means unbounded (eviction never triggers), useful for tests.
func NewShard(capacity int, opts ...Option) *Shard {
	s := &Shard{
		capacity: capacity,
		jitter:   0.1,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// effectiveTTL returns the live-window for e: its own TTL override if set,
// otherwise the shard's default.
func (s *Shard) effectiveTTL(e *Entry) time.Duration {
	if e.TTL != nil {
		return *e.TTL
	}
	return s.defaultTTL
}

// jittered applies the shard's jitter fraction to base, returning
// base * (1 + U(-j, +j)).
func (s *Shard) jittered(base time.Duration) time.Duration {
	if s.jitter <= 0 || base <= 0 {
		return base
	}
	spread := (rand.Float64()*2 - 1) * s.jitter
	return time.Duration(float64(base) * (1 + spread))
}

// Get looks up key. A hit moves the entry to most-recently-used and
// increments its hit counter; an entry whose age has exceeded its live
// window is treated as a miss and deleted. The returned bool reports
// whether the lookup hit.
func (s *Shard) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		s.misses++
		return Entry{}, false
	}
	n := el.Value.(*node)
	ttl := s.effectiveTTL(&n.entry)
	if ttl > 0 && time.Since(n.entry.Timestamp) >= ttl {
		s.removeElement(el)
		s.misses++
		return Entry{}, false
	}

	n.entry.Hits++
	s.order.MoveToFront(el)
	s.hits++
	return n.entry, true
}

// Set stores value under key with an optional per-entry TTL override (nil
// uses the shard default). The stored entry's effective TTL is jittered at
// write time. If the shard is at capacity and key is new, the
// least-recently-used entry is evicted first.
func (s *Shard) Set(key string, value any, ttl *time.Duration, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jitteredTTL *time.Duration
	if ttl != nil {
		d := s.jittered(*ttl)
		jitteredTTL = &d
	} else if s.defaultTTL > 0 {
		d := s.jittered(s.defaultTTL)
		jitteredTTL = &d
	}

	if el, ok := s.items[key]; ok {
		n := el.Value.(*node)
		n.entry = Entry{Data: value, Timestamp: time.Now(), Size: size, TTL: jitteredTTL}
		s.order.MoveToFront(el)
		return
	}

	n := &node{key: key, entry: Entry{Data: value, Timestamp: time.Now(), Size: size, TTL: jitteredTTL}}
	el := s.order.PushFront(n)
	s.items[key] = el

	if s.capacity > 0 && len(s.items) > s.capacity {
		s.evictOldest()
	}
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (s *Shard) evictOldest() {
	el := s.order.Back()
	if el == nil {
		return
	}
	s.removeElement(el)
}

// removeElement deletes el from both the map and the list. Caller must hold mu.
func (s *Shard) removeElement(el *list.Element) {
	n := el.Value.(*node)
	delete(s.items, n.key)
	s.order.Remove(el)
}

// Delete removes key if present. It is a no-op if key is absent.
func (s *Shard) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
}

// Clear removes every entry from the shard.
func (s *Shard) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order.Init()
}

// ClearExpired sweeps the shard and removes every entry whose live window
// has elapsed, without touching recency order for surviving entries. It is
// intended to be called periodically (see Cache.StartSweeper).
func (s *Shard) ClearExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		n := el.Value.(*node)
		ttl := s.effectiveTTL(&n.entry)
		if ttl > 0 && time.Since(n.entry.Timestamp) >= ttl {
			s.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Range calls fn for every live entry in most-recently-used-first order,
// stopping early when fn returns false. Expired entries are skipped but not
// removed; ClearExpired owns reclamation. Range does not count as a read:
// recency order and hit counters are left untouched.
func (s *Shard) Range(fn func(key string, e Entry) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.order.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node)
		ttl := s.effectiveTTL(&n.entry)
		if ttl > 0 && time.Since(n.entry.Timestamp) >= ttl {
			continue
		}
		if !fn(n.key, n.entry) {
			return
		}
	}
}

// Len returns the current number of entries in the shard.
func (s *Shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Stats reports cumulative hit/miss counters for the shard.
type Stats struct {
	Hits   int64
	Misses int64
}

// HitRate returns Hits/(Hits+Misses), or 0 when there have been no lookups.
func (st Stats) HitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total)
}

// Stats returns the shard's cumulative hit/miss counters.
func (s *Shard) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Hits: s.hits, Misses: s.misses}
}
