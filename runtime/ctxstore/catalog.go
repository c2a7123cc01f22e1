package ctxstore

import (
	"context"
	"fmt"

	"github.com/wavegraph/orchestrator/runtime/cache"
)

// SectionSource loads section definitions from wherever they live (disk,
// a catalogue service, an embedded asset set). Loads are assumed to be
// expensive relative to a cache hit.
type SectionSource interface {
	LoadSection(ctx context.Context, id string) (Section, error)
}

// Catalog resolves sections for prompt assembly through the shared cache:
// section metadata goes to the sections shard and section content to the
// contents shard, so repeated prompt assemblies for the same mode/platform
// stay off the source.
type Catalog struct {
	src   SectionSource
	cache *cache.Cache
}

// NewCatalog wraps src with c's sections/contents shards.
func NewCatalog(src SectionSource, c *cache.Cache) (*Catalog, error) {
	if src == nil {
		return nil, fmt.Errorf("ctxstore: section source is required")
	}
	if c == nil {
		return nil, fmt.Errorf("ctxstore: cache is required")
	}
	return &Catalog{src: src, cache: c}, nil
}

// Section resolves id, serving from the sections shard when possible and
// falling back to the source on a miss. A successful load populates both
// the sections shard (the Section value) and the contents shard (the raw
// content string, sized by its length).
func (c *Catalog) Section(ctx context.Context, id string) (Section, error) {
	if entry, ok := c.cache.Shard(cache.ShardSections).Get(id); ok {
		if s, ok := entry.Data.(Section); ok {
			return s, nil
		}
	}
	s, err := c.src.LoadSection(ctx, id)
	if err != nil {
		return Section{}, fmt.Errorf("ctxstore: load section %q: %w", id, err)
	}
	c.cache.Shard(cache.ShardSections).Set(id, s, nil, len(s.Content))
	c.cache.Shard(cache.ShardContents).Set(id, s.Content, nil, len(s.Content))
	return s, nil
}

// Sections resolves every id in order, dropping ids whose load fails so a
// single missing section does not abort prompt assembly; the caller's
// budget-driven selection already tolerates absent candidates.
func (c *Catalog) Sections(ctx context.Context, ids []string) []Section {
	out := make([]Section, 0, len(ids))
	for _, id := range ids {
		s, err := c.Section(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
