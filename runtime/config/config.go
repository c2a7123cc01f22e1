// Package config loads the orchestrator's tunable defaults (pruning,
// compaction, cache, executor fan-out, and reflection pass score) from a
// YAML document using gopkg.in/yaml.v3. Load parses into a sparse YAML
// struct and overlays it onto hardcoded defaults field by field, rather
// than relying on zero-value YAML unmarshaling, so an omitted section
// keeps its default instead of zeroing out.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wavegraph/orchestrator/runtime/ctxstore"
	"github.com/wavegraph/orchestrator/runtime/executor"
)

// DefaultPassScore is the reflection.passScore default.
const DefaultPassScore = 90

// CacheConfig mirrors the cache.* defaults.
type CacheConfig struct {
	MaxSections     int
	MaxContents     int
	MaxSkills       int
	MaxParseResults int
	TTL             time.Duration
	Jitter          float64
}

// DefaultCacheConfig matches runtime/cache's NewCache defaults.
var DefaultCacheConfig = CacheConfig{
	MaxSections:     50,
	MaxContents:     100,
	MaxSkills:       50,
	MaxParseResults: 20,
	TTL:             5 * time.Minute,
	Jitter:          0.1,
}

// Config is the fully-resolved, ready-to-use configuration every other
// package's construction reads from.
type Config struct {
	Pruning    ctxstore.PruningPolicy
	Compaction ctxstore.CompactionPolicy
	Cache      CacheConfig
	Executor   executor.Config
	PassScore  int
}

// Default returns the built-in defaults, used when no YAML document is
// supplied or a document omits a section entirely.
func Default() Config {
	return Config{
		Pruning:    ctxstore.DefaultPruningPolicy,
		Compaction: ctxstore.DefaultCompactionPolicy,
		Cache:      DefaultCacheConfig,
		Executor:   executor.DefaultConfig,
		PassScore:  DefaultPassScore,
	}
}

// yamlDoc is the sparse, all-optional YAML shape Load unmarshals into
// before overlaying onto Default(). Every field is a pointer or a
// slice/map so "not present in the document" is distinguishable from "set
// to the zero value".
type yamlDoc struct {
	Pruning *struct {
		ProtectWindow  *int     `yaml:"protectWindow"`
		MinSavings     *int     `yaml:"minSavings"`
		ProtectedTools []string `yaml:"protectedTools"`
	} `yaml:"pruning"`
	Compaction *struct {
		CompressionThreshold *float64 `yaml:"compressionThreshold"`
		MinSavings           *int     `yaml:"minSavings"`
	} `yaml:"compaction"`
	Cache *struct {
		MaxSections     *int     `yaml:"maxSections"`
		MaxContents     *int     `yaml:"maxContents"`
		MaxSkills       *int     `yaml:"maxSkills"`
		MaxParseResults *int     `yaml:"maxParseResults"`
		TTLSeconds      *int     `yaml:"ttlSeconds"`
		Jitter          *float64 `yaml:"jitter"`
	} `yaml:"cache"`
	Executor *struct {
		ParallelFanOut   *int `yaml:"parallelFanOut"`
		DefaultTimeoutMs *int `yaml:"defaultTimeoutMs"`
	} `yaml:"executor"`
	Reflection *struct {
		PassScore *int `yaml:"passScore"`
	} `yaml:"reflection"`
}

// Load reads and parses a YAML configuration document from path, overlaying
// any fields it sets onto Default(). A missing file is not an error: Load
// returns Default() unchanged, since every field has a documented default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse overlays a YAML document's contents onto Default().
func Parse(data []byte) (Config, error) {
	cfg := Default()
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	applyOverlay(&cfg, doc)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyOverlay(cfg *Config, doc yamlDoc) {
	if doc.Pruning != nil {
		if doc.Pruning.ProtectWindow != nil {
			cfg.Pruning.ProtectWindow = *doc.Pruning.ProtectWindow
		}
		if doc.Pruning.MinSavings != nil {
			cfg.Pruning.MinSavings = *doc.Pruning.MinSavings
		}
		if doc.Pruning.ProtectedTools != nil {
			cfg.Pruning.ProtectedTools = doc.Pruning.ProtectedTools
		}
	}
	if doc.Compaction != nil {
		if doc.Compaction.CompressionThreshold != nil {
			cfg.Compaction.CompressionThreshold = *doc.Compaction.CompressionThreshold
		}
		if doc.Compaction.MinSavings != nil {
			cfg.Compaction.MinSavings = *doc.Compaction.MinSavings
		}
	}
	if doc.Cache != nil {
		if doc.Cache.MaxSections != nil {
			cfg.Cache.MaxSections = *doc.Cache.MaxSections
		}
		if doc.Cache.MaxContents != nil {
			cfg.Cache.MaxContents = *doc.Cache.MaxContents
		}
		if doc.Cache.MaxSkills != nil {
			cfg.Cache.MaxSkills = *doc.Cache.MaxSkills
		}
		if doc.Cache.MaxParseResults != nil {
			cfg.Cache.MaxParseResults = *doc.Cache.MaxParseResults
		}
		if doc.Cache.TTLSeconds != nil {
			cfg.Cache.TTL = time.Duration(*doc.Cache.TTLSeconds) * time.Second
		}
		if doc.Cache.Jitter != nil {
			cfg.Cache.Jitter = *doc.Cache.Jitter
		}
	}
	if doc.Executor != nil {
		if doc.Executor.ParallelFanOut != nil {
			cfg.Executor.ParallelFanOut = *doc.Executor.ParallelFanOut
		}
		if doc.Executor.DefaultTimeoutMs != nil {
			cfg.Executor.DefaultTimeoutMs = *doc.Executor.DefaultTimeoutMs
		}
	}
	if doc.Reflection != nil && doc.Reflection.PassScore != nil {
		cfg.PassScore = *doc.Reflection.PassScore
	}
}

func validate(cfg Config) error {
	switch {
	case cfg.Pruning.ProtectWindow < 0:
		return fmt.Errorf("config: pruning.protectWindow must be >= 0")
	case cfg.Compaction.CompressionThreshold <= 0 || cfg.Compaction.CompressionThreshold > 1:
		return fmt.Errorf("config: compaction.compressionThreshold must be in (0, 1]")
	case cfg.Cache.MaxSections <= 0 || cfg.Cache.MaxContents <= 0 || cfg.Cache.MaxSkills <= 0 || cfg.Cache.MaxParseResults <= 0:
		return fmt.Errorf("config: cache shard capacities must be positive")
	case cfg.Cache.Jitter < 0 || cfg.Cache.Jitter >= 1:
		return fmt.Errorf("config: cache.jitter must be in [0, 1)")
	case cfg.Executor.ParallelFanOut <= 0:
		return fmt.Errorf("config: executor.parallelFanOut must be positive")
	case cfg.Executor.DefaultTimeoutMs <= 0:
		return fmt.Errorf("config: executor.defaultTimeoutMs must be positive")
	case cfg.PassScore < 0 || cfg.PassScore > 100:
		return fmt.Errorf("config: reflection.passScore must be in [0, 100]")
	}
	return nil
}
