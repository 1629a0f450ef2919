// Package cache provides the in-memory tier of the content persistence
// layer: bounded, time-limited memoization keyed by (content key, alias).
//
// Contract:
//   - Concurrency: safe for concurrent use; single-key operations are atomic.
//   - Errors: operational outcomes (disabled, miss, skip) are represented as
//     nil results, never as errors.
//   - Identity: entries are addressed by the same digest the disk tier uses
//     for filenames, so the two tiers are interchangeable to callers.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	shoplist "github.com/shoplist-ai/shoplist"
)

// Config holds cache configuration.
type Config struct {
	// Enabled toggles the cache. A disabled cache treats every operation
	// as a no-op returning nil.
	Enabled bool

	// TTL is the per-entry time-to-live. Entries past TTL are logically
	// absent even before they are physically evicted.
	TTL time.Duration

	// MaxSize is the maximum number of entries. When full, admitting a new
	// entry evicts the least-recently-used one.
	MaxSize int

	// Logger for cache events.
	Logger *slog.Logger
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		TTL:     time.Hour,
		MaxSize: 1000,
		Logger:  slog.Default(),
	}
}

// Entry is a cached value together with its identity and bookkeeping fields.
type Entry struct {
	// CacheKey is the digest of (content key, alias).
	CacheKey shoplist.Digest

	// Alias is the logical channel the entry belongs to.
	Alias string

	// Timestamp is the entry creation time, used for TTL expiry.
	Timestamp time.Time

	// Data is the cached payload.
	Data any

	// DataFormat is the declared serialization kind. Advisory only; it is
	// not enforced against the payload's actual type.
	DataFormat shoplist.Format

	// DataSize is a byte-size estimate of the serialized payload,
	// informational only.
	DataSize int64

	// Provenance marks entries returned by Load as memory-sourced.
	Provenance shoplist.Provenance
}

// Stats describes the current cache state.
type Stats struct {
	Enabled bool
	Entries int
	Keys    []string
	TTL     time.Duration
	MaxSize int
}

// Manager is the in-memory cache tier. Capacity eviction is strict LRU;
// expiry is enforced lazily when an entry is touched.
type Manager struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[shoplist.Digest]*list.Element
}

type lruItem struct {
	key   shoplist.Digest
	entry Entry
}

// NewManager creates a cache manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}

	m := &Manager{
		config:  cfg,
		logger:  cfg.Logger,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[shoplist.Digest]*list.Element),
	}

	if cfg.Enabled {
		m.logger.Debug("cache enabled", "ttl", cfg.TTL, "max_size", cfg.MaxSize)
	} else {
		m.logger.Warn("cache disabled")
	}
	return m
}

// SaveOption configures a Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	provenance shoplist.Provenance
}

// WithProvenance declares where the value being saved was loaded from.
// Saving a value whose provenance is the memory tier is skipped as a
// redundant self-write.
func WithProvenance(p shoplist.Provenance) SaveOption {
	return func(o *saveOptions) { o.provenance = p }
}

// Save stores a value under (key, alias), replacing any existing entry for
// the same pair. It returns the stored entry, or nil when the cache is
// disabled or the save was skipped.
func (m *Manager) Save(key string, value any, alias string, format shoplist.Format, opts ...SaveOption) *Entry {
	if !m.config.Enabled {
		return nil
	}

	var so saveOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.provenance == shoplist.ProvenanceMemory {
		m.logger.Debug("skipping save of cache-sourced value", "alias", alias)
		return nil
	}

	digest := shoplist.NewDigest(alias, key)
	entry := Entry{
		CacheKey:   digest,
		Alias:      alias,
		Timestamp:  m.now(),
		Data:       value,
		DataFormat: format,
		DataSize:   estimateSize(value),
	}

	m.mu.Lock()
	if el, ok := m.entries[digest]; ok {
		el.Value.(*lruItem).entry = entry
		m.order.MoveToFront(el)
	} else {
		m.evictForCapacityLocked()
		m.entries[digest] = m.order.PushFront(&lruItem{key: digest, entry: entry})
	}
	m.mu.Unlock()

	m.logger.Debug("saved entry", "cache_key", digest.String(), "alias", alias, "format", format.String())
	return &entry
}

// Load retrieves the entry for (key, alias) if present and not expired.
// The returned entry is annotated with memory provenance. Returns nil on
// miss or when the cache is disabled.
func (m *Manager) Load(key, alias string) *Entry {
	if !m.config.Enabled {
		return nil
	}

	digest := shoplist.NewDigest(alias, key)

	m.mu.Lock()
	el, ok := m.entries[digest]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("cache miss", "cache_key", digest.String(), "alias", alias)
		return nil
	}

	item := el.Value.(*lruItem)
	if m.config.TTL > 0 && m.now().Sub(item.entry.Timestamp) >= m.config.TTL {
		// Expired: evict lazily.
		m.order.Remove(el)
		delete(m.entries, digest)
		m.mu.Unlock()
		m.logger.Debug("cache entry expired", "cache_key", digest.String(), "alias", alias)
		return nil
	}

	m.order.MoveToFront(el)
	entry := item.entry
	m.mu.Unlock()

	entry.Provenance = shoplist.ProvenanceMemory
	m.logger.Info("cache hit", "cache_key", digest.String(), "alias", alias)
	return &entry
}

// Clear empties the cache and returns the number of entries removed.
func (m *Manager) Clear() int {
	if !m.config.Enabled {
		return 0
	}

	m.mu.Lock()
	cleared := len(m.entries)
	m.order.Init()
	m.entries = make(map[shoplist.Digest]*list.Element)
	m.mu.Unlock()

	m.logger.Info("cleared cache", "entries", cleared)
	return cleared
}

// Stats returns cache statistics. Expired-but-unevicted entries count until
// they are touched.
func (m *Manager) Stats() Stats {
	s := Stats{
		Enabled: m.config.Enabled,
		TTL:     m.config.TTL,
		MaxSize: m.config.MaxSize,
		Keys:    []string{},
	}
	if !m.config.Enabled {
		return s
	}

	m.mu.Lock()
	s.Entries = len(m.entries)
	for el := m.order.Front(); el != nil; el = el.Next() {
		s.Keys = append(s.Keys, el.Value.(*lruItem).key.String())
	}
	m.mu.Unlock()
	return s
}

// evictForCapacityLocked makes room for one new entry, preferring entries
// already past TTL before falling back to the least-recently-used one.
func (m *Manager) evictForCapacityLocked() {
	if len(m.entries) < m.config.MaxSize {
		return
	}

	if m.config.TTL > 0 {
		cutoff := m.now().Add(-m.config.TTL)
		for el := m.order.Back(); el != nil && len(m.entries) >= m.config.MaxSize; {
			prev := el.Prev()
			item := el.Value.(*lruItem)
			if !item.entry.Timestamp.After(cutoff) {
				m.order.Remove(el)
				delete(m.entries, item.key)
			}
			el = prev
		}
	}

	for len(m.entries) >= m.config.MaxSize {
		el := m.order.Back()
		if el == nil {
			return
		}
		item := el.Value.(*lruItem)
		m.order.Remove(el)
		delete(m.entries, item.key)
		m.logger.Debug("evicted lru entry", "cache_key", item.key.String())
	}
}

// estimateSize approximates the serialized byte size of a value.
func estimateSize(v any) int64 {
	switch s := v.(type) {
	case string:
		return int64(len(s))
	case []byte:
		return int64(len(s))
	default:
		data, err := shoplist.FormatBinary.Encode(v)
		if err != nil {
			return 0
		}
		return int64(len(data))
	}
}
