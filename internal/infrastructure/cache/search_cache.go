package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/macrolens/foodfacts/internal/domain"
)

const searchKeyPrefix = "search_cache:"

// Default search cache limits
const (
	DefaultSearchTTL         = time.Hour
	DefaultMaxTotalSizeBytes = 5 * 1024 * 1024
	DefaultMaxEntries        = 10
)

// SearchCacheConfig holds the search cache limits
type SearchCacheConfig struct {
	TTL               time.Duration
	MaxTotalSizeBytes int64
	MaxEntries        int
}

// SearchCache keeps full search responses in key-value storage for a short
// time. Eviction runs before every write: expired entries first, then the
// oldest by write time until the new entry fits. Access recency is not tracked.
//
// Every operation is best-effort: storage failures are logged and turn into
// misses or dropped writes.
type SearchCache struct {
	storage domain.KeyValueStorage
	config  SearchCacheConfig
	logger  zerolog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// SearchCacheOption configures a SearchCache
type SearchCacheOption func(*SearchCache)

// WithClock overrides the time source
func WithClock(now func() time.Time) SearchCacheOption {
	return func(c *SearchCache) {
		c.now = now
	}
}

var _ domain.SearchResultCache = (*SearchCache)(nil)

// NewSearchCache creates a search cache over storage. Zero limits take defaults.
func NewSearchCache(storage domain.KeyValueStorage, config SearchCacheConfig, logger zerolog.Logger, opts ...SearchCacheOption) *SearchCache {
	if config.TTL <= 0 {
		config.TTL = DefaultSearchTTL
	}
	if config.MaxTotalSizeBytes <= 0 {
		config.MaxTotalSizeBytes = DefaultMaxTotalSizeBytes
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}

	c := &SearchCache{
		storage: storage,
		config:  config,
		logger:  logger.With().Str("component", "search_cache").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchKey is serialized with a fixed field order; filters are canonicalized first
type searchKey struct {
	Query   string               `json:"q"`
	Region  string               `json:"r"`
	Filters domain.SearchFilters `json:"f"`
}

// SearchKey derives the storage key for a search
func SearchKey(query, region string, filters domain.SearchFilters) string {
	k := searchKey{
		Query:   NormalizeQuery(query),
		Region:  NormalizeRegion(region),
		Filters: filters.Canonical(),
	}
	data, _ := json.Marshal(k)
	return searchKeyPrefix + base64.RawURLEncoding.EncodeToString(data)
}

// Get returns the fresh entry for the search. Expired entries are removed.
func (c *SearchCache) Get(ctx context.Context, query, region string, filters domain.SearchFilters) (*domain.CachedSearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := SearchKey(query, region, filters)
	entry, ok := c.read(ctx, key)
	if !ok {
		return nil, false
	}

	if !c.fresh(entry) {
		c.remove(ctx, key)
		return nil, false
	}

	return entry, true
}

// Put stores a snapshot of products for the search, together with the
// provenance of the response it came from, and returns its search ID.
// An entry too large for the whole budget keeps only the first half of its
// products. An empty ID means the write was dropped.
func (c *SearchCache) Put(ctx context.Context, query, region string, products []domain.Product, totalCount int, filters domain.SearchFilters, provenance domain.Provenance) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := SearchKey(query, region, filters)

	snapshot := make([]domain.Product, len(products))
	for i, p := range products {
		snapshot[i] = p.Clone()
	}

	entry := domain.CachedSearchResult{
		Query:      NormalizeQuery(query),
		Region:     NormalizeRegion(region),
		Filters:    filters.Canonical(),
		Timestamp:  c.now(),
		Products:   snapshot,
		TotalCount: totalCount,
		SearchID:   ksuid.New().String(),
		Provenance: provenance,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode search cache entry")
		return ""
	}

	if entrySize(key, string(data)) > c.config.MaxTotalSizeBytes {
		entry.Products = entry.Products[:len(entry.Products)/2]
		data, err = json.Marshal(entry)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to encode search cache entry")
			return ""
		}
		c.logger.Warn().
			Int("products", len(products)).
			Int("kept", len(entry.Products)).
			Msg("search cache entry exceeds size budget, truncated")

		if entrySize(key, string(data)) > c.config.MaxTotalSizeBytes {
			c.logger.Warn().Err(domain.ErrCapacityExceeded).Msg("truncated entry still too large, dropping write")
			return ""
		}
	}

	// A new write supersedes the previous entry for the same key
	c.remove(ctx, key)
	c.evict(ctx, entrySize(key, string(data)))

	if err := c.storage.Set(ctx, key, string(data)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to write search cache entry")
		return ""
	}

	return entry.SearchID
}

// Remove invalidates the entry for one search
func (c *SearchCache) Remove(ctx context.Context, query, region string, filters domain.SearchFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(ctx, SearchKey(query, region, filters))
}

// RemoveByID invalidates the entry with the given search ID
func (c *SearchCache) RemoveByID(ctx context.Context, searchID string) {
	if searchID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries(ctx) {
		if e.result.SearchID == searchID {
			c.remove(ctx, e.key)
			return
		}
	}
}

// Clear drops every search cache entry
func (c *SearchCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.keys(ctx) {
		c.remove(ctx, key)
	}
}

// Stats reports entry count, size and age range
func (c *SearchCache) Stats(ctx context.Context) domain.SearchCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats domain.SearchCacheStats
	for _, e := range c.entries(ctx) {
		stats.TotalEntries++
		stats.TotalSizeBytes += e.size

		ts := e.result.Timestamp
		if stats.OldestEntryTimestamp.IsZero() || ts.Before(stats.OldestEntryTimestamp) {
			stats.OldestEntryTimestamp = ts
		}
		if ts.After(stats.NewestEntryTimestamp) {
			stats.NewestEntryTimestamp = ts
		}
	}
	return stats
}

type storedEntry struct {
	key    string
	size   int64
	result *domain.CachedSearchResult
}

// evict drops expired entries, then the oldest ones until an entry of
// incoming bytes fits under both the entry and the size limit
func (c *SearchCache) evict(ctx context.Context, incoming int64) {
	live := make([]storedEntry, 0)
	var total int64
	for _, e := range c.entries(ctx) {
		if !c.fresh(e.result) {
			c.remove(ctx, e.key)
			continue
		}
		live = append(live, e)
		total += e.size
	}

	sort.SliceStable(live, func(i, j int) bool {
		return live[i].result.Timestamp.Before(live[j].result.Timestamp)
	})

	for len(live) > 0 && (len(live)+1 > c.config.MaxEntries || total+incoming > c.config.MaxTotalSizeBytes) {
		oldest := live[0]
		c.remove(ctx, oldest.key)
		total -= oldest.size
		live = live[1:]
		c.logger.Debug().Str("search_id", oldest.result.SearchID).Msg("evicted search cache entry")
	}
}

func (c *SearchCache) fresh(entry *domain.CachedSearchResult) bool {
	return c.now().Sub(entry.Timestamp) < c.config.TTL
}

// entries decodes every stored entry; undecodable ones are removed
func (c *SearchCache) entries(ctx context.Context) []storedEntry {
	keys := c.keys(ctx)
	out := make([]storedEntry, 0, len(keys))
	for _, key := range keys {
		raw, err := c.storage.Get(ctx, key)
		if err != nil {
			continue
		}

		var result domain.CachedSearchResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("dropping malformed search cache entry")
			c.remove(ctx, key)
			continue
		}

		out = append(out, storedEntry{key: key, size: entrySize(key, raw), result: &result})
	}
	return out
}

func (c *SearchCache) keys(ctx context.Context) []string {
	all, err := c.storage.Keys(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list search cache keys")
		return nil
	}

	keys := make([]string, 0, len(all))
	for _, key := range all {
		if strings.HasPrefix(key, searchKeyPrefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *SearchCache) read(ctx context.Context, key string) (*domain.CachedSearchResult, bool) {
	raw, err := c.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn().Err(err).Msg("failed to read search cache entry")
		}
		return nil, false
	}

	var result domain.CachedSearchResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed search cache entry")
		c.remove(ctx, key)
		return nil, false
	}

	return &result, true
}

func (c *SearchCache) remove(ctx context.Context, key string) {
	if err := c.storage.Remove(ctx, key); err != nil {
		c.logger.Warn().Err(err).Msg("failed to remove search cache entry")
	}
}
