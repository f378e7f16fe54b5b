// Package productstore implements the durable product store.
//
// Records are keyed by product code and merged on write. All reads are
// served from memory; every mutation is applied in memory and then flushed
// synchronously through a Backend before the call returns.
package productstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/macrolens/foodfacts/internal/domain"
	"github.com/macrolens/foodfacts/internal/relevance"
)

// Store is the durable product store
type Store struct {
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time

	loadOnce sync.Once

	// writeMu serializes the merge-flush sequence
	writeMu sync.Mutex

	// mu guards the in-memory representation
	mu          sync.RWMutex
	products    map[string]domain.StoredProduct
	lastUpdated time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

var _ domain.ProductRepository = (*Store)(nil)

// New creates a store over backend. Data is loaded lazily on first access.
func New(backend Backend, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		logger:   logger.With().Str("component", "product_store").Logger(),
		now:      time.Now,
		products: make(map[string]domain.StoredProduct),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ensureLoaded loads persisted data once. Unreadable data leaves the store empty.
func (s *Store) ensureLoaded(ctx context.Context) {
	s.loadOnce.Do(func() {
		snap, err := s.backend.Load(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to load persisted products, starting empty")
			snap = NewSnapshot()
		}

		s.mu.Lock()
		s.products = snap.Products
		s.lastUpdated = snap.LastUpdated
		s.mu.Unlock()

		s.logger.Info().Int("products", len(snap.Products)).Msg("product store loaded")
	})
}

// Get returns the stored record for code or domain.ErrProductNotFound
func (s *Store) Get(ctx context.Context, code string) (*domain.StoredProduct, error) {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	stored, ok := s.products[code]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.ErrProductNotFound
	}

	out := domain.StoredProduct{Product: stored.Product.Clone(), Meta: stored.Meta}
	return &out, nil
}

// Search scans all records for query (name, brand or categories) and region
// (country tags), ranks them by relevance and returns at most limit products
// together with the total number of matches.
func (s *Store) Search(ctx context.Context, query, region string, limit int) ([]domain.Product, int, error) {
	s.ensureLoaded(ctx)

	q := relevance.Normalize(query)
	r := strings.ToLower(strings.TrimSpace(region))

	s.mu.RLock()
	matches := make([]domain.StoredProduct, 0)
	for _, stored := range s.products {
		if !matchesQuery(stored.Product, q) || !matchesRegion(stored.Product, r) {
			continue
		}
		matches = append(matches, stored)
	}
	s.mu.RUnlock()

	// Map iteration is random; order by insertion so ties rank deterministically
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Meta.FirstSeen.Equal(matches[j].Meta.FirstSeen) {
			return matches[i].Meta.FirstSeen.Before(matches[j].Meta.FirstSeen)
		}
		return matches[i].Code < matches[j].Code
	})

	products := make([]domain.Product, len(matches))
	for i, stored := range matches {
		products[i] = stored.Product.Clone()
	}
	relevance.Rank(products, query)

	total := len(products)
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}

	return products, total, nil
}

// Put merges product into the store and flushes
func (s *Store) Put(ctx context.Context, product domain.Product) error {
	if err := validateCode(product.Code); err != nil {
		return err
	}
	s.ensureLoaded(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored := s.apply(product, s.now())
	return s.flush(ctx, []domain.StoredProduct{stored})
}

// PutMany merges every product and flushes once. Invalid items are counted
// as failed without aborting the batch; a failed flush fails every applied item.
func (s *Store) PutMany(ctx context.Context, products []domain.Product) domain.SyncResult {
	var result domain.SyncResult
	if len(products) == 0 {
		return result
	}
	s.ensureLoaded(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	changed := make([]domain.StoredProduct, 0, len(products))
	for _, product := range products {
		if err := validateCode(product.Code); err != nil {
			s.logger.Warn().Err(err).Msg("skipping product without code")
			result.Failed++
			continue
		}
		changed = append(changed, s.apply(product, now))
	}

	if len(changed) == 0 {
		return result
	}

	if err := s.flush(ctx, changed); err != nil {
		result.Failed += len(changed)
		return result
	}

	result.Saved = len(changed)
	return result
}

// Stats returns size and freshness diagnostics
func (s *Store) Stats(ctx context.Context) (*domain.StoreStats, error) {
	s.ensureLoaded(ctx)

	size, err := s.backend.Size(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read storage size")
		size = 0
	}

	s.mu.RLock()
	total := len(s.products)
	lastUpdated := s.lastUpdated
	s.mu.RUnlock()

	stats := &domain.StoreStats{
		TotalProducts:    total,
		StorageSizeBytes: size,
		LastUpdated:      lastUpdated,
	}
	if total > 0 {
		stats.AverageRecordSizeBytes = size / int64(total)
	}

	return stats, nil
}

// Clear removes every record. It cannot be undone.
func (s *Store) Clear(ctx context.Context) error {
	s.ensureLoaded(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.products = make(map[string]domain.StoredProduct)
	s.lastUpdated = time.Time{}
	s.mu.Unlock()

	if err := s.backend.Clear(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear persisted products")
		return err
	}

	s.logger.Info().Msg("product store cleared")
	return nil
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// apply merges product into memory. Caller must hold writeMu.
func (s *Store) apply(product domain.Product, now time.Time) domain.StoredProduct {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored domain.StoredProduct
	if existing, ok := s.products[product.Code]; ok {
		stored = mergeStoredProduct(existing, product, now)
	} else {
		stored = newStoredProduct(product, now)
	}

	s.products[product.Code] = stored
	if stored.Meta.LastUpdated.After(s.lastUpdated) {
		s.lastUpdated = stored.Meta.LastUpdated
	}

	return stored
}

// flush persists the changed records. Caller must hold writeMu.
// On failure memory stays ahead of durable state until the next successful flush.
func (s *Store) flush(ctx context.Context, changed []domain.StoredProduct) error {
	if err := s.backend.Save(ctx, changed, s.snapshot); err != nil {
		s.logger.Error().Err(err).Int("records", len(changed)).Msg("failed to flush product store")
		if errors.Is(err, domain.ErrPersistenceFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	return nil
}

// snapshot copies the in-memory representation for whole-document backends
func (s *Store) snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := NewSnapshot()
	snap.LastUpdated = s.lastUpdated
	for code, stored := range s.products {
		snap.Products[code] = stored
	}
	return snap
}

func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: product code is required", domain.ErrInvalidRequest)
	}
	return nil
}

func matchesQuery(p domain.Product, q string) bool {
	if q == "" {
		return true
	}
	return strings.Contains(relevance.Normalize(p.Name), q) ||
		strings.Contains(relevance.Normalize(p.Brand), q) ||
		strings.Contains(relevance.Normalize(p.Categories), q)
}

// matchesRegion accepts an exact tag match or a case-insensitive substring
// such as "br" within "en:brazil"
func matchesRegion(p domain.Product, region string) bool {
	if region == "" {
		return true
	}
	for _, tag := range p.Countries {
		if strings.EqualFold(tag, region) || strings.Contains(strings.ToLower(tag), region) {
			return true
		}
	}
	return false
}
