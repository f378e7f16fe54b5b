package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/macrolens/foodfacts/internal/domain"
	"github.com/macrolens/foodfacts/internal/relevance"
)

const (
	DefaultPageSize        = 20
	MaxPageSize            = 100
	DefaultFetchSize       = 100
	MaxFetchSize           = 1000
	DefaultUpstreamTimeout = 10 * time.Second

	minCodeLength = 4
	maxCodeLength = 32
)

// SearchConfig holds configuration for the search orchestrator
type SearchConfig struct {
	FetchSize       int
	UpstreamTimeout time.Duration
}

// SearchOrchestrator combines the product store, the upstream API and the
// search result cache into one paginated, ranked search.
type SearchOrchestrator struct {
	store       domain.ProductRepository
	upstream    domain.ProductAPI
	searchCache domain.SearchResultCache
	syncer      *SyncWorker
	config      SearchConfig
	logger      zerolog.Logger
	group       singleflight.Group
}

// NewSearchOrchestrator creates a new orchestrator. upstream, searchCache and
// syncer are optional: a nil upstream behaves like cache-only mode, a nil
// searchCache disables response caching and a nil syncer skips persisting
// upstream results.
func NewSearchOrchestrator(
	store domain.ProductRepository,
	upstream domain.ProductAPI,
	searchCache domain.SearchResultCache,
	syncer *SyncWorker,
	config SearchConfig,
	logger zerolog.Logger,
) *SearchOrchestrator {
	if config.FetchSize <= 0 {
		config.FetchSize = DefaultFetchSize
	}
	if config.FetchSize > MaxFetchSize {
		config.FetchSize = MaxFetchSize
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}

	return &SearchOrchestrator{
		store:       store,
		upstream:    upstream,
		searchCache: searchCache,
		syncer:      syncer,
		config:      config,
		logger:      logger.With().Str("component", "search").Logger(),
	}
}

// Search runs a paginated product search.
// Flow: validate -> search cache -> store -> upstream (if short) -> merge ->
// filter -> rank -> persist new products in background -> window
func (o *SearchOrchestrator) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	region := strings.TrimSpace(req.Region)
	page, pageSize := normalizePaging(req.Page, req.PageSize)
	filters := req.Filters.Canonical()
	needed := neededResults(page, pageSize)

	if o.searchCache != nil {
		if cached, ok := o.searchCache.Get(ctx, query, region, filters); ok {
			provenance := cached.Provenance
			provenance.FromSearchCache = true
			return &domain.SearchResponse{
				Products:   window(cached.Products, page, pageSize),
				TotalCount: cached.TotalCount,
				Page:       page,
				PageSize:   pageSize,
				Provenance: provenance,
				SearchID:   cached.SearchID,
				Ranked:     cached.Products,
			}, nil
		}
	}

	// Filters are applied after the merge, so a filtered search needs every
	// store match to compute an exact count
	storeLimit := needed
	if !filters.IsEmpty() {
		storeLimit = 0
	}
	storeProducts, storeTotal, err := o.store.Search(ctx, query, region, storeLimit)
	if err != nil {
		o.logger.Warn().Err(err).Str("query", query).Msg("store search failed")
		storeProducts, storeTotal = nil, 0
	}

	var upstreamResult *domain.UpstreamSearchResult
	upstreamFailed := false
	if !req.CacheOnly && o.upstream != nil && len(storeProducts) < needed {
		upstreamResult, err = o.fetchUpstream(ctx, query, region, needed)
		if err != nil {
			o.logger.Warn().Err(err).Str("query", query).Str("region", region).Msg("upstream search failed, using store results only")
			upstreamFailed = true
		}
	}

	merged, newUpstream := mergeResults(storeProducts, upstreamResult)

	if !filters.IsEmpty() {
		merged = applyFilters(merged, filters)
	}
	relevance.NewScorer(query).Rank(merged)

	totalCount := storeTotal
	switch {
	case !filters.IsEmpty():
		totalCount = len(merged)
	case upstreamResult != nil:
		totalCount = max(storeTotal+len(newUpstream), upstreamResult.TotalCount)
	}

	if len(newUpstream) > 0 && o.syncer != nil {
		o.syncer.Submit(newUpstream)
	}

	resp := &domain.SearchResponse{
		Products:   window(merged, page, pageSize),
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		Provenance: domain.Provenance{
			FromCache:    len(storeProducts) > 0,
			FromUpstream: len(newUpstream) > 0,
		},
		Ranked: merged,
	}

	// Incomplete results are not cached: they would hide upstream data on the next call
	if o.searchCache != nil && len(merged) > 0 && !req.CacheOnly && !upstreamFailed {
		resp.SearchID = o.searchCache.Put(ctx, query, region, merged, totalCount, filters, resp.Provenance)
	}

	return resp, nil
}

// fetchUpstream collapses identical concurrent upstream searches into one call
func (o *SearchOrchestrator) fetchUpstream(ctx context.Context, query, region string, needed int) (*domain.UpstreamSearchResult, error) {
	fetchSize := max(o.config.FetchSize, needed)
	if fetchSize > MaxFetchSize {
		fetchSize = MaxFetchSize
	}

	key := "search:" + strings.ToLower(query) + "|" + strings.ToLower(region) + "|" + strconv.Itoa(fetchSize)
	ch := o.group.DoChan(key, func() (interface{}, error) {
		upstreamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.UpstreamTimeout)
		defer cancel()
		return o.upstream.Search(upstreamCtx, query, region, 1, fetchSize)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result, _ := res.Val.(*domain.UpstreamSearchResult)
		if result == nil {
			return nil, fmt.Errorf("%w: empty response", domain.ErrUpstreamUnavailable)
		}
		return result, nil
	}
}

// LookupByCode returns a single product by barcode.
// Flow: validate -> store -> upstream (unless cacheOnly) -> store.Put -> return
func (o *SearchOrchestrator) LookupByCode(ctx context.Context, code string, cacheOnly bool) (*domain.LookupResult, error) {
	code = strings.TrimSpace(code)
	if !isValidCode(code) {
		return nil, fmt.Errorf("%w: code must be %d-%d digits", domain.ErrInvalidRequest, minCodeLength, maxCodeLength)
	}

	stored, err := o.store.Get(ctx, code)
	if err == nil {
		return &domain.LookupResult{
			Product:    stored.Product,
			Provenance: domain.Provenance{FromCache: true},
		}, nil
	}
	if !errors.Is(err, domain.ErrProductNotFound) {
		o.logger.Warn().Err(err).Str("code", code).Msg("store lookup failed")
	}

	if cacheOnly || o.upstream == nil {
		return nil, domain.ErrProductNotFound
	}

	ch := o.group.DoChan("code:"+code, func() (interface{}, error) {
		upstreamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.UpstreamTimeout)
		defer cancel()
		return o.upstream.FetchByCode(upstreamCtx, code)
	})

	var product *domain.Product
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if !errors.Is(res.Err, domain.ErrProductNotFound) {
				o.logger.Warn().Err(res.Err).Str("code", code).Msg("upstream lookup failed")
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrProductNotFound, res.Err)
		}
		product, _ = res.Val.(*domain.Product)
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}

	found := product.Clone()
	if found.Code == "" {
		found.Code = code
	}
	if err := o.store.Put(ctx, found); err != nil {
		o.logger.Warn().Err(err).Str("code", code).Msg("failed to persist looked up product")
	}

	return &domain.LookupResult{
		Product:    found,
		Provenance: domain.Provenance{FromUpstream: true},
	}, nil
}

// SyncProducts bulk-ingests products, merging by code. Saving anything
// invalidates cached search responses since they may now be incomplete.
func (o *SearchOrchestrator) SyncProducts(ctx context.Context, products []domain.Product) (domain.SyncResult, error) {
	if len(products) == 0 {
		return domain.SyncResult{}, fmt.Errorf("%w: no products to sync", domain.ErrInvalidRequest)
	}

	valid := make([]domain.Product, 0, len(products))
	rejected := 0
	for _, p := range products {
		if err := validateProduct(p); err != nil {
			o.logger.Warn().Err(err).Str("code", p.Code).Msg("rejecting invalid product")
			rejected++
			continue
		}
		valid = append(valid, p)
	}

	result := o.store.PutMany(ctx, valid)
	result.Failed += rejected
	if result.Saved > 0 && o.searchCache != nil {
		o.searchCache.Clear(ctx)
	}

	o.logger.Info().Int("saved", result.Saved).Int("failed", result.Failed).Msg("products synced")
	return result, nil
}

// ClearStore removes every stored product and every cached search response
func (o *SearchOrchestrator) ClearStore(ctx context.Context) error {
	if err := o.store.Clear(ctx); err != nil {
		return err
	}
	if o.searchCache != nil {
		o.searchCache.Clear(ctx)
	}
	return nil
}

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// neededResults is the number of ranked results required to fill page,
// saturating instead of overflowing
func neededResults(page, pageSize int) int {
	if page > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return page * pageSize
}

// window returns the products of one page, never nil
func window(products []domain.Product, page, pageSize int) []domain.Product {
	if page-1 >= (len(products)+pageSize-1)/pageSize {
		return []domain.Product{}
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, len(products))
	out := make([]domain.Product, end-start)
	copy(out, products[start:end])
	return out
}

// mergeResults appends upstream products whose code is not already present.
// Store records win over upstream records with the same code.
func mergeResults(storeProducts []domain.Product, upstream *domain.UpstreamSearchResult) (merged, newUpstream []domain.Product) {
	seen := make(map[string]struct{}, len(storeProducts))
	merged = make([]domain.Product, 0, len(storeProducts))
	for _, p := range storeProducts {
		if _, dup := seen[p.Code]; dup {
			continue
		}
		seen[p.Code] = struct{}{}
		merged = append(merged, p)
	}

	if upstream == nil {
		return merged, nil
	}
	for _, p := range upstream.Products {
		if p.Code == "" {
			continue
		}
		if _, dup := seen[p.Code]; dup {
			continue
		}
		seen[p.Code] = struct{}{}
		merged = append(merged, p)
		newUpstream = append(newUpstream, p)
	}
	return merged, newUpstream
}

// validateProduct applies the ingestion rules: a barcode code, a grade that is
// empty or a-e and a NOVA group that is unset or 1-4
func validateProduct(p domain.Product) error {
	if !isValidCode(p.Code) {
		return fmt.Errorf("%w: code must be %d-%d digits", domain.ErrInvalidRequest, minCodeLength, maxCodeLength)
	}
	if p.NutritionGrade != "" && !domain.IsValidNutritionGrade(p.NutritionGrade) {
		return fmt.Errorf("%w: invalid nutrition grade %q", domain.ErrInvalidRequest, p.NutritionGrade)
	}
	if p.NovaGroup != 0 && !domain.IsValidNovaGroup(p.NovaGroup) {
		return fmt.Errorf("%w: invalid NOVA group %d", domain.ErrInvalidRequest, p.NovaGroup)
	}
	return nil
}

func isValidCode(code string) bool {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
