package domain

import "context"

// ProductRepository defines the durable product store
type ProductRepository interface {
	Get(ctx context.Context, code string) (*StoredProduct, error)
	Search(ctx context.Context, query, region string, limit int) ([]Product, int, error)
	Put(ctx context.Context, product Product) error
	PutMany(ctx context.Context, products []Product) SyncResult
	Stats(ctx context.Context) (*StoreStats, error)
	Clear(ctx context.Context) error
}

// ProductAPI defines the upstream product database API
type ProductAPI interface {
	FetchByCode(ctx context.Context, code string) (*Product, error)
	Search(ctx context.Context, query, region string, page, pageSize int) (*UpstreamSearchResult, error)
}

// SearchResultCache defines the short-lived cache of full search responses
type SearchResultCache interface {
	Get(ctx context.Context, query, region string, filters SearchFilters) (*CachedSearchResult, bool)
	Put(ctx context.Context, query, region string, products []Product, totalCount int, filters SearchFilters, provenance Provenance) string
	Remove(ctx context.Context, query, region string, filters SearchFilters)
	RemoveByID(ctx context.Context, searchID string)
	Clear(ctx context.Context)
	Stats(ctx context.Context) SearchCacheStats
}

// KeyValueStorage is a string key-value storage with a total size ceiling,
// modeled after browser local storage
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
