package domain

import (
	"sort"
	"strings"
	"time"
)

// SearchFilters narrows a search beyond query and region.
// Filters take part in the search cache key, so they must be canonicalized first.
type SearchFilters struct {
	NutritionGrades  []string `json:"nutritionGrades,omitempty"`
	NovaGroups       []int    `json:"novaGroups,omitempty"`
	ExcludeAllergens []string `json:"excludeAllergens,omitempty"`
	ExcludeAdditives []string `json:"excludeAdditives,omitempty"`
}

// IsEmpty reports whether no filter is set
func (f SearchFilters) IsEmpty() bool {
	return len(f.NutritionGrades) == 0 && len(f.NovaGroups) == 0 &&
		len(f.ExcludeAllergens) == 0 && len(f.ExcludeAdditives) == 0
}

// Canonical returns a copy with every set trimmed, lower-cased, deduplicated and
// sorted, so equal filter sets compare and serialize identically
func (f SearchFilters) Canonical() SearchFilters {
	return SearchFilters{
		NutritionGrades:  canonicalStrings(f.NutritionGrades),
		NovaGroups:       canonicalInts(f.NovaGroups),
		ExcludeAllergens: canonicalStrings(f.ExcludeAllergens),
		ExcludeAdditives: canonicalStrings(f.ExcludeAdditives),
	}
}

func canonicalStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func canonicalInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Ints(out)
	return out
}

// SearchRequest represents a product search request
type SearchRequest struct {
	Query     string        `json:"query"`
	Region    string        `json:"region,omitempty"`
	Page      int           `json:"page,omitempty"`
	PageSize  int           `json:"pageSize,omitempty"`
	Filters   SearchFilters `json:"filters"`
	CacheOnly bool          `json:"cacheOnly,omitempty"`
}

// Provenance tells where the returned data came from
type Provenance struct {
	FromCache       bool `json:"fromCache"`       // durable product store
	FromUpstream    bool `json:"fromUpstream"`    // live upstream API
	FromSearchCache bool `json:"fromSearchCache"` // search result cache
}

// SearchResponse is the paginated, ranked answer to a search
type SearchResponse struct {
	Products   []Product  `json:"products"`
	TotalCount int        `json:"totalCount"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	Provenance Provenance `json:"provenance"`
	SearchID   string     `json:"searchId,omitempty"`

	// Ranked is the full ranked set before pagination
	Ranked []Product `json:"-"`
}

// LookupResult is the answer to a point lookup by barcode
type LookupResult struct {
	Product    Product    `json:"product"`
	Provenance Provenance `json:"provenance"`
}

// CachedSearchResult is one snapshot of a search kept by the search result cache
type CachedSearchResult struct {
	Query      string        `json:"query"`
	Region     string        `json:"region"`
	Filters    SearchFilters `json:"filters"`
	Timestamp  time.Time     `json:"timestamp"`
	Products   []Product     `json:"products"`
	TotalCount int           `json:"totalCount"`
	SearchID   string        `json:"searchId"`
	Provenance Provenance    `json:"provenance"` // sources of the original response
}

// UpstreamSearchResult is one page of results from the upstream product API
type UpstreamSearchResult struct {
	Products   []Product `json:"products"`
	TotalCount int       `json:"totalCount"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
}

// SyncResult reports the outcome of a bulk write
type SyncResult struct {
	Saved  int `json:"saved"`
	Failed int `json:"failed"`
}

// StoreStats are raw diagnostics of the product store
type StoreStats struct {
	TotalProducts          int       `json:"totalProducts"`
	StorageSizeBytes       int64     `json:"storageSizeBytes"`
	LastUpdated            time.Time `json:"lastUpdated"`
	AverageRecordSizeBytes int64     `json:"averageRecordSizeBytes"`
}

// StorageStats is the consumer-facing view of the store diagnostics
type StorageStats struct {
	TotalProducts      int       `json:"totalProducts"`
	StorageSizeMB      float64   `json:"storageSizeMB"`
	StorageSizeHuman   string    `json:"storageSizeHuman"`
	LastUpdated        time.Time `json:"lastUpdated"`
	Freshness          string    `json:"freshness,omitempty"`
	AverageProductSize int64     `json:"averageProductSize"`
}

// SearchCacheStats are diagnostics of the search result cache
type SearchCacheStats struct {
	TotalEntries         int       `json:"totalEntries"`
	TotalSizeBytes       int64     `json:"totalSizeBytes"`
	OldestEntryTimestamp time.Time `json:"oldestEntryTimestamp"`
	NewestEntryTimestamp time.Time `json:"newestEntryTimestamp"`
}
