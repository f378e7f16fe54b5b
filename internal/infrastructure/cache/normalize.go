package cache

import (
	"strings"

	"github.com/macrolens/foodfacts/internal/relevance"
)

// NormalizeQuery folds a query the same way product matching does, so two
// queries share a cache key exactly when they match the same products
func NormalizeQuery(query string) string {
	return relevance.Normalize(query)
}

// NormalizeRegion lower-cases and trims a region code
func NormalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}
