package usecase

import (
	"strings"

	"github.com/macrolens/foodfacts/internal/domain"
)

// applyFilters keeps products matching every filter. filters must be canonical.
// A product with an unknown grade or NOVA group never matches a filter on it.
func applyFilters(products []domain.Product, filters domain.SearchFilters) []domain.Product {
	out := products[:0:0]
	for _, p := range products {
		if matchesFilters(p, filters) {
			out = append(out, p)
		}
	}
	return out
}

func matchesFilters(p domain.Product, filters domain.SearchFilters) bool {
	if len(filters.NutritionGrades) > 0 && !containsString(filters.NutritionGrades, strings.ToLower(p.NutritionGrade)) {
		return false
	}
	if len(filters.NovaGroups) > 0 && !containsInt(filters.NovaGroups, p.NovaGroup) {
		return false
	}
	if hasAnyTag(p.AllergenTags, filters.ExcludeAllergens) {
		return false
	}
	if hasAnyTag(p.AdditiveTags, filters.ExcludeAdditives) {
		return false
	}
	return true
}

func hasAnyTag(tags, excluded []string) bool {
	if len(excluded) == 0 {
		return false
	}
	for _, tag := range tags {
		if containsString(excluded, strings.ToLower(strings.TrimSpace(tag))) {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, i := range values {
		if i == v {
			return true
		}
	}
	return false
}
