package productstore

import (
	"time"

	"github.com/macrolens/foodfacts/internal/domain"
)

// newStoredProduct creates the first version of a record
func newStoredProduct(product domain.Product, now time.Time) domain.StoredProduct {
	return domain.StoredProduct{
		Product: product.Clone(),
		Meta: domain.ProductMeta{
			FirstSeen:   now,
			LastUpdated: now,
			UpdateCount: 1,
		},
	}
}

// mergeStoredProduct shallow-merges incoming into existing.
// Only fields provided by incoming overwrite; code and FirstSeen never change.
func mergeStoredProduct(existing domain.StoredProduct, incoming domain.Product, now time.Time) domain.StoredProduct {
	merged := domain.StoredProduct{
		Product: mergeProduct(existing.Product, incoming),
		Meta:    existing.Meta,
	}

	merged.Meta.UpdateCount++
	merged.Meta.LastUpdated = now
	if merged.Meta.LastUpdated.Before(merged.Meta.FirstSeen) {
		merged.Meta.LastUpdated = merged.Meta.FirstSeen
	}

	return merged
}

func mergeProduct(dst, src domain.Product) domain.Product {
	out := dst.Clone()
	src = src.Clone()

	if src.Name != "" {
		out.Name = src.Name
	}
	if src.Brand != "" {
		out.Brand = src.Brand
	}
	if src.Categories != "" {
		out.Categories = src.Categories
	}
	if src.IngredientsText != "" {
		out.IngredientsText = src.IngredientsText
	}
	if src.NutrientsPer100g != nil {
		out.NutrientsPer100g = src.NutrientsPer100g
	}
	if src.NutritionGrade != "" {
		out.NutritionGrade = src.NutritionGrade
	}
	if src.NovaGroup != 0 {
		out.NovaGroup = src.NovaGroup
	}
	if src.Images != nil {
		out.Images = src.Images
	}
	if src.Countries != nil {
		out.Countries = src.Countries
	}
	if src.AllergenTags != nil {
		out.AllergenTags = src.AllergenTags
	}
	if src.AdditiveTags != nil {
		out.AdditiveTags = src.AdditiveTags
	}

	return out
}
