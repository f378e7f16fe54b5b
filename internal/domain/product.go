package domain

import "time"

// Nutrient keys used in Product.NutrientsPer100g
const (
	NutrientEnergy        = "energy"
	NutrientFat           = "fat"
	NutrientCarbohydrates = "carbohydrates"
	NutrientProteins      = "proteins"
	NutrientSugars        = "sugars"
	NutrientFiber         = "fiber"
	NutrientSodium        = "sodium"
)

// Product is the canonical representation of one food product.
// Zero values mean "not provided": a merge never overwrites existing data with them.
type Product struct {
	Code             string             `json:"code"`
	Name             string             `json:"name,omitempty"`
	Brand            string             `json:"brand,omitempty"`
	Categories       string             `json:"categories,omitempty"`
	IngredientsText  string             `json:"ingredientsText,omitempty"`
	NutrientsPer100g map[string]float64 `json:"nutrientsPer100g,omitempty"`
	NutritionGrade   string             `json:"nutritionGrade,omitempty"` // a-e
	NovaGroup        int                `json:"novaGroup,omitempty"`      // 1-4
	Images           *ProductImages     `json:"images,omitempty"`
	Countries        []string           `json:"countries,omitempty"`
	AllergenTags     []string           `json:"allergenTags,omitempty"`
	AdditiveTags     []string           `json:"additiveTags,omitempty"`
}

// ProductImages holds the image URL variants of a product
type ProductImages struct {
	Front       string `json:"front,omitempty"`
	Small       string `json:"small,omitempty"`
	Thumb       string `json:"thumb,omitempty"`
	Ingredients string `json:"ingredients,omitempty"`
}

// ProductMeta is owned by the product store and never exposed to API consumers
type ProductMeta struct {
	FirstSeen   time.Time `json:"firstSeen"`
	LastUpdated time.Time `json:"lastUpdated"`
	UpdateCount int       `json:"updateCount"`
}

// StoredProduct is a product together with its store metadata
type StoredProduct struct {
	Product
	Meta ProductMeta `json:"_meta"`
}

// Clone returns a deep copy so snapshots do not share maps or slices with live records
func (p Product) Clone() Product {
	out := p
	if p.NutrientsPer100g != nil {
		out.NutrientsPer100g = make(map[string]float64, len(p.NutrientsPer100g))
		for k, v := range p.NutrientsPer100g {
			out.NutrientsPer100g[k] = v
		}
	}
	if p.Images != nil {
		images := *p.Images
		out.Images = &images
	}
	out.Countries = cloneStrings(p.Countries)
	out.AllergenTags = cloneStrings(p.AllergenTags)
	out.AdditiveTags = cloneStrings(p.AdditiveTags)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// IsValidNutritionGrade reports whether grade is a Nutri-Score letter a-e, in either case
func IsValidNutritionGrade(grade string) bool {
	if len(grade) != 1 {
		return false
	}
	g := grade[0] | 0x20
	return g >= 'a' && g <= 'e'
}

// IsValidNovaGroup reports whether group is a NOVA processing group 1-4
func IsValidNovaGroup(group int) bool {
	return group >= 1 && group <= 4
}
