package openfoodfacts

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/macrolens/foodfacts/internal/domain"
)

// offProduct is the subset of an Open Food Facts product document we consume
type offProduct struct {
	Code                string             `json:"code"`
	ProductName         string             `json:"product_name"`
	Brands              string             `json:"brands"`
	Categories          string             `json:"categories"`
	IngredientsText     string             `json:"ingredients_text"`
	Nutriments          map[string]flexNum `json:"nutriments"`
	NutritionGrades     string             `json:"nutrition_grades"`
	NovaGroup           flexInt            `json:"nova_group"`
	ImageFrontURL       string             `json:"image_front_url"`
	ImageFrontSmallURL  string             `json:"image_front_small_url"`
	ImageFrontThumbURL  string             `json:"image_front_thumb_url"`
	ImageIngredientsURL string             `json:"image_ingredients_url"`
	CountriesTags       []string           `json:"countries_tags"`
	AllergensTags       []string           `json:"allergens_tags"`
	AdditivesTags       []string           `json:"additives_tags"`
}

// Open Food Facts nutriment keys (per 100g) for each domain nutrient
var nutrientKeys = map[string]string{
	domain.NutrientEnergy:        "energy-kcal_100g",
	domain.NutrientFat:           "fat_100g",
	domain.NutrientCarbohydrates: "carbohydrates_100g",
	domain.NutrientProteins:      "proteins_100g",
	domain.NutrientSugars:        "sugars_100g",
	domain.NutrientFiber:         "fiber_100g",
	domain.NutrientSodium:        "sodium_100g",
}

// mapProduct converts an Open Food Facts product to our domain Product
func mapProduct(p offProduct) domain.Product {
	product := domain.Product{
		Code:             strings.TrimSpace(p.Code),
		Name:             strings.TrimSpace(p.ProductName),
		Brand:            strings.TrimSpace(p.Brands),
		Categories:       strings.TrimSpace(p.Categories),
		IngredientsText:  strings.TrimSpace(p.IngredientsText),
		NutrientsPer100g: extractNutrients(p.Nutriments),
		NutritionGrade:   normalizeGrade(p.NutritionGrades),
		Countries:        nonEmpty(p.CountriesTags),
		AllergenTags:     nonEmpty(p.AllergensTags),
		AdditiveTags:     nonEmpty(p.AdditivesTags),
	}

	if nova := int(p.NovaGroup); domain.IsValidNovaGroup(nova) {
		product.NovaGroup = nova
	}

	images := domain.ProductImages{
		Front:       p.ImageFrontURL,
		Small:       p.ImageFrontSmallURL,
		Thumb:       p.ImageFrontThumbURL,
		Ingredients: p.ImageIngredientsURL,
	}
	if images != (domain.ProductImages{}) {
		product.Images = &images
	}

	return product
}

func extractNutrients(nutriments map[string]flexNum) map[string]float64 {
	var out map[string]float64
	for name, key := range nutrientKeys {
		value, ok := nutriments[key]
		if !ok || !value.valid {
			continue
		}
		if out == nil {
			out = make(map[string]float64, len(nutrientKeys))
		}
		out[name] = value.value
	}
	return out
}

func normalizeGrade(grade string) string {
	grade = strings.ToLower(strings.TrimSpace(grade))
	if domain.IsValidNutritionGrade(grade) {
		return grade
	}
	return ""
}

func nonEmpty(tags []string) []string {
	var out []string
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// flexNum accepts a JSON number or a numeric string
type flexNum struct {
	value float64
	valid bool
}

func (n *flexNum) UnmarshalJSON(data []byte) error {
	*n = flexNum{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		*n = flexNum{value: v, valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*n = flexNum{value: v, valid: true}
	return nil
}

// flexInt accepts a JSON number or a numeric string; anything else decodes to 0
type flexInt int

func (i *flexInt) UnmarshalJSON(data []byte) error {
	var n flexNum
	if err := n.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = flexInt(n.value)
	return nil
}
