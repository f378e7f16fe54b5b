package openfoodfacts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrolens/foodfacts/internal/domain"
)

func TestMapProduct(t *testing.T) {
	raw := `{
		"code": " 3017620422003 ",
		"product_name": "Nutella",
		"brands": "Ferrero",
		"categories": "Spreads, Sweet spreads",
		"ingredients_text": "Sugar, palm oil, hazelnuts",
		"nutriments": {
			"energy-kcal_100g": 539,
			"fat_100g": "30.9",
			"proteins_100g": 6.3,
			"energy_unit": "kcal",
			"sodium_100g": null
		},
		"nutrition_grades": "e",
		"nova_group": 4,
		"image_front_url": "https://images.example/front.jpg",
		"image_front_thumb_url": "https://images.example/thumb.jpg",
		"countries_tags": ["en:france", "", "en:germany"],
		"allergens_tags": ["en:milk", "en:nuts"],
		"additives_tags": ["en:e322"]
	}`

	var p offProduct
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	product := mapProduct(p)

	assert.Equal(t, "3017620422003", product.Code)
	assert.Equal(t, "Nutella", product.Name)
	assert.Equal(t, "Ferrero", product.Brand)
	assert.Equal(t, "Spreads, Sweet spreads", product.Categories)
	assert.Equal(t, "Sugar, palm oil, hazelnuts", product.IngredientsText)
	assert.Equal(t, map[string]float64{
		domain.NutrientEnergy:   539,
		domain.NutrientFat:      30.9,
		domain.NutrientProteins: 6.3,
	}, product.NutrientsPer100g)
	assert.Equal(t, "e", product.NutritionGrade)
	assert.Equal(t, 4, product.NovaGroup)
	require.NotNil(t, product.Images)
	assert.Equal(t, "https://images.example/front.jpg", product.Images.Front)
	assert.Equal(t, "https://images.example/thumb.jpg", product.Images.Thumb)
	assert.Empty(t, product.Images.Small)
	assert.Equal(t, []string{"en:france", "en:germany"}, product.Countries)
	assert.Equal(t, []string{"en:milk", "en:nuts"}, product.AllergenTags)
	assert.Equal(t, []string{"en:e322"}, product.AdditiveTags)
}

func TestMapProduct_MissingFieldsStayZero(t *testing.T) {
	product := mapProduct(offProduct{Code: "1234"})

	assert.Equal(t, domain.Product{Code: "1234"}, product)
}

func TestMapProduct_InvalidGradeAndNova(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		grade string
		nova  int
	}{
		{name: "unknown grade", raw: `{"nutrition_grades":"unknown","nova_group":""}`},
		{name: "out of range nova", raw: `{"nutrition_grades":"f","nova_group":7}`},
		{name: "string nova", raw: `{"nutrition_grades":" B ","nova_group":"2"}`, grade: "b", nova: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p offProduct
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &p))
			product := mapProduct(p)
			assert.Equal(t, tt.grade, product.NutritionGrade)
			assert.Equal(t, tt.nova, product.NovaGroup)
		})
	}
}
