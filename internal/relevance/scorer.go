// Package relevance scores products against a free-text query.
//
// Scoring uses exact-match tiers instead of fuzzy distance:
//
//	name equals query      3
//	name starts with query 2
//	name contains query    1
//	brand/categories match 0.5
//	no match               0
//
// Comparisons run on Normalize'd text, so "Coca-Cola" equals "coca cola"
// and "Açaí" equals "acai".
package relevance

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/macrolens/foodfacts/internal/domain"
)

// Score tiers
const (
	ScoreExactName    = 3.0
	ScoreNamePrefix   = 2.0
	ScoreNameContains = 1.0
	ScoreBrandOrCat   = 0.5
	ScoreNoMatch      = 0.0
)

// Score returns the relevance of product for query, higher is better
func Score(product domain.Product, query string) float64 {
	q := Normalize(query)
	if q == "" {
		return ScoreNoMatch
	}

	name := Normalize(product.Name)
	switch {
	case name == q:
		return ScoreExactName
	case strings.HasPrefix(name, q):
		return ScoreNamePrefix
	case strings.Contains(name, q):
		return ScoreNameContains
	}

	if strings.Contains(Normalize(product.Brand), q) ||
		strings.Contains(Normalize(product.Categories), q) {
		return ScoreBrandOrCat
	}

	return ScoreNoMatch
}

// Scorer memoizes scores per product code for the lifetime of one request.
// The merged set is re-ranked as a whole, so records already scored by the
// store are looked up instead of recomputed.
type Scorer struct {
	query  string
	scores map[string]float64
}

// NewScorer creates a scorer bound to query
func NewScorer(query string) *Scorer {
	return &Scorer{
		query:  query,
		scores: make(map[string]float64),
	}
}

// Score returns the memoized score of product
func (s *Scorer) Score(product domain.Product) float64 {
	if product.Code == "" {
		return Score(product, s.query)
	}
	if v, ok := s.scores[product.Code]; ok {
		return v
	}
	v := Score(product, s.query)
	s.scores[product.Code] = v
	return v
}

// Rank sorts products by descending score in place.
// Equal scores keep their original relative order.
func (s *Scorer) Rank(products []domain.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		return s.Score(products[i]) > s.Score(products[j])
	})
}

// Rank sorts products by descending relevance to query, stable on ties
func Rank(products []domain.Product, query string) {
	NewScorer(query).Rank(products)
}

// Normalize lower-cases text, strips diacritics, turns punctuation into
// spaces and collapses whitespace. Matching and search cache keys both use it.
func Normalize(s string) string {
	s = strings.ToLower(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
