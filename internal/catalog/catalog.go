package catalog

import (
	"sort"

	"ai-food-diary/internal/food"
)

// DefaultThreshold is the minimum trigram similarity for a fuzzy match.
const DefaultThreshold = 0.3

// DefaultCategory is assigned to imported products without one.
const DefaultCategory = "Общие"

// Match is a fuzzy catalog candidate with its similarity score.
type Match struct {
	Profile    food.NutritionProfile
	Similarity float64
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Profile.NameNormalized < matches[j].Profile.NameNormalized
	})
}

// prepare fills in the normalized name and default category before saving.
func prepare(p food.NutritionProfile) food.NutritionProfile {
	p.NameNormalized = food.NormalizeName(p.Name)
	if p.Category == "" {
		p.Category = DefaultCategory
	}
	return p
}
