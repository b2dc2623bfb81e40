package nutrition

import (
	"fmt"
	"strings"

	"ai-food-diary/internal/food"
)

// UnknownDishName is used when the recognizer returned no dish name.
const UnknownDishName = "Неизвестное блюдо"

// Aggregate sums resolved ingredients into one analysis. Totals are summed
// unrounded and then rounded once, so they equal the rounded sum of parts.
func Aggregate(dishName string, resolved []food.ResolvedNutrition) (food.Analysis, error) {
	if len(resolved) == 0 {
		return food.Analysis{}, food.ErrNoIngredients
	}

	name := strings.TrimSpace(dishName)
	if name == "" {
		name = UnknownDishName
	}

	var (
		total  food.Nutrients
		weight float64
		lines  = make([]string, 0, len(resolved))
	)
	for _, r := range resolved {
		total = total.Add(r.Nutrients)
		weight += r.WeightGrams
		lines = append(lines, fmt.Sprintf("%s %sг", r.Name, food.FormatGrams(r.WeightGrams)))
	}

	return food.Analysis{
		Name:        name,
		Ingredients: lines,
		WeightGrams: food.RoundMacro(weight),
		Nutrients:   total.Rounded(),
	}, nil
}
