package food

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// ErrInvalidKBJU is returned when a КБЖУ string does not hold four numbers.
var ErrInvalidKBJU = errors.New("expected four non-negative numbers: calories, protein, fat, carbs")

// ParseKBJU parses "калории белки жиры углеводы" per 100 g, e.g. "250 10,5 8 30".
// Any separator is accepted and a decimal comma is allowed.
func ParseKBJU(text string) (NutritionProfile, error) {
	if strings.Contains(text, "-") {
		return NutritionProfile{}, ErrInvalidKBJU
	}
	raw := numberPattern.FindAllString(text, -1)
	if len(raw) != 4 {
		return NutritionProfile{}, ErrInvalidKBJU
	}

	vals := make([]float64, 4)
	for i, r := range raw {
		v, err := strconv.ParseFloat(strings.ReplaceAll(r, ",", "."), 64)
		if err != nil {
			return NutritionProfile{}, ErrInvalidKBJU
		}
		vals[i] = v
	}

	return NutritionProfile{
		CaloriesPer100g: vals[0],
		ProteinPer100g:  vals[1],
		FatPer100g:      vals[2],
		CarbsPer100g:    vals[3],
	}, nil
}
