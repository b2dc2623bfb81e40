package food

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Ingredient is a single recognized product with its estimated weight.
type Ingredient struct {
	Product     string  `json:"product"`
	WeightGrams float64 `json:"weight_grams"`
}

// Nutrients holds energy and macro values for some amount of food.
type Nutrients struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
}

// Add returns the element-wise sum of n and o.
func (n Nutrients) Add(o Nutrients) Nutrients {
	return Nutrients{
		Calories: n.Calories + o.Calories,
		Protein:  n.Protein + o.Protein,
		Fat:      n.Fat + o.Fat,
		Carbs:    n.Carbs + o.Carbs,
	}
}

// Rounded rounds calories to an integer and macros to one decimal.
func (n Nutrients) Rounded() Nutrients {
	return Nutrients{
		Calories: RoundCalories(n.Calories),
		Protein:  RoundMacro(n.Protein),
		Fat:      RoundMacro(n.Fat),
		Carbs:    RoundMacro(n.Carbs),
	}
}

// NutritionProfile is an immutable catalog entry with values per 100 grams.
type NutritionProfile struct {
	ID              int64   `json:"id,omitempty"`
	Name            string  `json:"name"`
	NameNormalized  string  `json:"name_normalized,omitempty"`
	Category        string  `json:"category"`
	CaloriesPer100g float64 `json:"calories"`
	ProteinPer100g  float64 `json:"protein"`
	FatPer100g      float64 `json:"fat"`
	CarbsPer100g    float64 `json:"carbs"`
}

// Scale converts the per-100g profile into nutrients for the given weight.
func (p NutritionProfile) Scale(weightGrams float64) Nutrients {
	k := weightGrams / 100
	return Nutrients{
		Calories: p.CaloriesPer100g * k,
		Protein:  p.ProteinPer100g * k,
		Fat:      p.FatPer100g * k,
		Carbs:    p.CarbsPer100g * k,
	}.Rounded()
}

// Tier identifies how an ingredient's nutrition was resolved.
type Tier string

const (
	TierExact    Tier = "exact"
	TierFuzzy    Tier = "fuzzy"
	TierEstimate Tier = "ai_estimate"
	TierFallback Tier = "fallback"
)

// ResolvedNutrition is a catalog profile (or an estimate) scaled to a weight.
type ResolvedNutrition struct {
	Name        string  `json:"name"`
	WeightGrams float64 `json:"weight_grams"`
	Nutrients
	Tier       Tier    `json:"tier"`
	Similarity float64 `json:"similarity"`
}

// Analysis is a draft or committed nutrition summary of one dish.
type Analysis struct {
	Name        string   `json:"name"`
	Ingredients []string `json:"ingredients"`
	WeightGrams float64  `json:"weight"`
	Nutrients
}

// Description reconstructs a prompt-friendly description of the analysis,
// e.g. "Омлет 150г (яйцо 120г, молоко 30г)".
func (a Analysis) Description() string {
	desc := fmt.Sprintf("%s %sг", a.Name, FormatGrams(a.WeightGrams))
	if len(a.Ingredients) > 0 {
		desc += " (" + strings.Join(a.Ingredients, ", ") + ")"
	}
	return desc
}

// MealEntry is the permanent journal record written on commit.
type MealEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	DraftID   string    `json:"draft_id"`
	Slot      MealSlot  `json:"meal_slot"`
	Analysis  Analysis  `json:"analysis"`
	Timestamp time.Time `json:"timestamp"`
}

// RoundCalories rounds to the nearest integer.
func RoundCalories(v float64) float64 {
	return math.Round(v)
}

// RoundMacro rounds to one decimal place.
func RoundMacro(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatGrams renders a weight without a trailing ".0".
func FormatGrams(w float64) string {
	return strconv.FormatFloat(RoundMacro(w), 'f', -1, 64)
}
