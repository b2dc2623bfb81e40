package nutrition

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-food-diary/internal/catalog"
	"ai-food-diary/internal/food"
)

type fakeCatalog struct {
	exact      map[string]food.NutritionProfile
	fuzzy      map[string][]catalog.Match
	exactErr   error
	fuzzyErr   error
	fuzzyCalls int
}

func (f *fakeCatalog) Lookup(ctx context.Context, name string) ([]food.NutritionProfile, error) {
	if f.exactErr != nil {
		return nil, f.exactErr
	}
	if p, ok := f.exact[name]; ok {
		return []food.NutritionProfile{p}, nil
	}
	return nil, nil
}

func (f *fakeCatalog) FuzzyLookup(ctx context.Context, name string, limit int) ([]catalog.Match, error) {
	f.fuzzyCalls++
	if f.fuzzyErr != nil {
		return nil, f.fuzzyErr
	}
	return f.fuzzy[name], nil
}

type fakeEstimator struct {
	result food.Nutrients
	err    error
	calls  int
}

func (f *fakeEstimator) Estimate(ctx context.Context, product string, weightGrams float64) (food.Nutrients, error) {
	f.calls++
	return f.result, f.err
}

type tierCounter map[food.Tier]int

func (c tierCounter) ObserveTier(t food.Tier) { c[t]++ }

var (
	oats   = food.NutritionProfile{Name: "Овсянка", CaloriesPer100g: 360, ProteinPer100g: 12, FatPer100g: 6, CarbsPer100g: 60}
	banana = food.NutritionProfile{Name: "Банан", CaloriesPer100g: 89, ProteinPer100g: 1.1, FatPer100g: 0.3, CarbsPer100g: 22.8}
	omelet = food.NutritionProfile{Name: "Омлет", CaloriesPer100g: 184, ProteinPer100g: 9.6, FatPer100g: 15.4, CarbsPer100g: 1.9}
)

func TestResolve_ExactScaling(t *testing.T) {
	r := NewResolver(&fakeCatalog{exact: map[string]food.NutritionProfile{"овсянка": oats}}, nil, nil)

	for _, w := range []float64{1, 10, 50, 73.5, 100, 250, 1000} {
		got := r.Resolve(context.Background(), food.Ingredient{Product: " Овсянка ", WeightGrams: w})
		assert.Equal(t, food.TierExact, got.Tier)
		assert.Equal(t, 1.0, got.Similarity)
		assert.InDelta(t, oats.CaloriesPer100g*w/100, got.Calories, 0.5, "weight %v", w)
		assert.InDelta(t, oats.ProteinPer100g*w/100, got.Protein, 0.05+1e-9, "weight %v", w)
	}
}

func TestResolve_ExactBeatsFuzzy(t *testing.T) {
	cat := &fakeCatalog{
		exact: map[string]food.NutritionProfile{"омлет": omelet},
		fuzzy: map[string][]catalog.Match{"омлет": {
			{Profile: food.NutritionProfile{Name: "Омлет с сыром", CaloriesPer100g: 250}, Similarity: 0.9},
		}},
	}
	got := NewResolver(cat, nil, nil).Resolve(context.Background(), food.Ingredient{Product: "омлет", WeightGrams: 100})

	assert.Equal(t, food.TierExact, got.Tier)
	assert.Equal(t, "Омлет", got.Name)
	assert.Equal(t, 184.0, got.Calories)
	assert.Zero(t, cat.fuzzyCalls)
}

func TestResolve_FuzzyPicksBestAboveThreshold(t *testing.T) {
	cat := &fakeCatalog{fuzzy: map[string][]catalog.Match{"бананчик": {
		{Profile: food.NutritionProfile{Name: "Банановый хлеб", CaloriesPer100g: 326}, Similarity: 0.35},
		{Profile: banana, Similarity: 0.55},
		{Profile: food.NutritionProfile{Name: "Ананас"}, Similarity: 0.2},
	}}}
	got := NewResolver(cat, nil, nil).Resolve(context.Background(), food.Ingredient{Product: "бананчик", WeightGrams: 200})

	assert.Equal(t, food.TierFuzzy, got.Tier)
	assert.Equal(t, "Банан", got.Name)
	assert.Equal(t, 0.55, got.Similarity)
	assert.Equal(t, 178.0, got.Calories)
}

func TestResolve_FuzzyBelowThresholdFallsToEstimate(t *testing.T) {
	cat := &fakeCatalog{fuzzy: map[string][]catalog.Match{"рамбутан": {
		{Profile: banana, Similarity: 0.3},
	}}}
	est := &fakeEstimator{result: food.Nutrients{Calories: 82.44, Protein: 0.66, Fat: 0.21, Carbs: 20.9}}
	got := NewResolver(cat, est, nil).Resolve(context.Background(), food.Ingredient{Product: "рамбутан", WeightGrams: 100})

	assert.Equal(t, food.TierEstimate, got.Tier)
	assert.Equal(t, "рамбутан", got.Name)
	assert.Equal(t, food.Nutrients{Calories: 82, Protein: 0.7, Fat: 0.2, Carbs: 20.9}, got.Nutrients)
	assert.Equal(t, 1, est.calls)
}

func TestResolve_EstimatorFailureUsesFloor(t *testing.T) {
	est := &fakeEstimator{err: errors.New("model offline")}
	got := NewResolver(&fakeCatalog{}, est, nil).Resolve(context.Background(), food.Ingredient{Product: "что-то", WeightGrams: 200})

	assert.Equal(t, food.TierFallback, got.Tier)
	assert.Equal(t, food.Nutrients{Calories: 300, Protein: 10, Fat: 6, Carbs: 50}, got.Nutrients)
}

func TestResolve_CatalogErrorsDegrade(t *testing.T) {
	cat := &fakeCatalog{exactErr: errors.New("connection reset"), fuzzyErr: errors.New("connection reset")}
	est := &fakeEstimator{result: food.Nutrients{Calories: 50}}
	counter := tierCounter{}

	got := NewResolver(cat, est, nil, WithObserver(counter)).Resolve(context.Background(), food.Ingredient{Product: "банан", WeightGrams: 100})

	assert.Equal(t, food.TierEstimate, got.Tier)
	assert.Equal(t, 1, cat.fuzzyCalls)
	assert.Equal(t, 1, counter[food.TierEstimate])
}

func TestResolveAll_KeepsOrderAndIsolatesFailures(t *testing.T) {
	cat := &fakeCatalog{exact: map[string]food.NutritionProfile{"банан": banana}}
	r := NewResolver(cat, nil, nil, WithFloor(FloorRates{CaloriesPerGram: 1}))

	got := r.ResolveAll(context.Background(), []food.Ingredient{
		{Product: "нечто", WeightGrams: 10},
		{Product: "банан", WeightGrams: 100},
	})
	require.Len(t, got, 2)
	assert.Equal(t, food.TierFallback, got[0].Tier)
	assert.Equal(t, 10.0, got[0].Calories)
	assert.Equal(t, food.TierExact, got[1].Tier)
}

func TestAggregate(t *testing.T) {
	r1 := food.ResolvedNutrition{Name: "Овсянка", WeightGrams: 50, Nutrients: food.Nutrients{Calories: 180, Protein: 6, Fat: 3, Carbs: 30}}
	r2 := food.ResolvedNutrition{Name: "Банан", WeightGrams: 120, Nutrients: food.Nutrients{Calories: 107, Protein: 1.3, Fat: 0.4, Carbs: 27.4}}

	got, err := Aggregate("Овсянка с бананом", []food.ResolvedNutrition{r1, r2})
	require.NoError(t, err)

	want := food.Analysis{
		Name:        "Овсянка с бананом",
		Ingredients: []string{"Овсянка 50г", "Банан 120г"},
		WeightGrams: 170,
		Nutrients:   food.Nutrients{Calories: 287, Protein: 7.3, Fat: 3.4, Carbs: 57.4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_Additivity(t *testing.T) {
	pairs := [][2]float64{{0.4, 0.4}, {99.5, 0.5}, {180, 106.8}, {12.3, 45.6}}
	for _, p := range pairs {
		got, err := Aggregate("x", []food.ResolvedNutrition{
			{Name: "a", WeightGrams: 1, Nutrients: food.Nutrients{Calories: p[0]}},
			{Name: "b", WeightGrams: 1, Nutrients: food.Nutrients{Calories: p[1]}},
		})
		require.NoError(t, err)
		assert.Equal(t, food.RoundCalories(p[0]+p[1]), got.Calories)
	}
}

func TestAggregate_EmptyAndUnnamed(t *testing.T) {
	_, err := Aggregate("Суп", nil)
	assert.ErrorIs(t, err, food.ErrNoIngredients)

	got, err := Aggregate("  ", []food.ResolvedNutrition{{Name: "суп", WeightGrams: 300}})
	require.NoError(t, err)
	assert.Equal(t, UnknownDishName, got.Name)
}

func TestScenario_OatmealWithBanana(t *testing.T) {
	cat := &fakeCatalog{exact: map[string]food.NutritionProfile{"овсянка": oats, "банан": banana}}
	r := NewResolver(cat, nil, nil)

	// "Овсянка 50г с бананом": the recognizer supplies a default ~120g banana.
	resolved := r.ResolveAll(context.Background(), []food.Ingredient{
		{Product: "овсянка", WeightGrams: 50},
		{Product: "банан", WeightGrams: 120},
	})
	assert.Equal(t, 180.0, resolved[0].Calories)
	assert.InDelta(t, 100, resolved[1].Calories, 10)

	got, err := Aggregate("Овсянка с бананом", resolved)
	require.NoError(t, err)
	assert.InDelta(t, 280, got.Calories, 10)
	assert.Len(t, got.Ingredients, 2)
}
