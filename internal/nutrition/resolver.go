package nutrition

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ai-food-diary/internal/catalog"
	"ai-food-diary/internal/food"
)

// Catalog is the product table the resolver consults before estimating.
type Catalog interface {
	Lookup(ctx context.Context, normalizedName string) ([]food.NutritionProfile, error)
	FuzzyLookup(ctx context.Context, normalizedName string, limit int) ([]catalog.Match, error)
}

// Estimator returns nutrients for a weight the catalog cannot resolve.
type Estimator interface {
	Estimate(ctx context.Context, product string, weightGrams float64) (food.Nutrients, error)
}

// TierObserver is notified of the tier each ingredient resolved at.
type TierObserver interface {
	ObserveTier(tier food.Tier)
}

// FloorRates are per-gram values used when even the estimator fails.
type FloorRates struct {
	CaloriesPerGram float64
	ProteinPerGram  float64
	FatPerGram      float64
	CarbsPerGram    float64
}

// DefaultFloor approximates a generic mixed dish.
var DefaultFloor = FloorRates{CaloriesPerGram: 1.5, ProteinPerGram: 0.05, FatPerGram: 0.03, CarbsPerGram: 0.25}

// Resolver maps ingredients to nutrition: exact catalog match, then fuzzy
// match above the threshold, then an AI estimate, then the floor.
type Resolver struct {
	catalog   Catalog
	estimator Estimator
	observer  TierObserver
	logger    *zap.Logger

	threshold  float64
	fuzzyLimit int
	floor      FloorRates
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithThreshold sets the minimum fuzzy similarity (exclusive).
func WithThreshold(t float64) Option { return func(r *Resolver) { r.threshold = t } }

// WithFuzzyLimit caps the number of fuzzy candidates requested.
func WithFuzzyLimit(n int) Option { return func(r *Resolver) { r.fuzzyLimit = n } }

// WithFloor overrides the last-resort per-gram values.
func WithFloor(f FloorRates) Option { return func(r *Resolver) { r.floor = f } }

// WithObserver registers a tier observer.
func WithObserver(o TierObserver) Option { return func(r *Resolver) { r.observer = o } }

// NewResolver creates a Resolver. estimator may be nil, in which case
// unmatched ingredients go straight to the floor.
func NewResolver(c Catalog, e Estimator, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		catalog:    c,
		estimator:  e,
		logger:     logger,
		threshold:  catalog.DefaultThreshold,
		fuzzyLimit: 5,
		floor:      DefaultFloor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve never fails: catalog errors degrade to the next tier and an
// estimator failure degrades to the floor.
func (r *Resolver) Resolve(ctx context.Context, ing food.Ingredient) food.ResolvedNutrition {
	res := r.resolve(ctx, ing)
	if r.observer != nil {
		r.observer.ObserveTier(res.Tier)
	}
	r.logger.Debug("ingredient resolved",
		zap.String("product", ing.Product),
		zap.Float64("weight_grams", ing.WeightGrams),
		zap.String("tier", string(res.Tier)),
		zap.String("matched", res.Name),
		zap.Float64("similarity", res.Similarity))
	return res
}

// ResolveAll resolves ingredients one after another, in order.
func (r *Resolver) ResolveAll(ctx context.Context, ings []food.Ingredient) []food.ResolvedNutrition {
	out := make([]food.ResolvedNutrition, 0, len(ings))
	for _, ing := range ings {
		out = append(out, r.Resolve(ctx, ing))
	}
	return out
}

func (r *Resolver) resolve(ctx context.Context, ing food.Ingredient) food.ResolvedNutrition {
	name := food.NormalizeName(ing.Product)

	if name != "" && r.catalog != nil {
		exact, err := r.catalog.Lookup(ctx, name)
		if err != nil {
			r.logCatalogError("exact", ing.Product, err)
		} else if len(exact) > 0 {
			return scaled(exact[0], ing.WeightGrams, food.TierExact, 1.0)
		}

		matches, err := r.catalog.FuzzyLookup(ctx, name, r.fuzzyLimit)
		if err != nil {
			r.logCatalogError("fuzzy", ing.Product, err)
		} else if best, ok := r.best(matches); ok {
			return scaled(best.Profile, ing.WeightGrams, food.TierFuzzy, best.Similarity)
		}
	}

	if r.estimator != nil {
		n, err := r.estimator.Estimate(ctx, ing.Product, ing.WeightGrams)
		if err == nil {
			return food.ResolvedNutrition{
				Name:        ing.Product,
				WeightGrams: ing.WeightGrams,
				Nutrients:   n.Rounded(),
				Tier:        food.TierEstimate,
			}
		}
		r.logger.Warn("nutrition estimate failed, using floor values",
			zap.String("product", ing.Product), zap.Error(err))
	}

	return food.ResolvedNutrition{
		Name:        ing.Product,
		WeightGrams: ing.WeightGrams,
		Nutrients: food.Nutrients{
			Calories: r.floor.CaloriesPerGram * ing.WeightGrams,
			Protein:  r.floor.ProteinPerGram * ing.WeightGrams,
			Fat:      r.floor.FatPerGram * ing.WeightGrams,
			Carbs:    r.floor.CarbsPerGram * ing.WeightGrams,
		}.Rounded(),
		Tier: food.TierFallback,
	}
}

// best picks the highest-similarity candidate strictly above the threshold.
// Backends already order by similarity; this does not rely on it.
func (r *Resolver) best(matches []catalog.Match) (catalog.Match, bool) {
	var best catalog.Match
	found := false
	for _, m := range matches {
		if m.Similarity <= r.threshold {
			continue
		}
		if !found || m.Similarity > best.Similarity {
			best, found = m, true
		}
	}
	return best, found
}

func (r *Resolver) logCatalogError(stage, product string, err error) {
	r.logger.Warn("catalog lookup failed, falling through",
		zap.String("stage", stage),
		zap.String("product", product),
		zap.Error(fmt.Errorf("%w: %v", food.ErrCatalogUnavailable, err)))
}

func scaled(p food.NutritionProfile, weight float64, tier food.Tier, similarity float64) food.ResolvedNutrition {
	return food.ResolvedNutrition{
		Name:        p.Name,
		WeightGrams: weight,
		Nutrients:   p.Scale(weight),
		Tier:        tier,
		Similarity:  similarity,
	}
}
