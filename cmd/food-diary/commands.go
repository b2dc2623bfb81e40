package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ai-food-diary/internal/app"
	"ai-food-diary/internal/catalog"
	"ai-food-diary/internal/food"
	"ai-food-diary/internal/httpapi"
	"ai-food-diary/internal/recognizer"
)

const defaultTokenTTL = 30 * 24 * time.Hour

var analyzeCmd = &cobra.Command{
	Use:   "analyze [description]",
	Short: "Recognize a meal description and print its nutrition",
	Long: `Runs recognition, catalog resolution and aggregation for a text
description without creating a draft or writing to the journal.

Example:
  food-diary analyze "овсянка 50г с бананом и медом"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			analysis, err := a.Engine.ResolveAndAggregate(ctx, recognizer.Input{Text: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			printAnalysis(cmd.OutOrStdout(), analysis)
			return nil
		})
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the product nutrition catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import products from a JSON file or an HTML calorie table",
	Example: `  food-diary catalog import --json products.json
  food-diary catalog import --url https://example.com/calories.html`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonPath, _ := cmd.Flags().GetString("json")
		htmlPath, _ := cmd.Flags().GetString("html")
		url, _ := cmd.Flags().GetString("url")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var products []food.NutritionProfile
			var err error
			switch {
			case url != "":
				products, err = catalog.NewFetcher(nil).FetchHTML(ctx, url)
			case htmlPath != "":
				products, err = parseFile(htmlPath, catalog.ParseHTML)
			default:
				products, err = parseFile(jsonPath, catalog.ParseJSON)
			}
			if err != nil {
				return err
			}

			n, err := a.Catalog.SaveAll(ctx, products)
			if err != nil {
				return err
			}
			total, err := a.Catalog.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d products. The catalog now holds %d.\n", n, total)
			return nil
		})
	},
}

var catalogLookupCmd = &cobra.Command{
	Use:   "lookup [name]",
	Short: "Show exact and fuzzy catalog matches for a product name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		name := food.NormalizeName(strings.Join(args, " "))
		out := cmd.OutOrStdout()

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			exact, err := a.Catalog.Lookup(ctx, name)
			if err != nil {
				return err
			}
			for _, p := range exact {
				fmt.Fprintf(out, "exact  %-40s %s\n", p.Name, formatPer100(p))
			}

			matches, err := a.Catalog.FuzzyLookup(ctx, name, limit)
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Fprintf(out, "%.3f  %-40s %s\n", m.Similarity, m.Profile.Name, formatPer100(m.Profile))
			}

			if len(exact) == 0 && len(matches) == 0 {
				fmt.Fprintf(out, "No products match %q.\n", name)
			}
			return nil
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored user sessions",
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove sessions past their TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Sessions.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired sessions.\n", n)
			return nil
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Manage recorded metrics",
}

var metricsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old metric records",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return fmt.Errorf("--days must be positive, got %d", days)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Metrics.Cleanup(days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old metric records.\n", n)
			return nil
		})
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "HTTP API helpers",
}

var apiTokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a bearer token for the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.APIJWTSecret == "" {
			return fmt.Errorf("API_JWT_SECRET environment variable not set")
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = defaultTokenTTL
		}
		token, err := httpapi.IssueToken([]byte(cfg.APIJWTSecret), userID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func parseFile(path string, parse func(io.Reader) ([]food.NutritionProfile, error)) ([]food.NutritionProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

func printAnalysis(w io.Writer, a food.Analysis) {
	fmt.Fprintf(w, "%s (%sг)\n", a.Name, food.FormatGrams(a.WeightGrams))
	for _, ing := range a.Ingredients {
		fmt.Fprintf(w, "  - %s\n", ing)
	}
	fmt.Fprintf(w, "%.0f kcal, P %.1f g, F %.1f g, C %.1f g\n", a.Calories, a.Protein, a.Fat, a.Carbs)
}

func formatPer100(p food.NutritionProfile) string {
	return fmt.Sprintf("%.0f kcal  P %.1f  F %.1f  C %.1f  [%s]",
		p.CaloriesPer100g, p.ProteinPer100g, p.FatPer100g, p.CarbsPer100g, p.Category)
}
