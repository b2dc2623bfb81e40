package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ai-food-diary/internal/food"
)

type jsonProduct struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Protein  *float64 `json:"protein"`
	Fat      *float64 `json:"fat"`
	Carbs    *float64 `json:"carbs"`
	Calories *float64 `json:"calories"`
}

// ParseJSON reads a JSON array of {name, category, protein, fat, carbs, calories}.
// Entries without a name or any of the four values are rejected.
func ParseJSON(r io.Reader) ([]food.NutritionProfile, error) {
	var raw []jsonProduct
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}

	out := make([]food.NutritionProfile, 0, len(raw))
	for i, p := range raw {
		if strings.TrimSpace(p.Name) == "" || p.Protein == nil || p.Fat == nil || p.Carbs == nil || p.Calories == nil {
			return nil, fmt.Errorf("product #%d: name, protein, fat, carbs and calories are required", i+1)
		}
		category := p.Category
		if category == "" {
			category = DefaultCategory
		}
		out = append(out, food.NutritionProfile{
			Name:            strings.TrimSpace(p.Name),
			Category:        category,
			CaloriesPer100g: math.Round(*p.Calories),
			ProteinPer100g:  *p.Protein,
			FatPer100g:      *p.Fat,
			CarbsPer100g:    *p.Carbs,
		})
	}
	return out, nil
}

var numericCell = regexp.MustCompile(`^[\d.,\-]+$`)

// ParseHTML extracts products from calorie tables. Every row with a name
// followed by protein, fat, carbs and kcal cells becomes a product. The
// category comes from the nearest preceding h2/h3 heading or from a
// single-cell row inside the table.
func ParseHTML(r io.Reader) ([]food.NutritionProfile, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style").Remove()

	var out []food.NutritionProfile
	category := DefaultCategory

	doc.Find("h2, h3, tr").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "tr" {
			if text := cleanCell(s.Text()); text != "" {
				category = text
			}
			return
		}

		cells := s.Find("td")
		if cells.Length() == 1 {
			if text := cleanCell(cells.Text()); text != "" {
				category = text
			}
			return
		}
		if cells.Length() < 5 {
			return
		}

		values := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			values = append(values, cleanCell(c.Text()))
		})
		if p, ok := productFromCells(values, category); ok {
			out = append(out, p)
		}
	})

	return out, nil
}

func productFromCells(cells []string, category string) (food.NutritionProfile, bool) {
	n := len(cells)
	name := strings.Join(cells[:n-4], " ")
	nums := cells[n-4:]
	if len([]rune(strings.TrimSpace(name))) < 2 {
		return food.NutritionProfile{}, false
	}
	for _, v := range nums {
		if !numericCell.MatchString(v) && !isTrace(v) {
			return food.NutritionProfile{}, false
		}
	}
	return food.NutritionProfile{
		Name:            strings.TrimSpace(name),
		Category:        category,
		ProteinPer100g:  ParseNutritionValue(nums[0]),
		FatPer100g:      ParseNutritionValue(nums[1]),
		CarbsPer100g:    ParseNutritionValue(nums[2]),
		CaloriesPer100g: math.Round(ParseNutritionValue(nums[3])),
	}, true
}

// ParseNutritionValue parses a table cell: "7,5" → 7.5, a range "7,5-7,6"
// → its midpoint, "следы" or "-" → 0.
func ParseNutritionValue(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "-" || v == "" || isTrace(v) {
		return 0
	}
	if lo, hi, ok := strings.Cut(v, "-"); ok {
		return (parseDecimal(lo) + parseDecimal(hi)) / 2
	}
	return parseDecimal(v)
}

func isTrace(v string) bool {
	return strings.Contains(strings.ToLower(v), "след")
}

func parseDecimal(v string) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
	if err != nil {
		return 0
	}
	return f
}

func cleanCell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
