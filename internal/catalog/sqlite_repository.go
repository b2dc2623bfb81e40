package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ai-food-diary/internal/food"
)

// SQLiteRepository is the embedded product catalog. Fuzzy matching runs the
// trigram similarity in Go since SQLite has no pg_trgm.
type SQLiteRepository struct {
	db        *sql.DB
	threshold float64
}

// NewSQLiteRepository creates a catalog over the products_nutrition table.
func NewSQLiteRepository(db *sql.DB, threshold float64) *SQLiteRepository {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &SQLiteRepository{db: db, threshold: threshold}
}

const sqliteProductColumns = `id, name, name_normalized, category, calories, protein, fat, carbs`

// Lookup returns products whose normalized name equals normalizedName.
func (r *SQLiteRepository) Lookup(ctx context.Context, normalizedName string) ([]food.NutritionProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteProductColumns+` FROM products_nutrition WHERE name_normalized = ? ORDER BY id`,
		normalizedName)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var out []food.NutritionProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FuzzyLookup returns up to limit products with similarity above the
// repository threshold, best first.
func (r *SQLiteRepository) FuzzyLookup(ctx context.Context, normalizedName string, limit int) ([]Match, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteProductColumns+` FROM products_nutrition`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		if s := Similarity(normalizedName, p.NameNormalized); s > r.threshold {
			matches = append(matches, Match{Profile: p, Similarity: s})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SaveAll upserts products keyed by normalized name in a single transaction.
func (r *SQLiteRepository) SaveAll(ctx context.Context, products []food.NutritionProfile) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products_nutrition (name, name_normalized, category, calories, protein, fat, carbs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_normalized) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			calories = excluded.calories,
			protein = excluded.protein,
			fat = excluded.fat,
			carbs = excluded.carbs`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	saved := 0
	for _, p := range products {
		p = prepare(p)
		if p.NameNormalized == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, p.Name, p.NameNormalized, p.Category,
			p.CaloriesPer100g, p.ProteinPer100g, p.FatPer100g, p.CarbsPer100g, now); err != nil {
			return 0, fmt.Errorf("failed to save product %q: %w", p.Name, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit catalog import: %w", err)
	}
	return saved, nil
}

// Count returns the number of catalog products.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products_nutrition`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (food.NutritionProfile, error) {
	var p food.NutritionProfile
	var category sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.NameNormalized, &category,
		&p.CaloriesPer100g, &p.ProteinPer100g, &p.FatPer100g, &p.CarbsPer100g); err != nil {
		return food.NutritionProfile{}, fmt.Errorf("failed to scan product: %w", err)
	}
	p.Category = category.String
	return p, nil
}
