package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ai-food-diary/internal/food"
)

//go:embed postgres_schema.sql
var postgresSchema string

// PostgresRepository serves the catalog from Postgres using pg_trgm.
type PostgresRepository struct {
	db        *sql.DB
	threshold float64
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// NewPostgresRepository wraps an open pgx-backed *sql.DB.
func NewPostgresRepository(db *sql.DB, threshold float64) *PostgresRepository {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &PostgresRepository{db: db, threshold: threshold}
}

// EnsureSchema creates the pg_trgm extension, table and indexes if missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply catalog schema: %w", err)
	}
	return nil
}

const pgProductColumns = `id, name, name_normalized, category, calories, protein, fat, carbs`

func (r *PostgresRepository) Lookup(ctx context.Context, normalizedName string) ([]food.NutritionProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pgProductColumns+` FROM products_nutrition WHERE name_normalized = $1 ORDER BY id`,
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

func (r *PostgresRepository) FuzzyLookup(ctx context.Context, normalizedName string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pgProductColumns+`, similarity(name_normalized, $1) AS sim
		FROM products_nutrition
		WHERE similarity(name_normalized, $1) > $2
		ORDER BY sim DESC, name_normalized
		LIMIT $3`, normalizedName, r.threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var category sql.NullString
		if err := rows.Scan(&m.Profile.ID, &m.Profile.Name, &m.Profile.NameNormalized, &category,
			&m.Profile.CaloriesPer100g, &m.Profile.ProteinPer100g, &m.Profile.FatPer100g, &m.Profile.CarbsPer100g,
			&m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		m.Profile.Category = category.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveAll upserts products on name_normalized inside one transaction.
func (r *PostgresRepository) SaveAll(ctx context.Context, products []food.NutritionProfile) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	saved := 0
	for _, p := range products {
		p = prepare(p)
		if p.NameNormalized == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products_nutrition (name, name_normalized, category, calories, protein, fat, carbs)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (name_normalized) DO UPDATE SET
				name = EXCLUDED.name,
				category = EXCLUDED.category,
				calories = EXCLUDED.calories,
				protein = EXCLUDED.protein,
				fat = EXCLUDED.fat,
				carbs = EXCLUDED.carbs,
				updated_at = now()`,
			p.Name, p.NameNormalized, p.Category, p.CaloriesPer100g, p.ProteinPer100g, p.FatPer100g, p.CarbsPer100g)
		if err != nil {
			return 0, fmt.Errorf("failed to save product %q: %w", p.Name, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit catalog import: %w", err)
	}
	return saved, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products_nutrition`).Scan(&n)
	return n, err
}
