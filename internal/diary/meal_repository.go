package diary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-food-diary/internal/food"
)

// ErrDuplicateEntry is returned by a MealStore when the draft was already committed.
var ErrDuplicateEntry = errors.New("meal entry already recorded for draft")

// MealRepository is the SQLite journal of committed meals.
type MealRepository struct {
	db *sql.DB
}

// NewMealRepository creates a new MealRepository instance
func NewMealRepository(db *sql.DB) *MealRepository {
	return &MealRepository{db: db}
}

// Save inserts the entry and sets its ID. The draft ID is unique: a second
// save of the same draft writes nothing and returns ErrDuplicateEntry.
func (r *MealRepository) Save(ctx context.Context, e *food.MealEntry) error {
	ingredients, err := json.Marshal(e.Analysis.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to encode ingredients: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO meal_entries
			(user_id, draft_id, meal_slot, name, ingredients, weight, calories, protein, fat, carbs, eaten_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(draft_id) DO NOTHING`,
		e.UserID, e.DraftID, string(e.Slot), e.Analysis.Name, string(ingredients), e.Analysis.WeightGrams,
		e.Analysis.Calories, e.Analysis.Protein, e.Analysis.Fat, e.Analysis.Carbs, e.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert meal entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateEntry
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read meal entry id: %w", err)
	}
	e.ID = id
	return nil
}

// ListByDay returns the user's entries for the calendar day containing day,
// in day's location, oldest first.
func (r *MealRepository) ListByDay(ctx context.Context, userID int64, day time.Time) ([]food.MealEntry, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, draft_id, meal_slot, name, ingredients, weight, calories, protein, fat, carbs, eaten_at
		FROM meal_entries
		WHERE user_id = ? AND eaten_at >= ? AND eaten_at < ?
		ORDER BY eaten_at, id`,
		userID, start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query meal entries: %w", err)
	}
	defer rows.Close()

	var entries []food.MealEntry
	for rows.Next() {
		var (
			e           food.MealEntry
			slot        string
			ingredients string
			eatenAt     int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.DraftID, &slot, &e.Analysis.Name, &ingredients,
			&e.Analysis.WeightGrams, &e.Analysis.Calories, &e.Analysis.Protein, &e.Analysis.Fat,
			&e.Analysis.Carbs, &eatenAt); err != nil {
			return nil, fmt.Errorf("failed to scan meal entry: %w", err)
		}
		if err := json.Unmarshal([]byte(ingredients), &e.Analysis.Ingredients); err != nil {
			return nil, fmt.Errorf("failed to decode ingredients of entry %d: %w", e.ID, err)
		}
		e.Slot = food.MealSlot(slot)
		e.Timestamp = time.Unix(eatenAt, 0).In(day.Location())
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SlotSummary is one meal slot of a day with its entries and totals.
type SlotSummary struct {
	Slot    food.MealSlot    `json:"slot"`
	Entries []food.MealEntry `json:"entries"`
	Total   food.Nutrients   `json:"total"`
}

// DaySummary groups a day's entries by slot.
type DaySummary struct {
	Slots []SlotSummary  `json:"slots"`
	Total food.Nutrients `json:"total"`
}

// Summarize groups entries by slot in breakfast, lunch, dinner, snack order,
// skipping empty slots.
func Summarize(entries []food.MealEntry) DaySummary {
	bySlot := make(map[food.MealSlot][]food.MealEntry)
	for _, e := range entries {
		bySlot[e.Slot] = append(bySlot[e.Slot], e)
	}

	var sum DaySummary
	for _, slot := range food.MealSlots {
		list := bySlot[slot]
		if len(list) == 0 {
			continue
		}
		var total food.Nutrients
		for _, e := range list {
			total = total.Add(e.Analysis.Nutrients)
		}
		sum.Slots = append(sum.Slots, SlotSummary{Slot: slot, Entries: list, Total: total.Rounded()})
		sum.Total = sum.Total.Add(total)
	}
	sum.Total = sum.Total.Rounded()
	return sum
}
