package food

import (
	"fmt"
	"strings"
)

// MealSlot classifies when a meal was eaten.
type MealSlot string

const (
	Breakfast MealSlot = "breakfast"
	Lunch     MealSlot = "lunch"
	Dinner    MealSlot = "dinner"
	Snack     MealSlot = "snack"
)

// MealSlots lists all slots in display order.
var MealSlots = []MealSlot{Breakfast, Lunch, Dinner, Snack}

var slotTitles = map[MealSlot]string{
	Breakfast: "Завтрак",
	Lunch:     "Обед",
	Dinner:    "Ужин",
	Snack:     "Перекус",
}

// Valid reports whether s is a known slot.
func (s MealSlot) Valid() bool {
	_, ok := slotTitles[s]
	return ok
}

// Title returns the human-readable slot name.
func (s MealSlot) Title() string {
	if t, ok := slotTitles[s]; ok {
		return t
	}
	return string(s)
}

// ParseMealSlot parses a slot label, case-insensitively.
func ParseMealSlot(v string) (MealSlot, error) {
	s := MealSlot(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMealSlot, v)
	}
	return s, nil
}
