// Package intake persists food and water intake log entries and holds the
// pure domain rules around them: free-text quantity parsing, meal-type
// inference, and water unit normalization.
package intake

import "time"

// Source records how an entry entered the system.
type Source string

const (
	// SourceManual marks entries created directly through the REST API.
	SourceManual Source = "manual"
	// SourceConversation marks entries created by the assistant's tools.
	SourceConversation Source = "conversation"
	// SourceApp marks entries synced from a companion application.
	SourceApp Source = "app"
)

// MealType categorizes a food entry by meal.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// Valid reports whether m is one of the known meal types.
func (m MealType) Valid() bool {
	switch m {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// InferMealType maps the local hour of t to a meal type:
// 05-10 breakfast, 11-15 lunch, 16-21 dinner, everything else snack.
func InferMealType(t time.Time) MealType {
	switch hour := t.Hour(); {
	case hour >= 5 && hour <= 10:
		return MealBreakfast
	case hour >= 11 && hour <= 15:
		return MealLunch
	case hour >= 16 && hour <= 21:
		return MealDinner
	default:
		return MealSnack
	}
}

// FoodEntry is one logged food intake.
// Nutrition fields are pointers: nil means "not reported", which is distinct
// from a confirmed zero. They map to NULL columns.
type FoodEntry struct {
	ID            string
	UserID        string
	FoodItem      string
	QuantityValue *float64
	QuantityUnit  string
	Calories      *float64
	Fats          *float64
	Carbs         *float64
	Proteins      *float64
	MealType      MealType
	Source        Source
	Notes         string
	ConsumedAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WaterEntry is one logged water intake, stored in the normalized unit.
type WaterEntry struct {
	ID         string
	UserID     string
	Amount     float64
	Unit       string
	Source     Source
	Notes      string
	ConsumedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
