package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotOwned indicates an entry ID exists but belongs to a different user.
var ErrNotOwned = errors.New("entry belongs to a different user")

// Store persists food and water entries in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an intake store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// SaveFood inserts a food entry. CreatedAt/UpdatedAt are set server-side.
func (s *Store) SaveFood(ctx context.Context, e *FoodEntry) error {
	if e.ID == "" {
		return errors.New("entry ID is required")
	}
	if e.UserID == "" {
		return errors.New("user ID is required")
	}
	if e.FoodItem == "" {
		return errors.New("food item is required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO food_entries (
			id, user_id, food_item, quantity_value, quantity_unit,
			calories, fats, carbs, proteins,
			meal_type, source, notes, consumed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.UserID, e.FoodItem, e.QuantityValue, e.QuantityUnit,
		e.Calories, e.Fats, e.Carbs, e.Proteins,
		string(e.MealType), string(e.Source), e.Notes, e.ConsumedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting food entry: %w", err)
	}

	s.logger.Debug("saved food entry",
		"entry_id", e.ID,
		"user_id", e.UserID,
		"meal_type", e.MealType)
	return nil
}

// SaveWater upserts a water entry by ID. Re-saving an existing ID updates the
// amount, unit, notes and consumed_at in place, which lets a conversation
// correct an earlier log ("actually that was 500ml"). An ID owned by another
// user is left untouched and reported as ErrNotOwned.
func (s *Store) SaveWater(ctx context.Context, e *WaterEntry) error {
	if e.ID == "" {
		return errors.New("entry ID is required")
	}
	if e.UserID == "" {
		return errors.New("user ID is required")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO water_entries (id, user_id, amount, unit, source, notes, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			unit = EXCLUDED.unit,
			notes = EXCLUDED.notes,
			consumed_at = EXCLUDED.consumed_at,
			updated_at = now()
		WHERE water_entries.user_id = EXCLUDED.user_id`,
		e.ID, e.UserID, e.Amount, e.Unit, string(e.Source), e.Notes, e.ConsumedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting water entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("water entry %s: %w", e.ID, ErrNotOwned)
	}

	s.logger.Debug("saved water entry",
		"entry_id", e.ID,
		"user_id", e.UserID,
		"amount", e.Amount,
		"unit", e.Unit)
	return nil
}

// FoodBetween returns the user's food entries with consumed_at in [from, to),
// oldest first.
func (s *Store) FoodBetween(ctx context.Context, userID string, from, to time.Time) ([]*FoodEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, food_item, quantity_value, quantity_unit,
		       calories, fats, carbs, proteins,
		       meal_type, source, notes, consumed_at, created_at, updated_at
		FROM food_entries
		WHERE user_id = $1 AND consumed_at >= $2 AND consumed_at < $3
		ORDER BY consumed_at`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying food entries: %w", err)
	}
	defer rows.Close()

	var entries []*FoodEntry
	for rows.Next() {
		var e FoodEntry
		var mealType, source string
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.FoodItem, &e.QuantityValue, &e.QuantityUnit,
			&e.Calories, &e.Fats, &e.Carbs, &e.Proteins,
			&mealType, &source, &e.Notes, &e.ConsumedAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning food entry: %w", err)
		}
		e.MealType = MealType(mealType)
		e.Source = Source(source)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading food entries: %w", err)
	}
	return entries, nil
}

// WaterBetween returns the user's water entries with consumed_at in [from, to),
// oldest first.
func (s *Store) WaterBetween(ctx context.Context, userID string, from, to time.Time) ([]*WaterEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, amount, unit, source, notes, consumed_at, created_at, updated_at
		FROM water_entries
		WHERE user_id = $1 AND consumed_at >= $2 AND consumed_at < $3
		ORDER BY consumed_at`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying water entries: %w", err)
	}
	defer rows.Close()

	var entries []*WaterEntry
	for rows.Next() {
		var e WaterEntry
		var source string
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Amount, &e.Unit, &source,
			&e.Notes, &e.ConsumedAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning water entry: %w", err)
		}
		e.Source = Source(source)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading water entries: %w", err)
	}
	return entries, nil
}
