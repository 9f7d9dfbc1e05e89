package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nutria0/nutria/internal/log"
	"github.com/nutria0/nutria/internal/testutil"
)

func TestFoodSaveAndRange(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db.Pool, log.NewNop())
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	calories := 220.0
	entries := []*FoodEntry{
		{ID: "f1", UserID: "u1", FoodItem: "oatmeal", Calories: &calories, MealType: MealBreakfast, Source: SourceManual, ConsumedAt: base},
		{ID: "f2", UserID: "u1", FoodItem: "salad", MealType: MealLunch, Source: SourceConversation, ConsumedAt: base.Add(5 * time.Hour)},
		{ID: "f3", UserID: "u2", FoodItem: "pizza", MealType: MealDinner, Source: SourceManual, ConsumedAt: base},
	}
	for _, e := range entries {
		if err := store.SaveFood(ctx, e); err != nil {
			t.Fatalf("SaveFood(%s): %v", e.ID, err)
		}
	}

	// Only u1's entries inside the window, oldest first.
	got, err := store.FoodBetween(ctx, "u1", base.Add(-time.Hour), base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FoodBetween: %v", err)
	}
	if len(got) != 2 || got[0].ID != "f1" || got[1].ID != "f2" {
		t.Fatalf("entries = %+v", got)
	}
	if got[0].Calories == nil || *got[0].Calories != 220 {
		t.Fatalf("calories = %v", got[0].Calories)
	}
	// NULL nutrition comes back as nil, not zero.
	if got[1].Calories != nil {
		t.Fatalf("unreported calories = %v, want nil", got[1].Calories)
	}

	// Range end is exclusive.
	got, err = store.FoodBetween(ctx, "u1", base, base.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("FoodBetween: %v", err)
	}
	if len(got) != 1 || got[0].ID != "f1" {
		t.Fatalf("entries = %+v, want only f1", got)
	}
}

func TestWaterUpsert(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db.Pool, log.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.SaveWater(ctx, &WaterEntry{
		ID: "w1", UserID: "u1", Amount: 300, Unit: "ml",
		Source: SourceConversation, ConsumedAt: now,
	}); err != nil {
		t.Fatalf("SaveWater: %v", err)
	}

	// Same ID corrects the earlier amount in place.
	if err := store.SaveWater(ctx, &WaterEntry{
		ID: "w1", UserID: "u1", Amount: 500, Unit: "ml",
		Source: SourceConversation, Notes: "actually a large glass", ConsumedAt: now,
	}); err != nil {
		t.Fatalf("correcting SaveWater: %v", err)
	}

	got, err := store.WaterBetween(ctx, "u1", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("WaterBetween: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1 (upsert, not insert)", len(got))
	}
	if got[0].Amount != 500 || got[0].Notes != "actually a large glass" {
		t.Fatalf("entry = %+v", got[0])
	}
}

func TestWaterUpsertGuardsOwner(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db.Pool, log.NewNop())
	now := time.Now().UTC()

	if err := store.SaveWater(ctx, &WaterEntry{
		ID: "w1", UserID: "u1", Amount: 300, Unit: "ml", Source: SourceManual, ConsumedAt: now,
	}); err != nil {
		t.Fatalf("SaveWater: %v", err)
	}

	err := store.SaveWater(ctx, &WaterEntry{
		ID: "w1", UserID: "u2", Amount: 999, Unit: "ml", Source: SourceManual, ConsumedAt: now,
	})
	if !errors.Is(err, ErrNotOwned) {
		t.Fatalf("cross-user SaveWater = %v, want ErrNotOwned", err)
	}

	got, err := store.WaterBetween(ctx, "u1", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("WaterBetween: %v", err)
	}
	if got[0].Amount != 300 {
		t.Fatalf("amount = %v, entry must be untouched", got[0].Amount)
	}
}
