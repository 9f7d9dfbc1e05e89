package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nutria0/nutria/internal/auth"
	"github.com/nutria0/nutria/internal/intake"
)

// defaultListWindow is how far back list endpoints look when the caller
// does not pass an explicit range.
const defaultListWindow = 24 * time.Hour

type intakeHandler struct {
	store  IntakeStore
	logger *slog.Logger
}

// foodEntryJSON is the wire form of a food entry.
type foodEntryJSON struct {
	ID            string   `json:"id"`
	FoodItem      string   `json:"foodItem"`
	QuantityValue *float64 `json:"quantityValue,omitempty"`
	QuantityUnit  string   `json:"quantityUnit,omitempty"`
	Calories      *float64 `json:"calories,omitempty"`
	Fats          *float64 `json:"fats,omitempty"`
	Carbs         *float64 `json:"carbs,omitempty"`
	Proteins      *float64 `json:"proteins,omitempty"`
	MealType      string   `json:"mealType"`
	Source        string   `json:"source"`
	Notes         string   `json:"notes,omitempty"`
	ConsumedAt    string   `json:"consumedAt"`
}

func toFoodJSON(e *intake.FoodEntry) foodEntryJSON {
	return foodEntryJSON{
		ID:            e.ID,
		FoodItem:      e.FoodItem,
		QuantityValue: e.QuantityValue,
		QuantityUnit:  e.QuantityUnit,
		Calories:      e.Calories,
		Fats:          e.Fats,
		Carbs:         e.Carbs,
		Proteins:      e.Proteins,
		MealType:      string(e.MealType),
		Source:        string(e.Source),
		Notes:         e.Notes,
		ConsumedAt:    e.ConsumedAt.UTC().Format(time.RFC3339),
	}
}

// waterEntryJSON is the wire form of a water entry. AmountOz is a derived
// display value; Amount stays in the stored unit.
type waterEntryJSON struct {
	ID         string  `json:"id"`
	Amount     float64 `json:"amount"`
	Unit       string  `json:"unit"`
	AmountOz   float64 `json:"amountOz,omitempty"`
	Source     string  `json:"source"`
	Notes      string  `json:"notes,omitempty"`
	ConsumedAt string  `json:"consumedAt"`
}

func toWaterJSON(e *intake.WaterEntry) waterEntryJSON {
	out := waterEntryJSON{
		ID:         e.ID,
		Amount:     e.Amount,
		Unit:       e.Unit,
		Source:     string(e.Source),
		Notes:      e.Notes,
		ConsumedAt: e.ConsumedAt.UTC().Format(time.RFC3339),
	}
	if e.Unit == intake.CanonicalWaterUnit {
		out.AmountOz = intake.MlToOz(e.Amount)
	}
	return out
}

// parseRange reads from/to query parameters, defaulting to the last 24h.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now()
	from, to := now.Add(-defaultListWindow), now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
		}
		to = parsed
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func (h *intakeHandler) listFood(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	entries, err := h.store.FoodBetween(r.Context(), identity.UserID, from, to)
	if err != nil {
		h.logger.Error("listing food entries", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to list food entries")
		return
	}

	out := make([]foodEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toFoodJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// createFoodRequest is the POST /api/v1/intake/food body.
type createFoodRequest struct {
	FoodItem  string   `json:"foodItem"`
	Quantity  string   `json:"quantity,omitempty"`
	Calories  *float64 `json:"calories,omitempty"`
	Fats      *float64 `json:"fats,omitempty"`
	Carbs     *float64 `json:"carbs,omitempty"`
	Proteins  *float64 `json:"proteins,omitempty"`
	MealType  string   `json:"mealType,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

func (h *intakeHandler) createFood(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req createFoodRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.FoodItem == "" {
		writeError(w, http.StatusBadRequest, "missing_food_item", "foodItem is required")
		return
	}

	consumedAt := time.Now()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timestamp", "timestamp must be RFC 3339")
			return
		}
		consumedAt = parsed
	}

	mealType := intake.MealType(req.MealType)
	if req.MealType != "" && !mealType.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_meal_type", "mealType must be breakfast, lunch, dinner or snack")
		return
	}
	if req.MealType == "" {
		mealType = intake.InferMealType(consumedAt.Local())
	}

	quantity := intake.ParseQuantity(req.Quantity)
	entry := &intake.FoodEntry{
		ID:            uuid.NewString(),
		UserID:        identity.UserID,
		FoodItem:      req.FoodItem,
		QuantityValue: quantity.Value,
		QuantityUnit:  quantity.Unit,
		Calories:      req.Calories,
		Fats:          req.Fats,
		Carbs:         req.Carbs,
		Proteins:      req.Proteins,
		MealType:      mealType,
		Source:        intake.SourceManual,
		Notes:         req.Notes,
		ConsumedAt:    consumedAt,
	}
	if err := h.store.SaveFood(r.Context(), entry); err != nil {
		h.logger.Error("saving food entry", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to save food entry")
		return
	}

	writeJSON(w, http.StatusCreated, toFoodJSON(entry))
}

func (h *intakeHandler) listWater(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	entries, err := h.store.WaterBetween(r.Context(), identity.UserID, from, to)
	if err != nil {
		h.logger.Error("listing water entries", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to list water entries")
		return
	}

	out := make([]waterEntryJSON, 0, len(entries))
	var totalMl float64
	for _, e := range entries {
		out = append(out, toWaterJSON(e))
		if e.Unit == intake.CanonicalWaterUnit {
			totalMl += e.Amount
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"totalMl": totalMl,
		"totalOz": intake.MlToOz(totalMl),
	})
}

// createWaterRequest is the POST /api/v1/intake/water body. Supplying an
// entryId updates that entry instead of creating a new one.
type createWaterRequest struct {
	Amount    float64 `json:"amount"`
	Unit      string  `json:"unit,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	EntryID   string  `json:"entryId,omitempty"`
}

func (h *intakeHandler) createWater(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req createWaterRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be positive")
		return
	}

	consumedAt := time.Now()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timestamp", "timestamp must be RFC 3339")
			return
		}
		consumedAt = parsed
	}

	amount, unit := intake.NormalizeWater(req.Amount, req.Unit)
	entryID := req.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}

	entry := &intake.WaterEntry{
		ID:         entryID,
		UserID:     identity.UserID,
		Amount:     amount,
		Unit:       unit,
		Source:     intake.SourceManual,
		Notes:      req.Notes,
		ConsumedAt: consumedAt,
	}
	if err := h.store.SaveWater(r.Context(), entry); err != nil {
		if errors.Is(err, intake.ErrNotOwned) {
			writeError(w, http.StatusForbidden, "not_owned", "entry belongs to a different user")
			return
		}
		h.logger.Error("saving water entry", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to save water entry")
		return
	}

	writeJSON(w, http.StatusCreated, toWaterJSON(entry))
}
