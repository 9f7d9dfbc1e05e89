// Package tools implements the assistant's tool surface: remembering facts
// about the user and logging food and water intake.
//
// The registry validates arguments against hand-written JSON Schemas before
// touching any store, resolves the acting user from the request context, and
// returns plain-text results the model can weave into its reply.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/nutria0/nutria/internal/agent"
	"github.com/nutria0/nutria/internal/auth"
	"github.com/nutria0/nutria/internal/intake"
)

// Name identifies a registered tool.
type Name string

// The registered tool names, as advertised to the model.
const (
	UpsertMemory    Name = "upsertMemory"
	SaveFoodIntake  Name = "saveFoodIntake"
	SaveWaterIntake Name = "saveWaterIntake"
)

// MemoryStore persists long-term memories.
type MemoryStore interface {
	Upsert(ctx context.Context, ownerID, memoryID, content, memoryContext string) (string, error)
}

// IntakeStore persists intake log entries.
type IntakeStore interface {
	SaveFood(ctx context.Context, e *intake.FoodEntry) error
	SaveWater(ctx context.Context, e *intake.WaterEntry) error
}

// Registry validates and executes tool calls.
type Registry struct {
	memories MemoryStore
	intakes  IntakeStore
	logger   *slog.Logger

	remember *jsonschema.Resolved
	food     *jsonschema.Resolved
	water    *jsonschema.Resolved
}

// NewRegistry creates a Registry. A nil memories store disables upsertMemory;
// the intake store is required.
func NewRegistry(memories MemoryStore, intakes IntakeStore, logger *slog.Logger) (*Registry, error) {
	if intakes == nil {
		return nil, fmt.Errorf("intake store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{memories: memories, intakes: intakes, logger: logger}
	var err error
	if r.remember, err = rememberSchema.Resolve(nil); err != nil {
		return nil, fmt.Errorf("resolving %s schema: %w", UpsertMemory, err)
	}
	if r.food, err = foodSchema.Resolve(nil); err != nil {
		return nil, fmt.Errorf("resolving %s schema: %w", SaveFoodIntake, err)
	}
	if r.water, err = waterSchema.Resolve(nil); err != nil {
		return nil, fmt.Errorf("resolving %s schema: %w", SaveWaterIntake, err)
	}
	return r, nil
}

// Execute runs the named tool. An unregistered name wraps agent.ErrUnknownTool
// and a missing identity returns agent.ErrNoUser; both abort the surrounding
// run. Any other failure is an ordinary error the caller folds back into the
// conversation.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.UserID == "" {
		return "", agent.ErrNoUser
	}

	r.logger.Debug("executing tool", "tool", name, "user_id", identity.UserID)

	switch Name(name) {
	case UpsertMemory:
		return r.upsertMemory(ctx, identity.UserID, args)
	case SaveFoodIntake:
		return r.logFood(ctx, identity.UserID, args)
	case SaveWaterIntake:
		return r.logWater(ctx, identity.UserID, args)
	default:
		return "", fmt.Errorf("tool %q: %w", name, agent.ErrUnknownTool)
	}
}

// decodeArgs validates args against the schema and decodes them into out.
func decodeArgs(schema *jsonschema.Resolved, args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return nil
}

type rememberArgs struct {
	Content  string `json:"content"`
	Context  string `json:"context,omitempty"`
	MemoryID string `json:"memoryId,omitempty"`
}

func (r *Registry) upsertMemory(ctx context.Context, userID string, args map[string]any) (string, error) {
	if r.memories == nil {
		return "", fmt.Errorf("tool %q: %w", UpsertMemory, agent.ErrUnknownTool)
	}

	var a rememberArgs
	if err := decodeArgs(r.remember, args, &a); err != nil {
		return "", err
	}

	memoryID, err := r.memories.Upsert(ctx, userID, a.MemoryID, a.Content, a.Context)
	if err != nil {
		return "", fmt.Errorf("saving memory: %w", err)
	}
	return fmt.Sprintf("Remembered. Use memory ID %s to revise this fact later.", memoryID), nil
}

type foodArgs struct {
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

func (r *Registry) logFood(ctx context.Context, userID string, args map[string]any) (string, error) {
	var a foodArgs
	if err := decodeArgs(r.food, args, &a); err != nil {
		return "", err
	}

	consumedAt, err := parseTimestamp(a.Timestamp)
	if err != nil {
		return "", err
	}

	mealType := intake.MealType(a.MealType)
	if !mealType.Valid() {
		mealType = intake.InferMealType(consumedAt.Local())
	}

	quantity := intake.ParseQuantity(a.Quantity)
	entry := &intake.FoodEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		FoodItem:      a.FoodItem,
		QuantityValue: quantity.Value,
		QuantityUnit:  quantity.Unit,
		Calories:      a.Calories,
		Fats:          a.Fats,
		Carbs:         a.Carbs,
		Proteins:      a.Proteins,
		MealType:      mealType,
		Source:        intake.SourceConversation,
		Notes:         a.Notes,
		ConsumedAt:    consumedAt,
	}
	if err := r.intakes.SaveFood(ctx, entry); err != nil {
		return "", fmt.Errorf("saving food entry: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Logged %s as %s.", a.FoodItem, mealType)
	if a.Calories != nil {
		fmt.Fprintf(&b, " Estimated %.0f kcal.", *a.Calories)
	}
	return b.String(), nil
}

type waterArgs struct {
	Amount    float64 `json:"amount"`
	Unit      string  `json:"unit,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	EntryID   string  `json:"entryId,omitempty"`
}

func (r *Registry) logWater(ctx context.Context, userID string, args map[string]any) (string, error) {
	var a waterArgs
	if err := decodeArgs(r.water, args, &a); err != nil {
		return "", err
	}
	if a.Amount <= 0 {
		return "", fmt.Errorf("invalid arguments: amount must be positive, got %v", a.Amount)
	}

	consumedAt, err := parseTimestamp(a.Timestamp)
	if err != nil {
		return "", err
	}

	amount, unit := intake.NormalizeWater(a.Amount, a.Unit)
	entryID := a.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}

	entry := &intake.WaterEntry{
		ID:         entryID,
		UserID:     userID,
		Amount:     amount,
		Unit:       unit,
		Source:     intake.SourceConversation,
		Notes:      a.Notes,
		ConsumedAt: consumedAt,
	}
	if err := r.intakes.SaveWater(ctx, entry); err != nil {
		return "", fmt.Errorf("saving water entry: %w", err)
	}
	return fmt.Sprintf("Logged %.0f %s of water. Use entry ID %s to correct this later.", amount, unit, entryID), nil
}

// parseTimestamp parses an optional RFC 3339 timestamp, defaulting to now.
func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid arguments: timestamp must be RFC 3339: %w", err)
	}
	return ts, nil
}
