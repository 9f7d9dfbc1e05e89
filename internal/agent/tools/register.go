package tools

import (
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Tool input types mirror the handler schemas; the struct tags produce the
// schema the model is shown.

type rememberInput struct {
	Content  string `json:"content" jsonschema_description:"The fact to remember, phrased as a standalone statement."`
	Context  string `json:"context,omitempty" jsonschema_description:"Optional background on when or why this fact applies."`
	MemoryID string `json:"memoryId,omitempty" jsonschema_description:"ID of an existing memory to revise. Omit to create a new memory."`
}

type foodInput struct {
	FoodItem  string   `json:"foodItem" jsonschema_description:"What was eaten, e.g. grilled chicken salad."`
	Quantity  string   `json:"quantity,omitempty" jsonschema_description:"Free-text amount, e.g. 150g, 1 cup, 2 slices."`
	Calories  *float64 `json:"calories,omitempty" jsonschema_description:"Estimated kilocalories."`
	Fats      *float64 `json:"fats,omitempty" jsonschema_description:"Estimated fat in grams."`
	Carbs     *float64 `json:"carbs,omitempty" jsonschema_description:"Estimated carbohydrates in grams."`
	Proteins  *float64 `json:"proteins,omitempty" jsonschema_description:"Estimated protein in grams."`
	MealType  string   `json:"mealType,omitempty" jsonschema_description:"Meal category: breakfast, lunch, dinner or snack. Omit to infer from the time of day."`
	Timestamp string   `json:"timestamp,omitempty" jsonschema_description:"When it was consumed, RFC 3339. Omit for now."`
	Notes     string   `json:"notes,omitempty" jsonschema_description:"Optional free-form notes."`
}

type waterInput struct {
	Amount    float64 `json:"amount" jsonschema_description:"Amount of water consumed."`
	Unit      string  `json:"unit,omitempty" jsonschema_description:"Unit of the amount: ml, l, cups or oz. Defaults to ml."`
	Timestamp string  `json:"timestamp,omitempty" jsonschema_description:"When it was consumed, RFC 3339. Omit for now."`
	Notes     string  `json:"notes,omitempty" jsonschema_description:"Optional free-form notes."`
	EntryID   string  `json:"entryId,omitempty" jsonschema_description:"ID of an existing water entry to correct. Omit to create a new entry."`
}

// Register defines the registry's tools on the Genkit instance and returns
// them for use as tool references in generate calls. Execution flows through
// Registry.Execute so schema validation and identity checks apply on every
// path.
func Register(g *genkit.Genkit, r *Registry) []ai.Tool {
	defined := []ai.Tool{
		genkit.DefineTool(g, string(UpsertMemory),
			"Remember a lasting fact about the user, such as a goal, allergy or preference.",
			func(tc *ai.ToolContext, in rememberInput) (string, error) {
				return r.Execute(tc.Context, string(UpsertMemory), toMap(in))
			}),
		genkit.DefineTool(g, string(SaveFoodIntake),
			"Log something the user ate.",
			func(tc *ai.ToolContext, in foodInput) (string, error) {
				return r.Execute(tc.Context, string(SaveFoodIntake), toMap(in))
			}),
		genkit.DefineTool(g, string(SaveWaterIntake),
			"Log water the user drank, or correct an earlier water entry.",
			func(tc *ai.ToolContext, in waterInput) (string, error) {
				return r.Execute(tc.Context, string(SaveWaterIntake), toMap(in))
			}),
	}
	return defined
}

// toMap round-trips a typed input through JSON into the generic argument
// form Registry.Execute expects.
func toMap(in any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("encoding tool input: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("decoding tool input: %v", err))
	}
	return m
}
