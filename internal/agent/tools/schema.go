package tools

import "github.com/google/jsonschema-go/jsonschema"

// Argument schemas, written out by hand so the contract the model sees is
// exactly the contract the handlers enforce.

var rememberSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"content": {
			Type:        "string",
			MinLength:   ptr(1),
			Description: "The fact to remember, phrased as a standalone statement.",
		},
		"context": {
			Type:        "string",
			Description: "Optional background on when or why this fact applies.",
		},
		"memoryId": {
			Type:        "string",
			Description: "ID of an existing memory to revise. Omit to create a new memory.",
		},
	},
	Required:             []string{"content"},
	AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
}

var foodSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"foodItem": {
			Type:        "string",
			MinLength:   ptr(1),
			Description: "What was eaten, e.g. \"grilled chicken salad\".",
		},
		"quantity": {
			Type:        "string",
			Description: "Free-text amount, e.g. \"150g\", \"1 cup\", \"2 slices\".",
		},
		"calories": {Type: "number", Description: "Estimated kilocalories."},
		"fats":     {Type: "number", Description: "Estimated fat in grams."},
		"carbs":    {Type: "number", Description: "Estimated carbohydrates in grams."},
		"proteins": {Type: "number", Description: "Estimated protein in grams."},
		"mealType": {
			Type:        "string",
			Enum:        []any{"breakfast", "lunch", "dinner", "snack"},
			Description: "Meal category. Omit to infer from the time of day.",
		},
		"timestamp": {
			Type:        "string",
			Description: "When it was consumed, RFC 3339. Omit for now.",
		},
		"notes": {Type: "string", Description: "Optional free-form notes."},
	},
	Required:             []string{"foodItem"},
	AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
}

var waterSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"amount": {
			Type:        "number",
			Description: "Amount of water consumed.",
		},
		"unit": {
			Type:        "string",
			Description: "Unit of the amount: ml, l, cups or oz. Defaults to ml.",
		},
		"timestamp": {
			Type:        "string",
			Description: "When it was consumed, RFC 3339. Omit for now.",
		},
		"notes": {Type: "string", Description: "Optional free-form notes."},
		"entryId": {
			Type:        "string",
			Description: "ID of an existing water entry to correct. Omit to create a new entry.",
		},
	},
	Required:             []string{"amount"},
	AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
}

func ptr[T any](v T) *T { return &v }
