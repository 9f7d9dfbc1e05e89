package intake

import (
	"testing"
	"time"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantValue *float64
		wantUnit  string
	}{
		{name: "number with attached unit", raw: "150g", wantValue: f64(150), wantUnit: "g"},
		{name: "number with spaced unit", raw: "1 cup", wantValue: f64(1), wantUnit: "cup"},
		{name: "decimal value", raw: "2.5 l", wantValue: f64(2.5), wantUnit: "l"},
		{name: "bare number", raw: "300", wantValue: f64(300), wantUnit: ""},
		{name: "no number", raw: "apple", wantValue: nil, wantUnit: "apple"},
		{name: "surrounding whitespace", raw: "  200 ml  ", wantValue: f64(200), wantUnit: "ml"},
		{name: "empty", raw: "", wantValue: nil, wantUnit: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseQuantity(tt.raw)
			switch {
			case tt.wantValue == nil && got.Value != nil:
				t.Fatalf("ParseQuantity(%q).Value = %v, want nil", tt.raw, *got.Value)
			case tt.wantValue != nil && got.Value == nil:
				t.Fatalf("ParseQuantity(%q).Value = nil, want %v", tt.raw, *tt.wantValue)
			case tt.wantValue != nil && *got.Value != *tt.wantValue:
				t.Fatalf("ParseQuantity(%q).Value = %v, want %v", tt.raw, *got.Value, *tt.wantValue)
			}
			if got.Unit != tt.wantUnit {
				t.Fatalf("ParseQuantity(%q).Unit = %q, want %q", tt.raw, got.Unit, tt.wantUnit)
			}
		})
	}
}

func TestInferMealType(t *testing.T) {
	tests := []struct {
		hour int
		want MealType
	}{
		{hour: 7, want: MealBreakfast},
		{hour: 5, want: MealBreakfast},
		{hour: 10, want: MealBreakfast},
		{hour: 13, want: MealLunch},
		{hour: 11, want: MealLunch},
		{hour: 15, want: MealLunch},
		{hour: 19, want: MealDinner},
		{hour: 16, want: MealDinner},
		{hour: 21, want: MealDinner},
		{hour: 2, want: MealSnack},
		{hour: 22, want: MealSnack},
		{hour: 4, want: MealSnack},
	}

	for _, tt := range tests {
		ts := time.Date(2025, 6, 1, tt.hour, 30, 0, 0, time.Local)
		if got := InferMealType(ts); got != tt.want {
			t.Errorf("InferMealType(hour=%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestNormalizeWater(t *testing.T) {
	tests := []struct {
		name       string
		amount     float64
		unit       string
		wantAmount float64
		wantUnit   string
	}{
		{name: "cups", amount: 2, unit: "cups", wantAmount: 500, wantUnit: "ml"},
		{name: "ounces", amount: 8, unit: "oz", wantAmount: 237, wantUnit: "ml"},
		{name: "liters", amount: 1.5, unit: "l", wantAmount: 1500, wantUnit: "ml"},
		{name: "ml passthrough", amount: 330, unit: "ml", wantAmount: 330, wantUnit: "ml"},
		{name: "empty unit assumed ml", amount: 250.4, unit: "", wantAmount: 250, wantUnit: "ml"},
		{name: "unknown unit treated as ml", amount: 330.4, unit: "bottle", wantAmount: 330, wantUnit: "ml"},
		{name: "case insensitive", amount: 1, unit: "Cup", wantAmount: 250, wantUnit: "ml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, unit := NormalizeWater(tt.amount, tt.unit)
			if amount != tt.wantAmount || unit != tt.wantUnit {
				t.Fatalf("NormalizeWater(%v, %q) = (%v, %q), want (%v, %q)",
					tt.amount, tt.unit, amount, unit, tt.wantAmount, tt.wantUnit)
			}
		})
	}
}

func TestMlToOz(t *testing.T) {
	if got := MlToOz(236.588); got != 8.00 {
		t.Fatalf("MlToOz(236.588) = %v, want 8.00", got)
	}
	if got := MlToOz(500); got != 16.91 {
		t.Fatalf("MlToOz(500) = %v, want 16.91", got)
	}
}

func TestMealTypeValid(t *testing.T) {
	for _, m := range []MealType{MealBreakfast, MealLunch, MealDinner, MealSnack} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if MealType("brunch").Valid() {
		t.Error("brunch should not be valid")
	}
}

func f64(v float64) *float64 { return &v }
