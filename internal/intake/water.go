package intake

import (
	"math"
	"strings"
)

// Unit conversion factors for water intake.
const (
	MlPerOunce = 29.5735
	MlPerCup   = 250.0
	MlPerLiter = 1000.0
)

// CanonicalWaterUnit is the unit water amounts are stored in.
const CanonicalWaterUnit = "ml"

// NormalizeWater converts an amount in a user-supplied unit to the canonical
// storage unit (ml, rounded to a whole number). Unrecognized units are treated
// as ml, the amount unchanged.
func NormalizeWater(amount float64, unit string) (float64, string) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "l", "liter", "liters", "litre", "litres":
		return math.Round(amount * MlPerLiter), CanonicalWaterUnit
	case "cup", "cups":
		return math.Round(amount * MlPerCup), CanonicalWaterUnit
	case "oz", "ounce", "ounces", "fl oz", "floz", "fluid ounce", "fluid ounces":
		return math.Round(amount * MlPerOunce), CanonicalWaterUnit
	default: // ml and anything unrecognized
		return math.Round(amount), CanonicalWaterUnit
	}
}

// MlToOz converts milliliters to fluid ounces, rounded to two decimals,
// for display to users who prefer imperial units.
func MlToOz(ml float64) float64 {
	return math.Round(ml/MlPerOunce*100) / 100
}
