package intake

import (
	"regexp"
	"strconv"
	"strings"
)

// Quantity is a parsed free-text quantity.
// Value is nil when the input carried no leading number; Unit then holds the
// raw input so nothing the user said is lost.
type Quantity struct {
	Value *float64
	Unit  string
}

// quantityPattern matches a leading decimal number and captures the rest.
var quantityPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*(.*)$`)

// ParseQuantity parses a free-text quantity like "150g", "1 cup" or "apple".
//
//	"150g"  → (150, "g")
//	"1 cup" → (1, "cup")
//	"apple" → (nil, "apple")
func ParseQuantity(raw string) Quantity {
	trimmed := strings.TrimSpace(raw)

	m := quantityPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Quantity{Unit: trimmed}
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		// Unreachable with the pattern above, but stay total.
		return Quantity{Unit: trimmed}
	}

	return Quantity{Value: &value, Unit: strings.TrimSpace(m[2])}
}
