package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundDownToStep floors v to a multiple of step. Used for buy limit
// prices (tick) and order sizes (lot).
func RoundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}

// RoundUpToStep ceils v to a multiple of step. Used for sell limit prices.
func RoundUpToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Ceil(v/step-1e-9) * step
}

// IsMultipleOf reports whether v is an exact multiple of step within
// floating-point tolerance.
func IsMultipleOf(v, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := v / step
	return math.Abs(ratio-math.Round(ratio)) < 1e-6
}

func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
