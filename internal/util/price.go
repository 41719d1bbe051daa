// Package util provides common utility functions for price calculations.
package util

import "github.com/shopspring/decimal"

var (
	pennyTick  = decimal.RequireFromString("0.01")
	nickelTick = decimal.RequireFromString("0.05")
	three      = decimal.NewFromInt(3)
)

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.235 becomes 1.24.
func RoundToTick(x, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return x
	}
	return x.Div(tick).Round(0).Mul(tick)
}

// FloorToTick rounds x down to a tick multiple.
func FloorToTick(x, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return x
	}
	return x.Div(tick).Floor().Mul(tick)
}

// CeilToTick rounds x up to a tick multiple.
func CeilToTick(x, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return x
	}
	return x.Div(tick).Ceil().Mul(tick)
}

// OptionTickSize returns the standard listed-option increment for a premium:
// pennies below $3, nickels at or above. Penny-pilot symbols pass pennyPilot.
func OptionTickSize(premium decimal.Decimal, pennyPilot bool) decimal.Decimal {
	if pennyPilot || premium.Abs().LessThan(three) {
		return pennyTick
	}
	return nickelTick
}
