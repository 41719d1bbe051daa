package util

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        string
		tick     string
		expected string
	}{
		{"basic rounding down", "1.2345", "0.01", "1.23"},
		{"tie rounds away from zero", "1.235", "0.01", "1.24"},
		{"negative tie rounds away from zero", "-1.235", "0.01", "-1.24"},
		{"negative basic rounding", "-1.2345", "0.01", "-1.23"},
		{"larger tick size", "1.27", "0.05", "1.25"},
		{"exact multiple", "1.25", "0.05", "1.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(d(tt.x), d(tt.tick))
			if !result.Equal(d(tt.expected)) {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestFloorToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        string
		tick     string
		expected string
	}{
		{"exact multiple", "1.30", "0.05", "1.30"},
		{"just below boundary", "1.2999999999999", "0.05", "1.25"},
		{"just above boundary", "1.2500000000001", "0.05", "1.25"},
		{"basic floor", "1.237", "0.01", "1.23"},
		{"negative values", "-1.237", "0.01", "-1.24"},
		{"negative exact multiple", "-1.25", "0.05", "-1.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FloorToTick(d(tt.x), d(tt.tick))
			if !result.Equal(d(tt.expected)) {
				t.Errorf("FloorToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestCeilToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        string
		tick     string
		expected string
	}{
		{"exact multiple", "1.30", "0.05", "1.30"},
		{"just above boundary", "1.2500000000001", "0.05", "1.30"},
		{"basic ceil", "1.231", "0.01", "1.24"},
		{"negative values", "-1.231", "0.01", "-1.23"},
		{"negative exact multiple", "-1.25", "0.05", "-1.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CeilToTick(d(tt.x), d(tt.tick))
			if !result.Equal(d(tt.expected)) {
				t.Errorf("CeilToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestTickRoundingEdgeCases(t *testing.T) {
	input := d("1.2345")
	for _, tick := range []decimal.Decimal{decimal.Zero, d("-0.01")} {
		if result := RoundToTick(input, tick); !result.Equal(input) {
			t.Errorf("RoundToTick(%v, %v) = %v, expected input", input, tick, result)
		}
		if result := FloorToTick(input, tick); !result.Equal(input) {
			t.Errorf("FloorToTick(%v, %v) = %v, expected input", input, tick, result)
		}
		if result := CeilToTick(input, tick); !result.Equal(input) {
			t.Errorf("CeilToTick(%v, %v) = %v, expected input", input, tick, result)
		}
	}
}

func TestOptionTickSize(t *testing.T) {
	if got := OptionTickSize(d("2.95"), false); !got.Equal(d("0.01")) {
		t.Errorf("below $3 tick = %v", got)
	}
	if got := OptionTickSize(d("-4.10"), false); !got.Equal(d("0.05")) {
		t.Errorf("debit above $3 tick = %v", got)
	}
	if got := OptionTickSize(d("12"), true); !got.Equal(d("0.01")) {
		t.Errorf("penny pilot tick = %v", got)
	}
}
