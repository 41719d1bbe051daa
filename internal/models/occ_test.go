package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatOCCSymbol(t *testing.T) {
	exp := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		typ    OptionType
		strike string
		want   string
	}{
		{OptionTypePut, "450", "SPY241220P00450000"},
		{OptionTypeCall, "452.5", "SPY241220C00452500"},
		{OptionTypePut, "7.25", "SPY241220P00007250"},
	}
	for _, tc := range cases {
		got := FormatOCCSymbol("spy", exp, tc.typ, decimal.RequireFromString(tc.strike))
		if got != tc.want {
			t.Errorf("FormatOCCSymbol(%s %s) = %q, want %q", tc.typ, tc.strike, got, tc.want)
		}
	}
}

func TestParseOCCSymbol(t *testing.T) {
	c, err := ParseOCCSymbol("BRK.B250101P00150500")
	if err != nil {
		t.Fatalf("ParseOCCSymbol error: %v", err)
	}
	if c.Symbol != "BRK.B" || c.Type != OptionTypePut || !c.Strike.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("unexpected contract %+v", c)
	}
	if c.Expiration.Format("2006-01-02") != "2025-01-01" {
		t.Fatalf("expiration = %s", c.Expiration)
	}
	if c.OCCSymbol() != "BRK.B250101P00150500" {
		t.Fatalf("round trip = %s", c.OCCSymbol())
	}

	for _, bad := range []string{"", "SPY", "SPY250101X00150000", "SPY251301P00150000", "250101P00150000"} {
		if _, err := ParseOCCSymbol(bad); err == nil {
			t.Errorf("ParseOCCSymbol(%q) expected error", bad)
		}
	}
}

func TestUnderlyingFromOCC_BasicAndEdgeCases(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"AAPL250101P00150000", "AAPL"},
		{"SPY240920C00450000", "SPY"},
		{" TSLA250228P00090000", "TSLA"},
		{"XYZ250101X00150000", ""},
		{"AAPL250101P001500000", ""},
		{"AAPL25010P00150000", ""},
		{"AAPL", ""},
		{"BRK.B240920C00450000", "BRK.B"},
		{"A2B250101P00150000", "A2B"},
		{"123456P00123456", ""},
		{"A250101P00150000", "A"},
		{"SPY250101P00150000EXTRA", ""},
		{"SPY250101P0015000A", ""},
		{"SPY250101P00150000 ", "SPY"},
		{"spy250101p00150000", "spy"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := UnderlyingFromOCC(tc.in); got != tc.want {
				t.Fatalf("UnderlyingFromOCC(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
