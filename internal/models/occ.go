package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// occDateLayout is the YYMMDD expiration segment of an OCC symbol.
const occDateLayout = "060102"

var strikeScale = decimal.NewFromInt(1000)

// FormatOCCSymbol renders UNDERLYING + YYMMDD + C/P + 8-digit strike×1000,
// e.g. SPY241220P00450000.
func FormatOCCSymbol(underlying string, expiration time.Time, optType OptionType, strike decimal.Decimal) string {
	typeChar := "C"
	if optType == OptionTypePut {
		typeChar = "P"
	}
	milli := strike.Mul(strikeScale).Round(0).IntPart()
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), expiration.Format(occDateLayout), typeChar, milli)
}

// ParseOCCSymbol parses a standardized option symbol back into a contract.
func ParseOCCSymbol(s string) (OptionContract, error) {
	trimmed := strings.TrimSpace(s)
	i := occPatternStart(trimmed)
	if i <= 0 {
		return OptionContract{}, fmt.Errorf("invalid OCC symbol %q", s)
	}
	exp, err := time.Parse(occDateLayout, trimmed[i:i+6])
	if err != nil {
		return OptionContract{}, fmt.Errorf("invalid OCC expiration in %q: %w", s, err)
	}
	optType, err := ParseOptionType(trimmed[i+6 : i+7])
	if err != nil {
		return OptionContract{}, err
	}
	milli, err := decimal.NewFromString(trimmed[i+7:])
	if err != nil {
		return OptionContract{}, fmt.Errorf("invalid OCC strike in %q: %w", s, err)
	}
	return NewOptionContract(trimmed[:i], optType, milli.Div(strikeScale), exp)
}

// UnderlyingFromOCC extracts the underlying from an OCC-formatted symbol,
// or "" when the symbol does not end in the YYMMDD + C/P + 8 digit pattern.
func UnderlyingFromOCC(s string) string {
	trimmed := strings.TrimSpace(s)
	i := occPatternStart(trimmed)
	if i <= 0 {
		return ""
	}
	return strings.TrimSpace(trimmed[:i])
}

// occPatternStart returns the index where the expiration segment starts,
// or -1. The pattern must run to the end of the string.
func occPatternStart(s string) int {
	// YYMMDD + P/C + 8 digits
	if len(s) < 16 {
		return -1
	}
	for i := 0; i <= len(s)-15; i++ {
		if !isDigits(s[i:i+6], 6) {
			continue
		}
		if i > 0 && isDigit(s[i-1]) {
			continue
		}
		typeChar := s[i+6]
		if typeChar != 'P' && typeChar != 'C' && typeChar != 'p' && typeChar != 'c' {
			continue
		}
		strikeStart := i + 7
		if !isDigits(s[strikeStart:strikeStart+8], 8) {
			continue
		}
		if strikeStart+8 != len(s) {
			continue
		}
		return i
	}
	return -1
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
