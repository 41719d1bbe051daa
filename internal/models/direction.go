package models

import (
	"fmt"
	"strings"
)

// Direction is the market view a strategy expresses.
type Direction string

const (
	// DirectionBullish profits from a rising underlying
	DirectionBullish Direction = "BULLISH"
	// DirectionBearish profits from a falling underlying
	DirectionBearish Direction = "BEARISH"
	// DirectionNeutral profits from a quiet or volatile underlying regardless of sign
	DirectionNeutral Direction = "NEUTRAL"
)

// ParseDirection accepts bullish/bearish/neutral in any case.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DirectionBullish, DirectionBearish, DirectionNeutral:
		return d, nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Direction returns the market view of a strategy identity.
func (t StrategyType) Direction() Direction {
	switch t {
	case BullPutSpread, BullCallSpread, CashSecuredPut, NakedPut, LongCall, CoveredCall:
		return DirectionBullish
	case BearCallSpread, BearPutSpread, NakedCall, LongPut:
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}
