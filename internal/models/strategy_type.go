package models

import "fmt"

// StrategyType identifies one multi-leg options strategy.
// The set is closed: every value below has a scorer and a risk profile.
type StrategyType int

// Strategy identities. Keep NumStrategyTypes last.
const (
	BullPutSpread StrategyType = iota
	BearCallSpread
	BullCallSpread
	BearPutSpread
	IronCondor
	IronButterfly
	LongCallButterfly
	ShortStrangle
	ShortStraddle
	LongStrangle
	LongStraddle
	CoveredCall
	CashSecuredPut
	NakedCall
	NakedPut
	LongCall
	LongPut
	CalendarSpread

	NumStrategyTypes
)

var strategyTypeNames = [NumStrategyTypes]string{
	BullPutSpread:     "bull_put_spread",
	BearCallSpread:    "bear_call_spread",
	BullCallSpread:    "bull_call_spread",
	BearPutSpread:     "bear_put_spread",
	IronCondor:        "iron_condor",
	IronButterfly:     "iron_butterfly",
	LongCallButterfly: "long_call_butterfly",
	ShortStrangle:     "short_strangle",
	ShortStraddle:     "short_straddle",
	LongStrangle:      "long_strangle",
	LongStraddle:      "long_straddle",
	CoveredCall:       "covered_call",
	CashSecuredPut:    "cash_secured_put",
	NakedCall:         "naked_call",
	NakedPut:          "naked_put",
	LongCall:          "long_call",
	LongPut:           "long_put",
	CalendarSpread:    "calendar_spread",
}

// AllStrategyTypes returns every strategy identity in enum order.
func AllStrategyTypes() []StrategyType {
	out := make([]StrategyType, 0, NumStrategyTypes)
	for t := StrategyType(0); t < NumStrategyTypes; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is one of the defined identities.
func (t StrategyType) Valid() bool {
	return t >= 0 && t < NumStrategyTypes
}

func (t StrategyType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("StrategyType(%d)", int(t))
	}
	return strategyTypeNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t StrategyType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown strategy type %d", int(t))
	}
	return []byte(strategyTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *StrategyType) UnmarshalText(b []byte) error {
	parsed, err := ParseStrategyType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseStrategyType maps a serialized name back to its identity.
func ParseStrategyType(name string) (StrategyType, error) {
	for i, n := range strategyTypeNames {
		if n == name {
			return StrategyType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown strategy type %q", name)
}

// IsVertical reports whether t is a two-leg same-expiration vertical spread.
func (t StrategyType) IsVertical() bool {
	switch t {
	case BullPutSpread, BearCallSpread, BullCallSpread, BearPutSpread:
		return true
	default:
		return false
	}
}
