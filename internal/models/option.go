package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SharesPerContract is the standard equity option multiplier.
const SharesPerContract = 100

var hundred = decimal.NewFromInt(100)

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "CALL"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "PUT"
)

// Valid returns true if the OptionType is one of the defined constants
func (o OptionType) Valid() bool {
	return o == OptionTypeCall || o == OptionTypePut
}

// ParseOptionType accepts CALL/PUT in any case, plus the broker's "call"/"put".
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return OptionTypeCall, nil
	case "PUT", "P":
		return OptionTypePut, nil
	}
	return "", fmt.Errorf("invalid option type %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OptionType) UnmarshalText(b []byte) error {
	v, err := ParseOptionType(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Side is the direction of a leg. SHORT receives premium, LONG pays it.
type Side string

const (
	// SideLong is a bought leg
	SideLong Side = "LONG"
	// SideShort is a sold leg
	SideShort Side = "SHORT"
)

// Valid returns true if the Side is one of the defined constants
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite flips LONG and SHORT.
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	switch Side(strings.ToUpper(string(b))) {
	case SideLong:
		*s = SideLong
	case SideShort:
		*s = SideShort
	default:
		return fmt.Errorf("invalid side %q", string(b))
	}
	return nil
}

// OptionContract is an immutable description of one listed option.
type OptionContract struct {
	Symbol     string          `json:"symbol"`
	Type       OptionType      `json:"type"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration time.Time       `json:"expiration"`
}

// NewOptionContract validates and builds a contract.
func NewOptionContract(symbol string, optType OptionType, strike decimal.Decimal, expiration time.Time) (OptionContract, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return OptionContract{}, fmt.Errorf("option contract: symbol is required")
	}
	if !optType.Valid() {
		return OptionContract{}, fmt.Errorf("option contract: invalid option type %q", optType)
	}
	if !strike.IsPositive() {
		return OptionContract{}, fmt.Errorf("option contract: strike must be > 0 (got %s)", strike)
	}
	if expiration.IsZero() {
		return OptionContract{}, fmt.Errorf("option contract: expiration is required")
	}
	return OptionContract{
		Symbol:     symbol,
		Type:       optType,
		Strike:     strike,
		Expiration: expiration,
	}, nil
}

// IntrinsicValue returns the exercise value per share at the given spot.
func (c OptionContract) IntrinsicValue(spot decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	if c.Type == OptionTypeCall {
		v = spot.Sub(c.Strike)
	} else {
		v = c.Strike.Sub(spot)
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// IsITM reports whether the contract has positive intrinsic value.
func (c OptionContract) IsITM(spot decimal.Decimal) bool {
	return c.IntrinsicValue(spot).IsPositive()
}

// IsOTM reports whether the contract is strictly out of the money.
// At-the-money contracts are neither ITM nor OTM.
func (c OptionContract) IsOTM(spot decimal.Decimal) bool {
	if c.Type == OptionTypeCall {
		return c.Strike.GreaterThan(spot)
	}
	return c.Strike.LessThan(spot)
}

// Moneyness returns spot/strike for calls and strike/spot for puts,
// so values above 1 are always in the money.
func (c OptionContract) Moneyness(spot decimal.Decimal) decimal.Decimal {
	if spot.IsZero() || c.Strike.IsZero() {
		return decimal.Zero
	}
	if c.Type == OptionTypeCall {
		return spot.Div(c.Strike)
	}
	return c.Strike.Div(spot)
}

// OTMPercent is the distance out of the money as a percentage of spot.
// Zero when the contract is at or in the money.
func (c OptionContract) OTMPercent(spot decimal.Decimal) decimal.Decimal {
	if !c.IsOTM(spot) || spot.IsZero() {
		return decimal.Zero
	}
	return c.Strike.Sub(spot).Abs().Div(spot).Mul(hundred)
}

// OCCSymbol returns the standardized option symbol for the contract.
func (c OptionContract) OCCSymbol() string {
	return FormatOCCSymbol(c.Symbol, c.Expiration, c.Type, c.Strike)
}

func (c OptionContract) String() string {
	return fmt.Sprintf("%s %s %s %s", c.Symbol, c.Expiration.Format("2006-01-02"), c.Strike.String(), c.Type)
}

// StrategyLeg is one contract held long or short in a strategy.
type StrategyLeg struct {
	Contract OptionContract `json:"contract"`
	Side     Side           `json:"side"`
	Quantity int            `json:"quantity"`
}

// NewStrategyLeg validates side and quantity.
func NewStrategyLeg(contract OptionContract, side Side, quantity int) (StrategyLeg, error) {
	if !side.Valid() {
		return StrategyLeg{}, fmt.Errorf("strategy leg: invalid side %q", side)
	}
	if quantity <= 0 {
		return StrategyLeg{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	return StrategyLeg{Contract: contract, Side: side, Quantity: quantity}, nil
}

// PremiumEffect is the signed cash flow for opening this leg:
// short legs receive premium (+), long legs pay it (-).
func (l StrategyLeg) PremiumEffect(premiumPerContract decimal.Decimal) decimal.Decimal {
	v := premiumPerContract.Mul(decimal.NewFromInt(int64(l.Quantity)))
	if l.Side == SideShort {
		return v
	}
	return v.Neg()
}

// Closing returns the same leg with the side flipped.
func (l StrategyLeg) Closing() StrategyLeg {
	l.Side = l.Side.Opposite()
	return l
}
