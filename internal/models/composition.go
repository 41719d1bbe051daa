package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyComposition is returned when a composition has no legs
	ErrEmptyComposition = errors.New("composition must contain at least one leg")
	// ErrMixedUnderlying is returned when legs reference different underlyings
	ErrMixedUnderlying = errors.New("all legs must share the same underlying symbol")
	// ErrInvalidQuantity is returned for non-positive leg quantities
	ErrInvalidQuantity = errors.New("leg quantity must be > 0")
)

// StrategyComposition is an ordered, non-empty set of legs on one underlying.
// Legs may span several expirations (calendars).
type StrategyComposition struct {
	symbol string
	legs   []StrategyLeg
}

// NewStrategyComposition validates the legs and takes a copy of them.
func NewStrategyComposition(legs ...StrategyLeg) (*StrategyComposition, error) {
	if len(legs) == 0 {
		return nil, ErrEmptyComposition
	}
	symbol := legs[0].Contract.Symbol
	for i, leg := range legs {
		if leg.Contract.Symbol != symbol {
			return nil, fmt.Errorf("%w: leg %d is %s, expected %s", ErrMixedUnderlying, i, leg.Contract.Symbol, symbol)
		}
		if leg.Quantity <= 0 {
			return nil, fmt.Errorf("%w: leg %d has quantity %d", ErrInvalidQuantity, i, leg.Quantity)
		}
		if !leg.Side.Valid() {
			return nil, fmt.Errorf("leg %d: invalid side %q", i, leg.Side)
		}
	}
	owned := make([]StrategyLeg, len(legs))
	copy(owned, legs)
	return &StrategyComposition{symbol: symbol, legs: owned}, nil
}

// Symbol returns the shared underlying.
func (c *StrategyComposition) Symbol() string {
	return c.symbol
}

// Legs returns a copy of the legs in construction order.
func (c *StrategyComposition) Legs() []StrategyLeg {
	out := make([]StrategyLeg, len(c.legs))
	copy(out, c.legs)
	return out
}

// Len returns the number of legs.
func (c *StrategyComposition) Len() int {
	return len(c.legs)
}

// Expirations returns the distinct expirations, earliest first.
func (c *StrategyComposition) Expirations() []time.Time {
	seen := make(map[time.Time]struct{}, len(c.legs))
	var out []time.Time
	for _, leg := range c.legs {
		exp := leg.Contract.Expiration
		if _, ok := seen[exp]; ok {
			continue
		}
		seen[exp] = struct{}{}
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// SpreadWidths groups legs by option type and returns max-min strike for
// every group holding at least two legs.
func (c *StrategyComposition) SpreadWidths() map[OptionType]decimal.Decimal {
	type bounds struct {
		lo, hi decimal.Decimal
		n      int
	}
	groups := make(map[OptionType]*bounds)
	for _, leg := range c.legs {
		k := leg.Contract.Strike
		b, ok := groups[leg.Contract.Type]
		if !ok {
			groups[leg.Contract.Type] = &bounds{lo: k, hi: k, n: 1}
			continue
		}
		if k.LessThan(b.lo) {
			b.lo = k
		}
		if k.GreaterThan(b.hi) {
			b.hi = k
		}
		b.n++
	}
	widths := make(map[OptionType]decimal.Decimal)
	for t, b := range groups {
		if b.n >= 2 {
			widths[t] = b.hi.Sub(b.lo)
		}
	}
	return widths
}

// widestSpread returns the largest spread width, if any group has one.
func (c *StrategyComposition) widestSpread() (decimal.Decimal, bool) {
	var widest decimal.Decimal
	found := false
	for _, w := range c.SpreadWidths() {
		if !found || w.GreaterThan(widest) {
			widest = w
			found = true
		}
	}
	return widest, found
}

// MaxRisk returns the worst-case loss in dollars per unit for the given net
// premium (positive credit, negative debit), using the widest spread.
// Naked short positions return zero until margin-based risk is modelled.
func (c *StrategyComposition) MaxRisk(netPremium decimal.Decimal) decimal.Decimal {
	if width, ok := c.widestSpread(); ok {
		if !netPremium.IsNegative() {
			return width.Sub(netPremium).Mul(hundred)
		}
		return netPremium.Abs().Mul(hundred)
	}
	if netPremium.IsNegative() {
		return netPremium.Abs().Mul(hundred)
	}
	return decimal.Zero
}

// MaxProfit returns the best-case gain in dollars per unit.
// Naked long positions return zero; unlimited upside is not modelled.
func (c *StrategyComposition) MaxProfit(netPremium decimal.Decimal) decimal.Decimal {
	if !netPremium.IsNegative() {
		return netPremium.Mul(hundred)
	}
	if width, ok := c.widestSpread(); ok {
		return width.Sub(netPremium.Abs()).Mul(hundred)
	}
	return decimal.Zero
}

// NetPremium sums PremiumEffect over all legs using per-contract prices
// keyed by OCC symbol. Missing prices are an error.
func (c *StrategyComposition) NetPremium(prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, leg := range c.legs {
		occ := leg.Contract.OCCSymbol()
		p, ok := prices[occ]
		if !ok {
			return decimal.Zero, fmt.Errorf("no price for leg %s", occ)
		}
		total = total.Add(leg.PremiumEffect(p))
	}
	return total, nil
}

// ClosingComposition returns a new composition with every side flipped.
func (c *StrategyComposition) ClosingComposition() *StrategyComposition {
	legs := make([]StrategyLeg, len(c.legs))
	for i, leg := range c.legs {
		legs[i] = leg.Closing()
	}
	return &StrategyComposition{symbol: c.symbol, legs: legs}
}

type compositionJSON struct {
	Symbol string        `json:"symbol"`
	Legs   []StrategyLeg `json:"legs"`
}

// MarshalJSON exposes the legs for persistence.
func (c *StrategyComposition) MarshalJSON() ([]byte, error) {
	return json.Marshal(compositionJSON{Symbol: c.symbol, Legs: c.legs})
}

// UnmarshalJSON re-validates the legs on load.
func (c *StrategyComposition) UnmarshalJSON(b []byte) error {
	var raw compositionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	built, err := NewStrategyComposition(raw.Legs...)
	if err != nil {
		return err
	}
	*c = *built
	return nil
}
