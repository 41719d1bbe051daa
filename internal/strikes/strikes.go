// Package strikes maps target criteria onto strikes that are actually listed,
// rejecting matches that stray too far from the theoretical ideal.
package strikes

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strategist/internal/models"
)

// Deviation gates, as fractions of the ideal strike.
var (
	StrictDeviation  = decimal.RequireFromString("0.05")
	RelaxedDeviation = decimal.RequireFromString("0.15")
	LongDeviation    = decimal.RequireFromString("0.10")
)

// DefaultLevelBuffer keeps the ideal short strike 2% clear of support or resistance.
var DefaultLevelBuffer = decimal.RequireFromString("0.02")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Request describes a vertical spread strike search.
type Request struct {
	Strikes      []decimal.Decimal
	Price        decimal.Decimal
	Width        decimal.Decimal
	Kind         models.OptionType // PUT for put-side spreads, CALL for call-side
	TargetOTMPct decimal.Decimal   // fraction, 0.03 = 3%
	Support      *decimal.Decimal
	Resistance   *decimal.Decimal
	LevelBuffer  *decimal.Decimal // nil uses DefaultLevelBuffer
	Relaxed      bool
}

// Match is an accepted strike pair. Deviations are fractions of the ideal
// (price-targeted) or absolute delta distance (delta-targeted).
type Match struct {
	Short         decimal.Decimal `json:"short"`
	Long          decimal.Decimal `json:"long"`
	ShortIdeal    decimal.Decimal `json:"short_ideal"`
	LongIdeal     decimal.Decimal `json:"long_ideal"`
	Deviation     float64         `json:"deviation"`
	LongDeviation float64         `json:"long_deviation"`
	Quality       float64         `json:"quality"`
	ShortDelta    *float64        `json:"short_delta,omitempty"`
	DeltaTargeted bool            `json:"delta_targeted"`
}

// Width returns the absolute distance between the two strikes.
func (m Match) Width() decimal.Decimal {
	return m.Short.Sub(m.Long).Abs()
}

// Selection converts the match to its persisted form.
func (m Match) Selection() models.StrikeSelection {
	return models.StrikeSelection{
		ShortStrike: m.Short,
		LongStrike:  m.Long,
		ShortIdeal:  m.ShortIdeal,
		LongIdeal:   m.LongIdeal,
		Deviation:   m.Deviation,
		Quality:     m.Quality,
	}
}

// FindSpreadStrikes returns the short/long pair for a vertical spread, or
// false when any quality gate rejects the chain.
func FindSpreadStrikes(req Request) (Match, bool) {
	m, reason := findSpread(req)
	return m, reason == ""
}

// ShortGate returns the short-strike deviation gate for the mode.
func ShortGate(relaxed bool) decimal.Decimal {
	if relaxed {
		return RelaxedDeviation
	}
	return StrictDeviation
}

// IdealShortStrike is price moved target OTM% away from the money, kept at
// least buffer clear of support (puts) or resistance (calls).
func IdealShortStrike(price, otmPct decimal.Decimal, kind models.OptionType, support, resistance *decimal.Decimal, buffer decimal.Decimal) decimal.Decimal {
	if kind == models.OptionTypePut {
		ideal := price.Mul(one.Sub(otmPct))
		if support != nil && support.IsPositive() {
			ideal = decimal.Max(ideal, support.Mul(one.Add(buffer)))
		}
		return ideal
	}
	ideal := price.Mul(one.Add(otmPct))
	if resistance != nil && resistance.IsPositive() {
		ideal = decimal.Min(ideal, resistance.Mul(one.Sub(buffer)))
	}
	return ideal
}

// Nearest returns the strike closest to ideal. Equidistant strikes resolve
// toward the money, then to the lower strike.
func Nearest(strikes []decimal.Decimal, ideal, price decimal.Decimal) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, k := range strikes {
		if !found {
			best, found = k, true
			continue
		}
		d, bd := k.Sub(ideal).Abs(), best.Sub(ideal).Abs()
		switch d.Cmp(bd) {
		case -1:
			best = k
		case 0:
			m, bm := k.Sub(price).Abs(), best.Sub(price).Abs()
			if m.LessThan(bm) || (m.Equal(bm) && k.LessThan(best)) {
				best = k
			}
		}
	}
	return best, found
}

// Deviation is |chosen-ideal|/ideal.
func Deviation(chosen, ideal decimal.Decimal) decimal.Decimal {
	if ideal.IsZero() {
		return decimal.Zero
	}
	return chosen.Sub(ideal).Abs().Div(ideal)
}

// FindStrike returns the listed strike nearest ideal if it passes the gate.
func FindStrike(strikes []decimal.Decimal, ideal, price, gate decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
	k, ok := Nearest(strikes, ideal, price)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	dev := Deviation(k, ideal)
	if dev.GreaterThan(gate) {
		return decimal.Zero, dev, false
	}
	return k, dev, true
}

// FindATMStrike returns the listed strike nearest the price.
func FindATMStrike(strikes []decimal.Decimal, price decimal.Decimal) (decimal.Decimal, bool) {
	return Nearest(strikes, price, price)
}

func findSpread(req Request) (Match, string) {
	if reason := validateRequest(req); reason != "" {
		return Match{}, reason
	}
	if req.TargetOTMPct.IsNegative() || req.TargetOTMPct.GreaterThanOrEqual(one) {
		return Match{}, fmt.Sprintf("target otm %s outside [0,1)", req.TargetOTMPct)
	}

	buffer := DefaultLevelBuffer
	if req.LevelBuffer != nil {
		buffer = *req.LevelBuffer
	}
	ideal := IdealShortStrike(req.Price, req.TargetOTMPct, req.Kind, req.Support, req.Resistance, buffer)
	if throughTheMoney(ideal, req.Price, req.Kind) {
		return Match{}, fmt.Sprintf("level buffer moves ideal short %s through the money (price %s)", ideal.StringFixed(2), req.Price.StringFixed(2))
	}
	short, dev, ok := FindStrike(req.Strikes, ideal, req.Price, ShortGate(req.Relaxed))
	if !ok {
		return Match{}, fmt.Sprintf("short strike deviation %s exceeds gate (ideal %s)", dev.StringFixed(4), ideal.StringFixed(2))
	}
	m := Match{Short: short, ShortIdeal: ideal, Deviation: dev.InexactFloat64()}
	if reason := pairLong(&m, req.Strikes, req.Width, req.Kind, req.Price); reason != "" {
		return Match{}, reason
	}
	m.Quality = quality(dev, ShortGate(req.Relaxed), decimal.NewFromFloat(m.LongDeviation), LongDeviation)
	return m, ""
}

// throughTheMoney reports an ideal short strike on the in-the-money side of
// price: above it for puts, below it for calls.
func throughTheMoney(ideal, price decimal.Decimal, kind models.OptionType) bool {
	if kind == models.OptionTypePut {
		return ideal.GreaterThan(price)
	}
	return ideal.LessThan(price)
}

func validateRequest(req Request) string {
	switch {
	case len(req.Strikes) == 0:
		return "no strikes available"
	case !req.Price.IsPositive():
		return "price must be positive"
	case !req.Width.IsPositive():
		return "width must be positive"
	case !req.Kind.Valid():
		return fmt.Sprintf("invalid spread kind %q", req.Kind)
	}
	return ""
}

// pairLong finds the long strike exactly width further from the money,
// falling back to the nearest strike under the looser long gate.
func pairLong(m *Match, strikes []decimal.Decimal, width decimal.Decimal, kind models.OptionType, price decimal.Decimal) string {
	longIdeal := m.Short.Sub(width)
	if kind == models.OptionTypeCall {
		longIdeal = m.Short.Add(width)
	}
	m.LongIdeal = longIdeal
	if !longIdeal.IsPositive() {
		return fmt.Sprintf("long ideal %s is not a valid strike", longIdeal)
	}

	long, longDev, ok := decimal.Zero, decimal.Zero, false
	for _, k := range strikes {
		if k.Equal(longIdeal) {
			long, ok = k, true
			break
		}
	}
	if !ok {
		long, longDev, ok = FindStrike(strikes, longIdeal, price, LongDeviation)
		if !ok {
			return fmt.Sprintf("long strike deviation %s exceeds gate (ideal %s)", longDev.StringFixed(4), longIdeal.StringFixed(2))
		}
	}

	if kind == models.OptionTypePut && !long.LessThan(m.Short) {
		return fmt.Sprintf("put spread long %s not below short %s", long, m.Short)
	}
	if kind == models.OptionTypeCall && !long.GreaterThan(m.Short) {
		return fmt.Sprintf("call spread long %s not above short %s", long, m.Short)
	}
	m.Long = long
	m.LongDeviation = longDev.InexactFloat64()
	return ""
}

// quality maps deviations against their gates to 0..100, short leg weighted 70%.
func quality(shortDev, shortGate, longDev, longGate decimal.Decimal) float64 {
	penalty := shortDev.Div(shortGate).Mul(decimal.NewFromInt(70)).
		Add(longDev.Div(longGate).Mul(decimal.NewFromInt(30)))
	q := hundred.Sub(penalty)
	if q.IsNegative() {
		return 0
	}
	if q.GreaterThan(hundred) {
		return 100
	}
	return q.Round(2).InexactFloat64()
}

// SortedUnique returns the strikes ascending without duplicates.
func SortedUnique(strikes []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(strikes))
	copy(out, strikes)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	n := 0
	for i, k := range out {
		if i > 0 && k.Equal(out[n-1]) {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
