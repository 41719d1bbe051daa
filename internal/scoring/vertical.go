package scoring

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
)

// PremiumKind says whether a spread is opened for a credit or a debit.
type PremiumKind int

// Premium kinds.
const (
	Credit PremiumKind = iota
	Debit
)

func (k PremiumKind) String() string {
	if k == Debit {
		return "debit"
	}
	return "credit"
}

// VerticalCapabilities parameterises the vertical scorer.
type VerticalCapabilities struct {
	Direction models.Direction
	Premium   PremiumKind
	// MinIVRank is the IV rank a credit spread wants to sell into.
	MinIVRank float64
	// MaxIVRank is the IV rank above which a debit spread is overpaying.
	MaxIVRank float64
}

// VerticalScorer scores the four vertical spreads.
type VerticalScorer struct {
	caps VerticalCapabilities
}

// NewVerticalScorer builds a scorer for one direction and premium kind.
func NewVerticalScorer(caps VerticalCapabilities) (*VerticalScorer, error) {
	if caps.Direction != models.DirectionBullish && caps.Direction != models.DirectionBearish {
		return nil, fmt.Errorf("vertical scorer: direction must be bullish or bearish (got %q)", caps.Direction)
	}
	if caps.MinIVRank < 0 || caps.MinIVRank > 100 || caps.MaxIVRank < 0 || caps.MaxIVRank > 100 {
		return nil, fmt.Errorf("vertical scorer: iv rank thresholds must be within [0,100]")
	}
	return &VerticalScorer{caps: caps}, nil
}

// Capabilities returns the scorer's parameters.
func (v *VerticalScorer) Capabilities() VerticalCapabilities {
	return v.caps
}

// Score implements Scorer.
func (v *VerticalScorer) Score(r *market.Report) Result {
	if res, stop := hardStop(r); stop {
		return res
	}
	if v.caps.Premium == Debit {
		return v.scoreDebit(r)
	}
	return v.scoreCredit(r)
}

func (v *VerticalScorer) bullish() bool {
	return v.caps.Direction == models.DirectionBullish
}

func (v *VerticalScorer) dirName() string {
	if v.bullish() {
		return "bullish"
	}
	return "bearish"
}

// regimeAlignment returns +1 when the regime matches the spread, -1 when it opposes.
func (v *VerticalScorer) regimeAlignment(reg market.Regime) int {
	switch {
	case reg == market.RegimeBull && v.bullish(), reg == market.RegimeBear && !v.bullish():
		return 1
	case reg == market.RegimeBull, reg == market.RegimeBear:
		return -1
	}
	return 0
}

// macdAlignment returns +1 when MACD confirms the direction, -1 when it contradicts.
func (v *VerticalScorer) macdAlignment(sig market.MACDSignal) int {
	switch {
	case sig.IsBullish() && v.bullish(), sig.IsBearish() && !v.bullish():
		return 1
	case sig.IsBullish(), sig.IsBearish():
		return -1
	}
	return 0
}

func (v *VerticalScorer) scoreCredit(r *market.Report) Result {
	c, d := r.Conditions(), r.Derived()
	sc := newScorecard(50)
	dir := v.dirName()

	switch v.regimeAlignment(d.Regime) {
	case 1:
		sc.add(30, "%s regime supports %s credit spread", d.Regime, dir)
	case -1:
		sc.add(-30, "%s regime opposes %s credit spread", d.Regime, dir)
	default:
		switch d.Regime {
		case market.RegimeRange, market.RegimeNone:
			sc.add(15, "neutral market favors premium selling")
		default:
			sc.add(0, "%s regime is neither supportive nor opposing", d.Regime)
		}
	}

	minIV := v.caps.MinIVRank
	switch {
	case c.IVRank >= 70:
		sc.add(20, "IV rank %.0f is rich for selling", c.IVRank)
	case c.IVRank >= minIV:
		sc.add((c.IVRank-minIV)/2, "IV rank %.0f above minimum %.0f", c.IVRank, minIV)
	default:
		sc.add(-(minIV-c.IVRank)*2, "IV rank %.0f below minimum %.0f", c.IVRank, minIV)
	}

	switch v.macdAlignment(c.MACDSignal) {
	case 1:
		sc.add(10, "MACD %s confirms direction", c.MACDSignal)
	case -1:
		sc.add(-10, "MACD %s contradicts direction", c.MACDSignal)
	default:
		sc.add(0, "MACD %s is inconclusive", c.MACDSignal)
	}

	if c.IsRangeBound {
		sc.add(10, "range-bound for %d days", c.RangeBoundDays)
	}

	switch {
	case c.RSI > 70:
		if v.bullish() {
			sc.add(-15, "RSI %.0f overbought, pullback risk", c.RSI)
		} else {
			sc.add(5, "RSI %.0f overbought favors bearish side", c.RSI)
		}
	case c.RSI < 30:
		if v.bullish() {
			sc.add(5, "RSI %.0f oversold favors bullish side", c.RSI)
		} else {
			sc.add(-15, "RSI %.0f oversold, bounce risk", c.RSI)
		}
	}

	switch {
	case c.MarketStress > 60:
		sc.add(-20, "market stress %.0f is high", c.MarketStress)
	case c.MarketStress > 40:
		sc.add(-10, "market stress %.0f is elevated", c.MarketStress)
	case c.MarketStress < 20:
		sc.add(10, "market stress %.0f is calm", c.MarketStress)
	}

	return sc.result(NoCeiling)
}

func (v *VerticalScorer) scoreDebit(r *market.Report) Result {
	c, d := r.Conditions(), r.Derived()
	sc := newScorecard(50)
	dir := v.dirName()

	switch v.regimeAlignment(d.Regime) {
	case 1:
		sc.add(25, "%s regime supports %s debit spread", d.Regime, dir)
	case -1:
		sc.add(-25, "%s regime opposes %s debit spread", d.Regime, dir)
	default:
		if d.Regime == market.RegimeRange {
			sc.add(-10, "range-bound market limits directional payoff")
		}
	}

	macd := v.macdAlignment(c.MACDSignal)
	adxBonus(sc, d.TrendStrength, c.ADX, macd, dir)

	switch macd {
	case 1:
		sc.add(10, "MACD %s confirms direction", c.MACDSignal)
	case -1:
		sc.add(-10, "MACD %s contradicts direction", c.MACDSignal)
	}
	if (c.MACDSignal == market.MACDBullishExhausted && v.bullish()) ||
		(c.MACDSignal == market.MACDBearishExhausted && !v.bullish()) {
		sc.add(-15, "%s momentum exhausting", dir)
	}

	maxIV := v.caps.MaxIVRank
	if c.IVRank <= maxIV {
		sc.add(math.Min((maxIV-c.IVRank)/2, 15), "IV rank %.0f keeps premium affordable", c.IVRank)
	} else {
		sc.add(-math.Min(c.IVRank-maxIV, 25), "IV rank %.0f makes premium expensive", c.IVRank)
	}

	if (v.bullish() && c.RSI > 70) || (!v.bullish() && c.RSI < 30) {
		sc.add(-10, "RSI %.0f already stretched in trade direction", c.RSI)
	}

	if c.MarketStress > 60 {
		sc.add(-15, "market stress %.0f is high", c.MarketStress)
	}

	return sc.result(NoCeiling)
}

// adxBonus rewards trend strength only when MACD points the same way as the trade.
func adxBonus(sc *scorecard, trend market.TrendStrength, adx *float64, macd int, dir string) {
	if adx == nil || trend == market.TrendWeak {
		return
	}
	if macd != 1 {
		sc.add(0, "%s trend (ADX %.0f) does not point %s, no trend bonus", trend, *adx, dir)
		return
	}
	if trend == market.TrendStrong {
		sc.add(20, "excellent momentum: strong trend (ADX %.0f) in correct direction", *adx)
		return
	}
	sc.add(12, "moderate trend (ADX %.0f) in correct direction", *adx)
}
