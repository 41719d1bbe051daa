package scoring

import (
	"math"

	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
)

const maxScore = 100.0

// NeutralPremiumScorer scores short-premium, direction-neutral structures:
// iron condor, iron butterfly, short strangle, short straddle.
type NeutralPremiumScorer struct {
	MinIVRank float64
	// Undefined marks naked short structures that also need calm markets.
	Undefined bool
	// Pinned marks body-at-the-money structures that need price to stay put.
	Pinned bool
}

// Score implements Scorer.
func (s NeutralPremiumScorer) Score(r *market.Report) Result {
	if res, stop := hardStop(r); stop {
		return res
	}
	c, d := r.Conditions(), r.Derived()
	sc := newScorecard(50)

	switch d.Regime {
	case market.RegimeRange:
		sc.add(25, "range-bound regime suits neutral premium")
	case market.RegimeNone:
		sc.add(10, "no dominant trend")
	case market.RegimeHighVol:
		if s.Undefined {
			sc.add(-10, "high volatility regime with unbounded risk")
		} else {
			sc.add(10, "high volatility inflates premium")
		}
	case market.RegimeCrisis:
		sc.add(-30, "crisis regime")
	default:
		sc.add(-15, "%s trend threatens one side", d.Regime)
	}

	switch {
	case c.IVRank >= s.MinIVRank:
		sc.add(math.Min((c.IVRank-s.MinIVRank)/2, 20), "IV rank %.0f above minimum %.0f", c.IVRank, s.MinIVRank)
	default:
		sc.add(-(s.MinIVRank - c.IVRank), "IV rank %.0f below minimum %.0f", c.IVRank, s.MinIVRank)
	}

	switch d.TrendStrength {
	case market.TrendStrong:
		sc.add(-20, "strong trend")
	case market.TrendModerate:
		sc.add(-5, "moderate trend")
	default:
		sc.add(10, "weak trend")
	}

	move := math.Abs(c.RecentMovePct)
	switch {
	case move > 5:
		sc.add(-15, "recent move %.1f%% is large", c.RecentMovePct)
	case move < 2:
		sc.add(5, "recent move %.1f%% is contained", c.RecentMovePct)
	}
	if s.Pinned && c.IsRangeBound {
		sc.add(math.Min(float64(c.RangeBoundDays), 10), "price pinned for %d days", c.RangeBoundDays)
	}

	if d.IsOverbought || d.IsOversold {
		sc.add(-10, "price at an extreme")
	}

	switch {
	case d.HVIVRatio < 0.8:
		sc.add(10, "implied volatility rich to realized (HV/IV %.2f)", d.HVIVRatio)
	case d.HVIVRatio > 1.2:
		sc.add(-10, "realized volatility exceeds implied (HV/IV %.2f)", d.HVIVRatio)
	}

	if s.Undefined && c.MarketStress > 40 {
		sc.add(-20, "market stress %.0f too high for undefined risk", c.MarketStress)
	}

	return sc.result(maxScore)
}

// LongVolatilityScorer scores long straddles and strangles.
type LongVolatilityScorer struct{}

// Score implements Scorer.
func (LongVolatilityScorer) Score(r *market.Report) Result {
	if res, stop := hardStop(r); stop {
		return res
	}
	c, d := r.Conditions(), r.Derived()
	sc := newScorecard(40)

	switch {
	case c.IVRank < 25:
		sc.add(20, "IV rank %.0f is cheap", c.IVRank)
	case c.IVRank < 40:
		sc.add(10, "IV rank %.0f is moderate", c.IVRank)
	case c.IVRank > 60:
		sc.add(-20, "IV rank %.0f makes premium expensive", c.IVRank)
	}

	switch {
	case d.HVIVRatio > 1.2:
		sc.add(15, "realized volatility exceeds implied (HV/IV %.2f)", d.HVIVRatio)
	case d.HVIVRatio < 0.8:
		sc.add(-10, "implied volatility rich to realized (HV/IV %.2f)", d.HVIVRatio)
	}

	if d.Regime == market.RegimeRange {
		sc.add(-15, "range-bound for %d days", c.RangeBoundDays)
	}
	if d.Momentum == market.MomentumExhaustion {
		sc.add(10, "trend exhaustion suggests a sharp reversal")
	}
	if math.Abs(c.RecentMovePct) > 3 {
		sc.add(5, "recent move %.1f%% shows movement", c.RecentMovePct)
	}
	if c.MarketStress > 60 {
		sc.add(10, "market stress %.0f favors volatility expansion", c.MarketStress)
	}

	return sc.result(maxScore)
}

// PinningScorer scores long call butterflies and calendars, which profit when
// price stays near a strike.
type PinningScorer struct {
	Calendar bool
}

// Score implements Scorer.
func (s PinningScorer) Score(r *market.Report) Result {
	if res, stop := hardStop(r); stop {
		return res
	}
	c, d := r.Conditions(), r.Derived()
	sc := newScorecard(45)

	if d.Regime == market.RegimeRange {
		sc.add(25+math.Min(float64(c.RangeBoundDays), 10), "range-bound for %d days", c.RangeBoundDays)
	}
	switch d.TrendStrength {
	case market.TrendStrong:
		sc.add(-20, "strong trend pulls price away")
	case market.TrendWeak:
		sc.add(10, "weak trend")
	}

	if s.Calendar {
		switch {
		case c.IVRank < 40:
			sc.add(10, "IV rank %.0f leaves room for expansion", c.IVRank)
		case c.IVRank > 70:
			sc.add(-10, "IV rank %.0f risks contraction in the back month", c.IVRank)
		}
	}

	if math.Abs(c.RecentMovePct) < 2 {
		sc.add(10, "recent move %.1f%% is contained", c.RecentMovePct)
	}
	if c.MarketStress > 50 {
		sc.add(-15, "market stress %.0f", c.MarketStress)
	}

	return sc.result(maxScore)
}

// IncomeScorer scores single short options and covered positions:
// covered call, cash-secured put, naked call, naked put.
type IncomeScorer struct {
	Direction models.Direction
	Undefined bool
}

// Score implements Scorer.
func (s IncomeScorer) Score(r *market.Report) Result {
	if res, stop := hardStop(r); stop {
		return res
	}
	c, d := r.Conditions(), r.Derived()
	sc := newScorecard(50)
	bullish := s.Direction == models.DirectionBullish

	switch {
	case (d.Regime == market.RegimeBull && bullish) || (d.Regime == market.RegimeBear && !bullish):
		sc.add(20, "%s regime supports the short strike", d.Regime)
	case d.Regime == market.RegimeBull || d.Regime == market.RegimeBear:
		sc.add(-25, "%s regime runs toward the short strike", d.Regime)
	case d.Regime == market.RegimeRange:
		sc.add(10, "range-bound regime")
	}

	switch {
	case c.IVRank >= 50:
		sc.add(15, "IV rank %.0f pays well", c.IVRank)
	case c.IVRank < 25:
		sc.add(-15, "IV rank %.0f pays little", c.IVRank)
	}

	if (bullish && d.IsOverbought) || (!bullish && d.IsOversold) {
		sc.add(-10, "price stretched toward a reversal")
	}
	against := (bullish && c.MACDSignal.IsBearish()) || (!bullish && c.MACDSignal.IsBullish())
	if d.TrendStrength == market.TrendStrong && against {
		sc.add(-15, "strong trend against the position")
	}

	if s.Undefined {
		switch {
		case c.MarketStress > 60:
			sc.add(-35, "market stress %.0f too high for undefined risk", c.MarketStress)
		case c.MarketStress > 40:
			sc.add(-25, "market stress %.0f elevated for undefined risk", c.MarketStress)
		}
	}

	return sc.result(maxScore)
}

// LongPremiumScorer scores long calls and long puts.
type LongPremiumScorer struct {
	Direction models.Direction
}

// Score implements Scorer.
func (s LongPremiumScorer) Score(r *market.Report) Result {
	if res, stop := hardStop(r); stop {
		return res
	}
	c, d := r.Conditions(), r.Derived()
	sc := newScorecard(40)
	bullish := s.Direction == models.DirectionBullish
	dir := "bearish"
	if bullish {
		dir = "bullish"
	}

	switch {
	case (d.Regime == market.RegimeBull && bullish) || (d.Regime == market.RegimeBear && !bullish):
		sc.add(25, "%s regime supports %s position", d.Regime, dir)
	case d.Regime == market.RegimeBull || d.Regime == market.RegimeBear:
		sc.add(-30, "%s regime opposes %s position", d.Regime, dir)
	}

	macd := 0
	switch {
	case (bullish && c.MACDSignal.IsBullish()) || (!bullish && c.MACDSignal.IsBearish()):
		macd = 1
	case c.MACDSignal.IsBullish() || c.MACDSignal.IsBearish():
		macd = -1
	}
	adxBonus(sc, d.TrendStrength, c.ADX, macd, dir)

	switch {
	case c.IVRank < 30:
		sc.add(15, "IV rank %.0f keeps premium cheap", c.IVRank)
	case c.IVRank > 60:
		sc.add(-20, "IV rank %.0f makes premium expensive", c.IVRank)
	}

	if d.Momentum == market.MomentumExhaustion {
		sc.add(-15, "trend exhaustion")
	}
	if (bullish && c.RSI > 70) || (!bullish && c.RSI < 30) {
		sc.add(-10, "RSI %.0f already stretched", c.RSI)
	}

	return sc.result(NoCeiling)
}
