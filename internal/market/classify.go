package market

import "math"

// TrendStrength buckets ADX.
type TrendStrength string

// Trend strengths.
const (
	TrendStrong   TrendStrength = "strong"
	TrendModerate TrendStrength = "moderate"
	TrendWeak     TrendStrength = "weak"
)

// Regime is the coarse market state.
type Regime string

// Regimes, in classification priority order.
const (
	RegimeCrisis  Regime = "CRISIS"
	RegimeHighVol Regime = "HIGH_VOL"
	RegimeRange   Regime = "RANGE"
	RegimeBull    Regime = "BULL"
	RegimeBear    Regime = "BEAR"
	RegimeNone    Regime = "NONE"
)

// Momentum describes whether a strong trend is likely to persist.
type Momentum string

// Momentum states.
const (
	MomentumContinuation Momentum = "CONTINUATION"
	MomentumExhaustion   Momentum = "EXHAUSTION"
	MomentumUnclear      Momentum = "UNCLEAR"
)

// Classification thresholds.
const (
	CrisisStress     = 80.0
	HighVolIVRank    = 75.0
	StrongADX        = 30.0
	ModerateADX      = 20.0
	ExtremeThreshold = 3
	smaDeviation     = 0.05
)

// HVIVRatio is historical over implied volatility, 1.0 when either is unusable.
func HVIVRatio(hv, iv float64) float64 {
	if hv <= 0 || iv <= 0 {
		return 1.0
	}
	return hv / iv
}

// ClassifyTrendStrength buckets ADX: >30 strong, >20 moderate, else weak.
// A missing ADX is weak.
func ClassifyTrendStrength(adx *float64) TrendStrength {
	if adx == nil {
		return TrendWeak
	}
	switch {
	case *adx > StrongADX:
		return TrendStrong
	case *adx > ModerateADX:
		return TrendModerate
	default:
		return TrendWeak
	}
}

// ClassifyRegime returns the first matching regime and its confidence.
func ClassifyRegime(c Conditions, trend TrendStrength) (Regime, float64) {
	switch {
	case c.MarketStress >= CrisisStress:
		return RegimeCrisis, math.Min(c.MarketStress, 100)
	case c.IVRank >= HighVolIVRank:
		return RegimeHighVol, math.Min(c.IVRank, 100)
	case c.IsRangeBound:
		return RegimeRange, math.Min(50+10*float64(c.RangeBoundDays), 100)
	case trend == TrendStrong && c.MACDSignal.IsBullish():
		return RegimeBull, trendConfidence(c.ADX)
	case trend == TrendStrong && c.MACDSignal.IsBearish():
		return RegimeBear, trendConfidence(c.ADX)
	}
	return RegimeNone, 0
}

func trendConfidence(adx *float64) float64 {
	conf := 60.0
	if adx != nil && *adx > 30 {
		conf += 20
	}
	return math.Min(conf, 100)
}

// CountExtremes counts independent overbought and oversold warnings.
func CountExtremes(c Conditions) (overbought, oversold int) {
	if c.RSI > 70 {
		overbought++
	}
	if c.RSI > 80 {
		overbought++
	}
	if c.BollingerPosition == BollingerAboveUpper {
		overbought++
	}
	if c.RSI < 30 {
		oversold++
	}
	if c.RSI < 20 {
		oversold++
	}
	if c.BollingerPosition == BollingerBelowLower {
		oversold++
	}
	if c.SMA20 > 0 {
		if c.CurrentPrice > c.SMA20*(1+smaDeviation) {
			overbought++
		}
		if c.CurrentPrice < c.SMA20*(1-smaDeviation) {
			oversold++
		}
	}
	return overbought, oversold
}

// ClassifyMomentum separates exhausted trends from continuing ones.
func ClassifyMomentum(trend TrendStrength, isOverbought, isOversold bool, obCount, osCount int, adx *float64) (Momentum, float64) {
	if (isOverbought || isOversold) && trend == TrendStrong {
		n := obCount
		if osCount > n {
			n = osCount
		}
		if n > 5 {
			n = 5
		}
		return MomentumExhaustion, math.Min(50+10*float64(n), 100)
	}
	if trend == TrendStrong {
		conf := 60.0
		if adx != nil && *adx > 40 {
			conf += 20
		}
		return MomentumContinuation, math.Min(conf, 100)
	}
	return MomentumUnclear, 0
}
