// Package market classifies raw quotes and indicators into the regime,
// extreme and momentum context every strategy scorer consumes.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eddiefleurent/strategist/internal/models"
)

// ErrInvalidConditions is returned by NewReport for out-of-range raw fields.
var ErrInvalidConditions = errors.New("invalid market conditions")

// MACDSignal is the categorical MACD reading.
type MACDSignal string

// MACD categories.
const (
	MACDBullish          MACDSignal = "bullish"
	MACDStrongBullish    MACDSignal = "strong_bullish"
	MACDBullishExhausted MACDSignal = "bullish_exhausted"
	MACDBearish          MACDSignal = "bearish"
	MACDStrongBearish    MACDSignal = "strong_bearish"
	MACDBearishExhausted MACDSignal = "bearish_exhausted"
	MACDNeutral          MACDSignal = "neutral"
)

// Valid reports whether s is a known category.
func (s MACDSignal) Valid() bool {
	switch s {
	case MACDBullish, MACDStrongBullish, MACDBullishExhausted,
		MACDBearish, MACDStrongBearish, MACDBearishExhausted, MACDNeutral:
		return true
	}
	return false
}

// IsBullish is true for bullish and strong_bullish; exhausted readings do not count.
func (s MACDSignal) IsBullish() bool {
	return s == MACDBullish || s == MACDStrongBullish
}

// IsBearish is true for bearish and strong_bearish.
func (s MACDSignal) IsBearish() bool {
	return s == MACDBearish || s == MACDStrongBearish
}

// IsExhausted is true for either exhausted variant.
func (s MACDSignal) IsExhausted() bool {
	return s == MACDBullishExhausted || s == MACDBearishExhausted
}

// BollingerPosition locates price against the 20/2 bands.
type BollingerPosition string

// Bollinger positions.
const (
	BollingerAboveUpper  BollingerPosition = "above_upper"
	BollingerBelowLower  BollingerPosition = "below_lower"
	BollingerWithinBands BollingerPosition = "within_bands"
	BollingerUnknown     BollingerPosition = "unknown"
)

// Valid reports whether p is a known position.
func (p BollingerPosition) Valid() bool {
	switch p {
	case BollingerAboveUpper, BollingerBelowLower, BollingerWithinBands, BollingerUnknown:
		return true
	}
	return false
}

// No-trade reason codes.
const (
	ReasonStaleData  = "stale_data"
	ReasonEarnings   = "earnings_within_window"
	ReasonExDividend = "ex_dividend_within_window"
)

// Conditions holds the raw, caller-supplied fields of a report.
// Volatilities, IV rank and stress are 0-100 percentages; RecentMovePct is
// signed percentage points.
type Conditions struct {
	Symbol                 string            `json:"symbol"`
	CurrentPrice           float64           `json:"current_price"`
	OpenPrice              float64           `json:"open_price"`
	RSI                    float64           `json:"rsi"`
	MACDSignal             MACDSignal        `json:"macd_signal"`
	BollingerPosition      BollingerPosition `json:"bollinger_position"`
	SMA20                  float64           `json:"sma_20"`
	ADX                    *float64          `json:"adx,omitempty"`
	Support                *float64          `json:"support,omitempty"`
	Resistance             *float64          `json:"resistance,omitempty"`
	HistoricalVolatility   float64           `json:"historical_volatility"`
	CurrentIV              float64           `json:"current_iv"`
	IVRank                 float64           `json:"iv_rank"`
	IVPercentile           float64           `json:"iv_percentile"`
	MarketStress           float64           `json:"market_stress"`
	RecentMovePct          float64           `json:"recent_move_pct"`
	IsRangeBound           bool              `json:"is_range_bound"`
	RangeBoundDays         int               `json:"range_bound_days"`
	TechnicalDataAvailable bool              `json:"technical_data_available"`
	DataStale              bool              `json:"data_stale"`
	EarningsWithinWindow   bool              `json:"earnings_within_window"`
	DividendWithinWindow   bool              `json:"dividend_within_window"`
	NoTradeReasons         []string          `json:"no_trade_reasons,omitempty"`
	Timestamp              time.Time         `json:"timestamp"`
}

// Derived holds the fields computed from Conditions at construction.
type Derived struct {
	HVIVRatio          float64       `json:"hv_iv_ratio"`
	TrendStrength      TrendStrength `json:"trend_strength"`
	Regime             Regime        `json:"regime"`
	RegimeConfidence   float64       `json:"regime_confidence"`
	OverboughtWarnings int           `json:"overbought_warnings"`
	OversoldWarnings   int           `json:"oversold_warnings"`
	IsOverbought       bool          `json:"is_overbought"`
	IsOversold         bool          `json:"is_oversold"`
	Momentum           Momentum      `json:"momentum"`
	MomentumConfidence float64       `json:"momentum_confidence"`
}

// Derive computes every derived field. It is pure: identical input always
// yields identical output.
func Derive(c Conditions) Derived {
	d := Derived{HVIVRatio: HVIVRatio(c.HistoricalVolatility, c.CurrentIV)}
	d.TrendStrength = ClassifyTrendStrength(c.ADX)
	d.Regime, d.RegimeConfidence = ClassifyRegime(c, d.TrendStrength)
	d.OverboughtWarnings, d.OversoldWarnings = CountExtremes(c)
	d.IsOverbought = d.OverboughtWarnings >= ExtremeThreshold
	d.IsOversold = d.OversoldWarnings >= ExtremeThreshold
	d.Momentum, d.MomentumConfidence = ClassifyMomentum(d.TrendStrength, d.IsOverbought, d.IsOversold,
		d.OverboughtWarnings, d.OversoldWarnings, c.ADX)
	return d
}

// Report is an immutable market condition report for one symbol at one instant.
type Report struct {
	c Conditions
	d Derived
}

// NewReport validates the raw fields, normalizes empty categories and
// derives the classification once.
func NewReport(c Conditions) (*Report, error) {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.MACDSignal == "" {
		c.MACDSignal = MACDNeutral
	}
	if c.BollingerPosition == "" {
		c.BollingerPosition = BollingerUnknown
	}
	if err := validate(c); err != nil {
		return nil, err
	}

	reasons := make([]string, 0, len(c.NoTradeReasons)+3)
	reasons = append(reasons, c.NoTradeReasons...)
	for _, flag := range []struct {
		set    bool
		reason string
	}{
		{c.DataStale, ReasonStaleData},
		{c.EarningsWithinWindow, ReasonEarnings},
		{c.DividendWithinWindow, ReasonExDividend},
	} {
		if flag.set && !contains(reasons, flag.reason) {
			reasons = append(reasons, flag.reason)
		}
	}
	c.NoTradeReasons = reasons
	c.ADX = copyFloat(c.ADX)
	c.Support = copyFloat(c.Support)
	c.Resistance = copyFloat(c.Resistance)

	return &Report{c: c, d: Derive(c)}, nil
}

func validate(c Conditions) error {
	pct := func(name string, v float64) error {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: %s must be within [0,100] (got %.2f)", ErrInvalidConditions, name, v)
		}
		return nil
	}
	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConditions)
	}
	if name, ok := firstNonFinite(c); !ok {
		return fmt.Errorf("%w: %s must be finite", ErrInvalidConditions, name)
	}
	if c.CurrentPrice <= 0 {
		return fmt.Errorf("%w: current_price must be > 0 (got %.2f)", ErrInvalidConditions, c.CurrentPrice)
	}
	for _, check := range []struct {
		name string
		v    float64
	}{
		{"rsi", c.RSI},
		{"iv_rank", c.IVRank},
		{"iv_percentile", c.IVPercentile},
		{"market_stress", c.MarketStress},
	} {
		if err := pct(check.name, check.v); err != nil {
			return err
		}
	}
	if c.HistoricalVolatility < 0 || c.CurrentIV < 0 {
		return fmt.Errorf("%w: volatilities must be >= 0", ErrInvalidConditions)
	}
	if c.ADX != nil && *c.ADX < 0 {
		return fmt.Errorf("%w: adx must be >= 0 (got %.2f)", ErrInvalidConditions, *c.ADX)
	}
	if c.RangeBoundDays < 0 {
		return fmt.Errorf("%w: range_bound_days must be >= 0", ErrInvalidConditions)
	}
	if !c.MACDSignal.Valid() {
		return fmt.Errorf("%w: unknown macd_signal %q", ErrInvalidConditions, c.MACDSignal)
	}
	if !c.BollingerPosition.Valid() {
		return fmt.Errorf("%w: unknown bollinger_position %q", ErrInvalidConditions, c.BollingerPosition)
	}
	return nil
}

// firstNonFinite names the first NaN or infinite numeric field.
func firstNonFinite(c Conditions) (string, bool) {
	fields := []struct {
		name string
		v    *float64
	}{
		{"current_price", &c.CurrentPrice},
		{"open_price", &c.OpenPrice},
		{"rsi", &c.RSI},
		{"sma_20", &c.SMA20},
		{"adx", c.ADX},
		{"support", c.Support},
		{"resistance", c.Resistance},
		{"historical_volatility", &c.HistoricalVolatility},
		{"current_iv", &c.CurrentIV},
		{"iv_rank", &c.IVRank},
		{"iv_percentile", &c.IVPercentile},
		{"market_stress", &c.MarketStress},
		{"recent_move_pct", &c.RecentMovePct},
	}
	for _, f := range fields {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			return f.name, false
		}
	}
	return "", true
}

// Conditions returns a copy of the raw fields.
func (r *Report) Conditions() Conditions {
	c := r.c
	c.NoTradeReasons = append([]string(nil), r.c.NoTradeReasons...)
	c.ADX = copyFloat(r.c.ADX)
	c.Support = copyFloat(r.c.Support)
	c.Resistance = copyFloat(r.c.Resistance)
	return c
}

// Derived returns the computed classification.
func (r *Report) Derived() Derived {
	return r.d
}

// Symbol returns the underlying.
func (r *Report) Symbol() string { return r.c.Symbol }

// Price returns the current price.
func (r *Report) Price() float64 { return r.c.CurrentPrice }

// Regime returns the classified regime and its confidence.
func (r *Report) Regime() (Regime, float64) { return r.d.Regime, r.d.RegimeConfidence }

// CanTrade is true iff no no-trade reason is present.
func (r *Report) CanTrade() bool {
	return len(r.c.NoTradeReasons) == 0
}

// NoTradeReasons returns a copy of the reason codes.
func (r *Report) NoTradeReasons() []string {
	return append([]string(nil), r.c.NoTradeReasons...)
}

// NoTradeExplanation joins the reason codes for display; empty when trading is allowed.
func (r *Report) NoTradeExplanation() string {
	if r.CanTrade() {
		return ""
	}
	return "no trade: " + strings.Join(r.c.NoTradeReasons, ", ")
}

// Snapshot returns the persisted subset of the report.
func (r *Report) Snapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		Price:          r.c.CurrentPrice,
		RSI:            r.c.RSI,
		MACDSignal:     string(r.c.MACDSignal),
		ADX:            copyFloat(r.c.ADX),
		IVRank:         r.c.IVRank,
		CurrentIV:      r.c.CurrentIV,
		HVIVRatio:      r.d.HVIVRatio,
		MarketStress:   r.c.MarketStress,
		Regime:         string(r.d.Regime),
		RegimeConf:     r.d.RegimeConfidence,
		Momentum:       string(r.d.Momentum),
		IsOverbought:   r.d.IsOverbought,
		IsOversold:     r.d.IsOversold,
		NoTradeReasons: r.NoTradeReasons(),
	}
}

// MarshalJSON flattens raw and derived fields into one object.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Conditions
		Derived
	}{r.c, r.d})
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
