package market

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/eddiefleurent/strategist/internal/models"
)

// MinHistoryBars is the number of daily bars needed for MACD 12/26/9 and ADX-14.
const MinHistoryBars = 35

const (
	tradingDaysPerYear = 252
	hvWindow           = 30
	levelWindow        = 20
	recentMoveWindow   = 5
	macdNeutralBand    = 0.05
)

// BuilderConfig tunes report construction from raw snapshots.
type BuilderConfig struct {
	MaxQuoteAge         time.Duration
	EarningsWindowDays  int
	DividendWindowDays  int
	RangeBoundThreshold float64 // max (high-low)/low over the trailing window, e.g. 0.05
	RangeBoundMinDays   int
	Now                 func() time.Time
}

// DefaultBuilderConfig returns the settings used when none are configured.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MaxQuoteAge:         15 * time.Minute,
		EarningsWindowDays:  7,
		DividendWindowDays:  3,
		RangeBoundThreshold: 0.05,
		RangeBoundMinDays:   5,
		Now:                 time.Now,
	}
}

// Builder turns quote, metrics and daily history into a Report.
type Builder struct {
	cfg    BuilderConfig
	logger *logrus.Logger
}

// NewBuilder creates a builder; zero config fields fall back to defaults.
func NewBuilder(cfg BuilderConfig, logger *logrus.Logger) *Builder {
	def := DefaultBuilderConfig()
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = def.MaxQuoteAge
	}
	if cfg.RangeBoundThreshold <= 0 {
		cfg.RangeBoundThreshold = def.RangeBoundThreshold
	}
	if cfg.RangeBoundMinDays <= 0 {
		cfg.RangeBoundMinDays = def.RangeBoundMinDays
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build assembles Conditions and returns the validated report.
func (b *Builder) Build(quote *models.Quote, metrics *models.MarketMetrics, history []models.PriceBar) (*Report, error) {
	if quote == nil {
		return nil, errors.New("market: quote is required")
	}
	if metrics == nil {
		metrics = &models.MarketMetrics{Symbol: quote.Symbol}
	}
	price := quote.Price()
	if price <= 0 {
		return nil, fmt.Errorf("market: no usable price for %s", quote.Symbol)
	}
	now := b.cfg.Now()

	c := Conditions{
		Symbol:       quote.Symbol,
		CurrentPrice: price,
		OpenPrice:    quote.Open,
		RSI:          50,
		CurrentIV:    metrics.IV30Day,
		IVRank:       clampPct(metrics.IVRank),
		IVPercentile: clampPct(metrics.IVPercentile),
		Timestamp:    quote.Timestamp,
	}
	if !quote.Timestamp.IsZero() && now.Sub(quote.Timestamp) > b.cfg.MaxQuoteAge {
		c.DataStale = true
	}
	c.EarningsWithinWindow = withinDays(now, metrics.EarningsDate, b.cfg.EarningsWindowDays)
	c.DividendWithinWindow = withinDays(now, metrics.ExDividend, b.cfg.DividendWindowDays)

	bars := sortedBars(history)
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i], highs[i], lows[i] = bar.Close, bar.High, bar.Low
	}

	c.HistoricalVolatility = metrics.HV30Day
	if c.HistoricalVolatility <= 0 {
		c.HistoricalVolatility = HistoricalVolatility(closes, hvWindow)
	}
	c.RecentMovePct = RecentMovePct(closes, price, recentMoveWindow)
	c.RangeBoundDays = RangeBoundDays(closes, b.cfg.RangeBoundThreshold)
	c.IsRangeBound = c.RangeBoundDays >= b.cfg.RangeBoundMinDays

	if len(bars) >= MinHistoryBars {
		c.TechnicalDataAvailable = true
		c.RSI = last(talib.Rsi(closes, 14))
		c.MACDSignal = ClassifyMACD(talib.Macd(closes, 12, 26, 9))
		upper, _, lower := talib.BBands(closes, levelWindow, 2, 2, talib.SMA)
		c.BollingerPosition = bollingerPosition(price, last(upper), last(lower))
		c.SMA20 = last(talib.Sma(closes, levelWindow))
		adx := last(talib.Adx(highs, lows, closes, 14))
		c.ADX = &adx

		support := floats.Min(lows[len(lows)-levelWindow:])
		resistance := floats.Max(highs[len(highs)-levelWindow:])
		c.Support, c.Resistance = &support, &resistance
	} else {
		b.logger.WithFields(logrus.Fields{
			"symbol": quote.Symbol,
			"bars":   len(bars),
			"needed": MinHistoryBars,
		}).Warn("insufficient history for technical indicators")
	}
	c.RSI = clampPct(c.RSI)

	if metrics.MarketStress != nil {
		c.MarketStress = clampPct(*metrics.MarketStress)
	} else {
		c.MarketStress = MarketStress(c.IVRank, c.RecentMovePct, c.HistoricalVolatility)
	}

	report, err := NewReport(c)
	if err != nil {
		return nil, fmt.Errorf("build report for %s: %w", quote.Symbol, err)
	}
	d := report.Derived()
	b.logger.WithFields(logrus.Fields{
		"symbol":   report.Symbol(),
		"price":    price,
		"regime":   d.Regime,
		"momentum": d.Momentum,
		"iv_rank":  c.IVRank,
		"stress":   c.MarketStress,
	}).Debug("market report built")
	return report, nil
}

// ClassifyMACD maps MACD line, signal line and histogram series to a category.
// A histogram shrinking for two bars marks the move as exhausted.
func ClassifyMACD(macd, signal, hist []float64) MACDSignal {
	if len(hist) < 3 || len(macd) == 0 {
		return MACDNeutral
	}
	h0, h1, h2 := hist[len(hist)-1], hist[len(hist)-2], hist[len(hist)-3]
	m := last(macd)
	if math.Abs(h0) < macdNeutralBand && math.Abs(m-last(signal)) < macdNeutralBand {
		return MACDNeutral
	}
	switch {
	case h0 > 0:
		if h0 < h1 && h1 < h2 {
			return MACDBullishExhausted
		}
		if m > 0 && h0 > h1 {
			return MACDStrongBullish
		}
		return MACDBullish
	case h0 < 0:
		if h0 > h1 && h1 > h2 {
			return MACDBearishExhausted
		}
		if m < 0 && h0 < h1 {
			return MACDStrongBearish
		}
		return MACDBearish
	}
	return MACDNeutral
}

// HistoricalVolatility is the annualized standard deviation of daily log
// returns over the trailing window, as a percentage.
func HistoricalVolatility(closes []float64, window int) float64 {
	if len(closes) < window+1 {
		return 0
	}
	tail := closes[len(closes)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 || tail[i] <= 0 {
			return 0
		}
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}
	return stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear) * 100
}

// RangeBoundDays counts how many trailing sessions closed within threshold
// of each other, measured as (max-min)/min.
func RangeBoundDays(closes []float64, threshold float64) int {
	if len(closes) == 0 {
		return 0
	}
	lo, hi := closes[len(closes)-1], closes[len(closes)-1]
	days := 0
	for i := len(closes) - 1; i >= 0; i-- {
		v := closes[i]
		nlo, nhi := math.Min(lo, v), math.Max(hi, v)
		if nlo <= 0 || (nhi-nlo)/nlo > threshold {
			break
		}
		lo, hi = nlo, nhi
		days++
	}
	return days
}

// RecentMovePct is the signed move from the close n sessions ago to price.
func RecentMovePct(closes []float64, price float64, n int) float64 {
	if len(closes) <= n {
		return 0
	}
	ref := closes[len(closes)-1-n]
	if ref <= 0 {
		return 0
	}
	return (price - ref) / ref * 100
}

// MarketStress estimates a 0-100 stress level when no external reading exists:
// IV rank carries half the weight, recent move size and realized volatility the rest.
func MarketStress(ivRank, recentMovePct, hv float64) float64 {
	stress := ivRank*0.5 + math.Min(math.Abs(recentMovePct)*5, 25) + math.Min(hv/2, 25)
	return clampPct(stress)
}

func bollingerPosition(price, upper, lower float64) BollingerPosition {
	if upper <= 0 || lower <= 0 || upper <= lower {
		return BollingerUnknown
	}
	switch {
	case price > upper:
		return BollingerAboveUpper
	case price < lower:
		return BollingerBelowLower
	default:
		return BollingerWithinBands
	}
}

func withinDays(now time.Time, date *time.Time, days int) bool {
	if date == nil || days <= 0 {
		return false
	}
	if date.Before(now.Truncate(24 * time.Hour)) {
		return false
	}
	return models.DaysBetween(now, *date) <= days
}

func sortedBars(history []models.PriceBar) []models.PriceBar {
	bars := make([]models.PriceBar, len(history))
	copy(bars, history)
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
