package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time quote for an underlying.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Open      float64   `json:"open"`
	PrevClose float64   `json:"prev_close"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Price returns last, falling back to the bid/ask midpoint.
func (q *Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return 0
}

// MarketMetrics carries volatility and corporate-event data for an underlying.
// Volatilities are percentages (25 = 25%). Nil dates mean unknown.
type MarketMetrics struct {
	Symbol       string     `json:"symbol"`
	IVRank       float64    `json:"iv_rank"`
	IVPercentile float64    `json:"iv_percentile"`
	IV30Day      float64    `json:"iv_30_day"`
	HV30Day      float64    `json:"hv_30_day"`
	Beta         float64    `json:"beta"`
	EarningsDate *time.Time `json:"earnings_date,omitempty"`
	ExDividend   *time.Time `json:"ex_dividend_date,omitempty"`
	DividendPay  *time.Time `json:"dividend_pay_date,omitempty"`
	MarketStress *float64   `json:"market_stress,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PriceBar is one daily OHLCV bar.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IVReading represents a single implied volatility reading for a symbol on a specific date
type IVReading struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	IV        float64   `json:"iv"`        // Implied volatility as decimal (0.20 = 20%)
	Timestamp time.Time `json:"timestamp"` // When this reading was recorded
}

// OptionQuote is the live market for one side of a chain strike.
type OptionQuote struct {
	Symbol       string   `json:"symbol"`
	Bid          float64  `json:"bid"`
	Ask          float64  `json:"ask"`
	Last         float64  `json:"last"`
	Delta        *float64 `json:"delta,omitempty"`
	IV           float64  `json:"iv,omitempty"` // decimal, 0.20 = 20%
	Volume       int64    `json:"volume"`
	OpenInterest int64    `json:"open_interest"`
}

// Mid returns the bid/ask midpoint, or last when the market is one-sided.
func (q *OptionQuote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// ChainStrike is one strike row of an option chain; either side may be absent.
type ChainStrike struct {
	Strike decimal.Decimal `json:"strike"`
	Call   *OptionQuote    `json:"call,omitempty"`
	Put    *OptionQuote    `json:"put,omitempty"`
}

// Side returns the quote for the given option type, or nil.
func (s ChainStrike) Side(t OptionType) *OptionQuote {
	if t == OptionTypeCall {
		return s.Call
	}
	return s.Put
}

// OptionChain is the chain for one expiration, strikes ascending.
type OptionChain struct {
	Symbol     string        `json:"symbol"`
	Expiration time.Time     `json:"expiration"`
	Strikes    []ChainStrike `json:"strikes"`
}

// SortStrikes orders strikes ascending in place.
func (c *OptionChain) SortStrikes() {
	sort.Slice(c.Strikes, func(i, j int) bool {
		return c.Strikes[i].Strike.LessThan(c.Strikes[j].Strike)
	})
}

// AvailableStrikes returns strikes listed for the given option type.
func (c *OptionChain) AvailableStrikes(t OptionType) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(c.Strikes))
	for _, s := range c.Strikes {
		if s.Side(t) != nil {
			out = append(out, s.Strike)
		}
	}
	return out
}

// Lookup finds the quote at an exact strike.
func (c *OptionChain) Lookup(t OptionType, strike decimal.Decimal) *OptionQuote {
	for _, s := range c.Strikes {
		if s.Strike.Equal(strike) {
			return s.Side(t)
		}
	}
	return nil
}

// DTE returns whole days from now until expiration, never negative.
func (c *OptionChain) DTE(now time.Time) int {
	return DaysBetween(now, c.Expiration)
}

// DaysBetween returns whole calendar days from one date to another,
// clamped at zero.
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	d := int(t.Sub(f).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
