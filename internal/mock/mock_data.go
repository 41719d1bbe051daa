// Package mock provides a synthetic broker for paper runs and tests.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/eddiefleurent/strategist/internal/broker"
)

const (
	strikeInterval = 5.0
	strikeRange    = 60.0
	halfSpread     = 0.05
)

// DataProvider generates quotes, chains and history from a random walk and
// prices options with Black-Scholes at a flat volatility. It implements
// broker.Broker and is safe for concurrent use.
type DataProvider struct {
	mu           sync.Mutex
	rng          *rand.Rand
	currentPrice float64
	midIV        float64 // decimal, 0.18 = 18%
	buyingPower  float64
	now          func() time.Time
}

var _ broker.Broker = (*DataProvider)(nil)

// Option configures a DataProvider.
type Option func(*DataProvider)

// WithPrice sets the starting underlying price.
func WithPrice(p float64) Option { return func(m *DataProvider) { m.currentPrice = p } }

// WithIV sets the flat implied volatility (decimal).
func WithIV(iv float64) Option { return func(m *DataProvider) { m.midIV = iv } }

// WithBuyingPower sets the option buying power reported to margin checks.
func WithBuyingPower(bp float64) Option { return func(m *DataProvider) { m.buyingPower = bp } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *DataProvider) { m.now = now } }

// NewDataProvider creates a provider; the same seed yields the same data.
func NewDataProvider(seed uint64, opts ...Option) *DataProvider {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	m := &DataProvider{
		rng:          rng,
		currentPrice: 450.0 + rng.Float64()*10,
		midIV:        0.12 + rng.Float64()*0.18,
		buyingPower:  25000,
		now:          time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *DataProvider) GetQuote(_ context.Context, symbol string) (*broker.QuoteItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.currentPrice
	m.currentPrice += (m.rng.Float64() - 0.5) * 2

	spread := 0.02
	return &broker.QuoteItem{
		Symbol:    symbol,
		Type:      "etf",
		Open:      open,
		Last:      m.currentPrice,
		PrevClose: open,
		Bid:       m.currentPrice - spread/2,
		Ask:       m.currentPrice + spread/2,
		Volume:    m.rng.Int64N(100000000),
		TradeDate: m.now().UnixMilli(),
	}, nil
}

// GetExpirations lists weekly Friday expirations for the next 120 days.
func (m *DataProvider) GetExpirations(_ context.Context, _ string) ([]string, error) {
	today := m.now()
	d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	var out []string
	for end := d.AddDate(0, 0, 120); !d.After(end); d = d.AddDate(0, 0, 7) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out, nil
}

func (m *DataProvider) GetOptionChain(_ context.Context, symbol, expiration string, withGreeks bool) ([]broker.Option, error) {
	expDate, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}
	m.mu.Lock()
	spot, vol := m.currentPrice, m.midIV
	m.mu.Unlock()

	// Clamp to a few hours so expiring chains still price.
	years := math.Max(expDate.Add(16*time.Hour).Sub(m.now()).Hours()/24/365, 0.001)

	var options []broker.Option
	startStrike := math.Floor((spot-strikeRange)/strikeInterval) * strikeInterval
	endStrike := startStrike + 2*strikeRange

	for strike := startStrike; strike <= endStrike; strike += strikeInterval {
		call, put, callDelta := blackScholes(spot, strike, vol, years)
		for _, side := range []struct {
			kind  string
			code  string
			price float64
			delta float64
		}{
			{"put", "P", put, callDelta - 1},
			{"call", "C", call, callDelta},
		} {
			mid := math.Max(0.01, math.Round(side.price*100)/100)
			opt := broker.Option{
				Symbol:         fmt.Sprintf("%s%s%s%08d", symbol, expDate.Format("060102"), side.code, int(math.Round(strike*1000))),
				Description:    fmt.Sprintf("%s %s $%.2f %s", symbol, expDate.Format("Jan 02 2006"), strike, side.kind),
				Strike:         strike,
				OptionType:     side.kind,
				ExpirationDate: expiration,
				Bid:            math.Max(0, mid-halfSpread),
				Ask:            mid + halfSpread,
				Last:           mid,
				Volume:         m.randInt(10000),
				OpenInterest:   m.randInt(50000),
				Underlying:     symbol,
			}
			if withGreeks {
				opt.Greeks = &broker.Greeks{
					Delta: side.delta,
					MidIV: vol,
					BidIV: vol - 0.005,
					AskIV: vol + 0.005,
				}
			}
			options = append(options, opt)
		}
	}
	return options, nil
}

// blackScholes prices at zero rates and returns call, put and call delta.
func blackScholes(spot, strike, vol, years float64) (call, put, delta float64) {
	sd := vol * math.Sqrt(years)
	d1 := (math.Log(spot/strike) + sd*sd/2) / sd
	d2 := d1 - sd
	n := distuv.UnitNormal
	call = spot*n.CDF(d1) - strike*n.CDF(d2)
	put = call - spot + strike
	return call, put, n.CDF(d1)
}

// GetHistoricalData walks backwards from the current price, skipping weekends.
func (m *DataProvider) GetHistoricalData(_ context.Context, _ string, _ string, start, end time.Time) ([]broker.HistoricalDataPoint, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
		}
	}
	bars := make([]broker.HistoricalDataPoint, len(days))
	closePx := m.currentPrice
	dailyVol := m.midIV / math.Sqrt(252)
	for i := len(days) - 1; i >= 0; i-- {
		move := m.rng.NormFloat64() * dailyVol * closePx
		open := closePx - move
		high := math.Max(open, closePx) + m.rng.Float64()*dailyVol*closePx/2
		low := math.Min(open, closePx) - m.rng.Float64()*dailyVol*closePx/2
		bars[i] = broker.HistoricalDataPoint{
			Date:   days[i],
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: 50_000_000 + m.rng.Int64N(50_000_000),
		}
		closePx = open
	}
	return bars, nil
}

func (m *DataProvider) GetMarketClock(_ context.Context, _ bool) (*broker.MarketClockResponse, error) {
	now := m.now()
	var resp broker.MarketClockResponse
	resp.Clock.Date = now.Format("2006-01-02")
	resp.Clock.Timestamp = now.Unix()
	resp.Clock.State = "closed"
	if now.Weekday() != time.Saturday && now.Weekday() != time.Sunday {
		resp.Clock.State = "open"
	}
	resp.Clock.Description = "mock market is " + resp.Clock.State
	return &resp, nil
}

func (m *DataProvider) IsTradingDay(ctx context.Context, delayed bool) (bool, error) {
	clock, err := m.GetMarketClock(ctx, delayed)
	if err != nil {
		return false, err
	}
	return clock.Clock.State == "open", nil
}

func (m *DataProvider) GetOptionBuyingPower(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buyingPower, nil
}

// PreviewMultilegOrder approximates the Reg-T requirement: 20% of spot per
// uncovered short contract, or the order cost for fully covered structures.
func (m *DataProvider) PreviewMultilegOrder(_ context.Context, order broker.MultilegOrder) (*broker.OrderResponse, error) {
	if len(order.Legs) == 0 {
		return nil, broker.ErrNoLegs
	}
	m.mu.Lock()
	spot := m.currentPrice
	m.mu.Unlock()

	shorts, longs := 0, 0
	for _, leg := range order.Legs {
		switch leg.Side {
		case broker.SideSellToOpen:
			shorts += leg.Quantity
		case broker.SideBuyToOpen:
			longs += leg.Quantity
		default:
			return nil, fmt.Errorf("unsupported side %q", leg.Side)
		}
	}
	cost := order.Price * 100
	margin := cost
	if uncovered := shorts - longs; uncovered > 0 {
		margin = float64(uncovered) * spot * 100 * 0.20
	}

	var resp broker.OrderResponse
	resp.Order = broker.Order{
		Status:       "ok",
		Result:       true,
		Class:        "multileg",
		Type:         order.Type,
		Symbol:       order.Symbol,
		Duration:     order.Duration,
		Price:        order.Price,
		Quantity:     float64(shorts + longs),
		Commission:   0,
		Cost:         cost,
		OrderCost:    cost,
		MarginChange: margin,
		RequestDate:  m.now().Format(time.RFC3339),
	}
	return &resp, nil
}

func (m *DataProvider) randInt(n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Int64N(n)
}
