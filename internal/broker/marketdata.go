package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/retry"
)

const (
	// ivLookbackDays is the calendar window behind IV rank and percentile.
	ivLookbackDays = 365
	// ivProxyMinDTE picks the first expiration at least this far out as the
	// 30-day IV proxy.
	ivProxyMinDTE = 20
	// minIVHistory is the number of stored readings needed before IV rank is trusted.
	minIVHistory  = 20
	orderDuration = "day"
)

// IVStore persists the daily IV proxy used for rank and percentile.
type IVStore interface {
	StoreIVReading(reading *models.IVReading) error
	GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error)
}

// MarketData adapts a Broker to the analyzer's quote, chain and margin
// ports. Every broker call goes through the retry client.
type MarketData struct {
	broker Broker
	retry  *retry.Client
	ivs    IVStore
	logger logrus.FieldLogger
	source string
	now    func() time.Time
}

// NewMarketData wires the adapter. ivs may be nil, in which case IV rank
// and percentile are reported as zero.
func NewMarketData(b Broker, rc *retry.Client, ivs IVStore, source string, logger logrus.FieldLogger) *MarketData {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if rc == nil {
		rc = retry.NewClient(logger)
	}
	if source == "" {
		source = "tradier"
	}
	return &MarketData{broker: b, retry: rc, ivs: ivs, logger: logger, source: source, now: time.Now}
}

// WithClock overrides time.Now for tests.
func (m *MarketData) WithClock(now func() time.Time) *MarketData {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MarketData) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	q, err := retry.Do(ctx, m.retry, "GetQuote", func(ctx context.Context) (*QuoteItem, error) {
		return m.broker.GetQuote(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	ts := m.now()
	if q.TradeDate > 0 {
		ts = time.UnixMilli(q.TradeDate)
	}
	return &models.Quote{
		Symbol:    strings.ToUpper(q.Symbol),
		Bid:       q.Bid,
		Ask:       q.Ask,
		Last:      q.Last,
		Open:      q.Open,
		PrevClose: q.PrevClose,
		Timestamp: ts,
		Source:    m.source,
	}, nil
}

// Metrics derives IV30 from the ATM mid IV of the first expiration at
// least ivProxyMinDTE out, records it, and ranks it against the stored
// year of readings. Event dates are not available from the broker and
// stay nil.
func (m *MarketData) Metrics(ctx context.Context, symbol string) (*models.MarketMetrics, error) {
	now := m.now()
	metrics := &models.MarketMetrics{Symbol: symbol, UpdatedAt: now}

	quote, err := m.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	exps, err := m.Expirations(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var proxyExp time.Time
	for _, e := range exps {
		if models.DaysBetween(now, e) >= ivProxyMinDTE {
			proxyExp = e
			break
		}
	}
	if proxyExp.IsZero() {
		m.logger.WithField("symbol", symbol).Warn("no expiration far enough out for IV proxy")
		return metrics, nil
	}
	chain, err := m.Chain(ctx, symbol, proxyExp)
	if err != nil {
		return nil, err
	}
	iv, ok := atmIV(chain, quote.Price())
	if !ok {
		m.logger.WithField("symbol", symbol).Warn("chain has no usable ATM implied volatility")
		return metrics, nil
	}
	metrics.IV30Day = iv * 100

	if m.ivs == nil {
		return metrics, nil
	}
	if err := m.ivs.StoreIVReading(&models.IVReading{Symbol: symbol, Date: now, IV: iv, Timestamp: now}); err != nil {
		m.logger.WithError(err).WithField("symbol", symbol).Warn("failed to store IV reading")
	}
	readings, err := m.ivs.GetIVReadings(symbol, now.AddDate(0, 0, -ivLookbackDays), now)
	if err != nil {
		m.logger.WithError(err).WithField("symbol", symbol).Warn("failed to load IV history")
		return metrics, nil
	}
	if len(readings) < minIVHistory {
		m.logger.WithFields(logrus.Fields{
			"symbol":   symbol,
			"readings": len(readings),
		}).Info("IV history too short for rank")
		return metrics, nil
	}
	hist := make([]float64, len(readings))
	for i, r := range readings {
		hist[i] = r.IV
	}
	metrics.IVRank = CalculateIVR(iv, hist)
	metrics.IVPercentile = CalculateIVPercentile(iv, hist)
	return metrics, nil
}

// atmIV averages call and put mid IV at the strike nearest spot.
func atmIV(chain *models.OptionChain, spot float64) (float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, s := range chain.Strikes {
		d := math.Abs(s.Strike.InexactFloat64() - spot)
		if d < bestDist && (ivOf(s.Call) > 0 || ivOf(s.Put) > 0) {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, false
	}
	s := chain.Strikes[best]
	c, p := ivOf(s.Call), ivOf(s.Put)
	switch {
	case c > 0 && p > 0:
		return (c + p) / 2, true
	case c > 0:
		return c, true
	default:
		return p, true
	}
}

func ivOf(q *models.OptionQuote) float64 {
	if q == nil {
		return 0
	}
	return q.IV
}

// History returns daily bars covering the last days calendar days, oldest first.
func (m *MarketData) History(ctx context.Context, symbol string, days int) ([]models.PriceBar, error) {
	end := m.now()
	start := end.AddDate(0, 0, -days)
	points, err := retry.Do(ctx, m.retry, "GetHistoricalData", func(ctx context.Context) ([]HistoricalDataPoint, error) {
		return m.broker.GetHistoricalData(ctx, symbol, "daily", start, end)
	})
	if err != nil {
		return nil, err
	}
	bars := make([]models.PriceBar, len(points))
	for i, p := range points {
		bars[i] = models.PriceBar{Date: p.Date, Open: p.Open, High: p.High, Low: p.Low, Close: p.Close, Volume: p.Volume}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// Expirations returns listed expirations, earliest first. Unparseable
// dates are skipped.
func (m *MarketData) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	raw, err := retry.Do(ctx, m.retry, "GetExpirations", func(ctx context.Context) ([]string, error) {
		return m.broker.GetExpirations(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			m.logger.WithField("expiration", s).Debug("skipping unparseable expiration")
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *MarketData) Chain(ctx context.Context, symbol string, expiration time.Time) (*models.OptionChain, error) {
	exp := expiration.Format("2006-01-02")
	options, err := retry.Do(ctx, m.retry, "GetOptionChain", func(ctx context.Context) ([]Option, error) {
		return m.broker.GetOptionChain(ctx, symbol, exp, true)
	})
	if err != nil {
		return nil, err
	}
	return ToOptionChain(symbol, expiration, options), nil
}

// ToOptionChain groups broker options into strike rows. Rows are keyed by
// the decimal strike so 452.5 and 452.50 collapse.
func ToOptionChain(symbol string, expiration time.Time, options []Option) *models.OptionChain {
	rows := make(map[string]*models.ChainStrike)
	for _, o := range options {
		if o.Strike <= 0 {
			continue
		}
		var side models.OptionType
		switch strings.ToLower(o.OptionType) {
		case "call":
			side = models.OptionTypeCall
		case "put":
			side = models.OptionTypePut
		default:
			continue
		}
		strike := decimal.NewFromFloat(o.Strike)
		key := strike.String()
		row, ok := rows[key]
		if !ok {
			row = &models.ChainStrike{Strike: strike}
			rows[key] = row
		}
		q := &models.OptionQuote{
			Symbol:       o.Symbol,
			Bid:          o.Bid,
			Ask:          o.Ask,
			Last:         o.Last,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
		}
		if q.Symbol == "" {
			q.Symbol = models.FormatOCCSymbol(symbol, expiration, side, strike)
		}
		if o.Greeks != nil {
			d := o.Greeks.Delta
			q.Delta = &d
			q.IV = o.Greeks.MidIV
		}
		if side == models.OptionTypeCall {
			row.Call = q
		} else {
			row.Put = q
		}
	}
	chain := &models.OptionChain{Symbol: symbol, Expiration: expiration, Strikes: make([]models.ChainStrike, 0, len(rows))}
	for _, row := range rows {
		chain.Strikes = append(chain.Strikes, *row)
	}
	chain.SortStrikes()
	return chain
}

// CheckMargin previews the composition as a day limit order and approves
// it when the reported margin change fits within option buying power.
func (m *MarketData) CheckMargin(ctx context.Context, comp *models.StrategyComposition, quantity int, limit decimal.Decimal) (*models.MarginCheck, error) {
	order, err := BuildOrder(comp, quantity, limit)
	if err != nil {
		return nil, err
	}
	bp, err := retry.Do(ctx, m.retry, "GetOptionBuyingPower", func(ctx context.Context) (float64, error) {
		return m.broker.GetOptionBuyingPower(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("buying power: %w", err)
	}
	preview, err := retry.Do(ctx, m.retry, "PreviewMultilegOrder", func(ctx context.Context) (*OrderResponse, error) {
		return m.broker.PreviewMultilegOrder(ctx, order)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			return &models.MarginCheck{
				BuyingPower: decimal.NewFromFloat(bp),
				Reason:      fmt.Sprintf("broker rejected preview: %s", apiErr.Body),
			}, nil
		}
		return nil, fmt.Errorf("order preview: %w", err)
	}

	effect := math.Abs(preview.Order.MarginChange)
	check := &models.MarginCheck{
		BuyingPowerEffect: decimal.NewFromFloat(effect),
		BuyingPower:       decimal.NewFromFloat(bp),
	}
	switch {
	case preview.Order.Status != "" && preview.Order.Status != "ok":
		check.Reason = fmt.Sprintf("preview status %q", preview.Order.Status)
	case effect > bp:
		check.Reason = fmt.Sprintf("requires $%.2f buying power, $%.2f available", effect, bp)
	default:
		check.Approved = true
	}
	m.logger.WithFields(logrus.Fields{
		"symbol":   comp.Symbol(),
		"effect":   effect,
		"bp":       bp,
		"approved": check.Approved,
	}).Debug("margin preview")
	return check, nil
}

// BuildOrder converts a composition into an opening limit order. The order
// type follows the sign of limit: positive is a credit, negative a debit.
func BuildOrder(comp *models.StrategyComposition, quantity int, limit decimal.Decimal) (MultilegOrder, error) {
	if comp == nil || comp.Len() == 0 {
		return MultilegOrder{}, ErrNoLegs
	}
	if quantity <= 0 {
		return MultilegOrder{}, fmt.Errorf("invalid order quantity %d", quantity)
	}
	order := MultilegOrder{
		Symbol:   comp.Symbol(),
		Duration: orderDuration,
		Price:    limit.Abs().InexactFloat64(),
	}
	switch {
	case limit.IsPositive():
		order.Type = OrderTypeCredit
	case limit.IsNegative():
		order.Type = OrderTypeDebit
	default:
		order.Type = OrderTypeEven
	}
	for _, leg := range comp.Legs() {
		side := SideBuyToOpen
		if leg.Side == models.SideShort {
			side = SideSellToOpen
		}
		order.Legs = append(order.Legs, OrderLeg{
			OptionSymbol: leg.Contract.OCCSymbol(),
			Side:         side,
			Quantity:     leg.Quantity * quantity,
		})
	}
	return order, nil
}
