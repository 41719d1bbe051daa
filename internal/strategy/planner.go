package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/strikes"
)

// Plan is a priced, strike-matched composition for one expiration.
// MaxRisk and MaxProfit are per unit; multiply by Quantity for the order.
type Plan struct {
	Strategy    models.StrategyType
	Composition *models.StrategyComposition
	Match       strikes.Match
	Quantity    int
	NetPremium  decimal.Decimal // per unit, positive credit
	LimitPrice  decimal.Decimal
	MaxRisk     decimal.Decimal
	MaxProfit   decimal.Decimal
}

// Planner builds compositions for every strategy identity.
type Planner struct {
	params    VerticalParameters
	optimizer *strikes.Optimizer
	logger    *logrus.Logger
}

// NewPlanner validates params and returns a planner.
func NewPlanner(params VerticalParameters, logger *logrus.Logger) (*Planner, error) {
	p, err := NewVerticalParameters(params)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Planner{params: p, optimizer: strikes.NewOptimizer(logger), logger: logger}, nil
}

// Parameters returns the validated parameters.
func (p *Planner) Parameters() VerticalParameters {
	return p.params
}

// Plan matches strikes on chain and prices the result. The bool is false
// when the chain cannot satisfy the quality gates, which callers treat as
// "try the next expiration". Errors signal misuse: an unknown strategy or a
// calendar without a back-month chain.
func (p *Planner) Plan(st models.StrategyType, r *market.Report, chain, back *models.OptionChain) (*Plan, bool, error) {
	if !st.Valid() {
		return nil, false, fmt.Errorf("plan: unknown strategy %d", int(st))
	}
	if chain == nil || r == nil {
		return nil, false, fmt.Errorf("plan %s: chain and report are required", st)
	}
	if st == models.CalendarSpread && back == nil {
		return nil, false, fmt.Errorf("plan %s: back-month chain is required", st)
	}

	b := &legBuilder{p: p, r: r, chain: chain, price: decimal.NewFromFloat(r.Price())}
	var ok bool
	switch st {
	case models.BullPutSpread:
		ok = b.creditVertical(models.OptionTypePut)
	case models.BearCallSpread:
		ok = b.creditVertical(models.OptionTypeCall)
	case models.BullCallSpread:
		ok = b.debitVertical(models.OptionTypeCall)
	case models.BearPutSpread:
		ok = b.debitVertical(models.OptionTypePut)
	case models.IronCondor:
		ok = b.ironCondor()
	case models.IronButterfly:
		ok = b.ironButterfly()
	case models.LongCallButterfly:
		ok = b.longButterfly()
	case models.ShortStrangle:
		ok = b.strangle(models.SideShort)
	case models.LongStrangle:
		ok = b.strangle(models.SideLong)
	case models.ShortStraddle:
		ok = b.straddle(models.SideShort)
	case models.LongStraddle:
		ok = b.straddle(models.SideLong)
	case models.CoveredCall, models.NakedCall:
		ok = b.single(models.OptionTypeCall, models.SideShort, true)
	case models.CashSecuredPut, models.NakedPut:
		ok = b.single(models.OptionTypePut, models.SideShort, true)
	case models.LongCall:
		ok = b.single(models.OptionTypeCall, models.SideLong, false)
	case models.LongPut:
		ok = b.single(models.OptionTypePut, models.SideLong, false)
	case models.CalendarSpread:
		ok = b.calendar(back)
	}
	if !ok {
		return nil, false, nil
	}

	comp, err := models.NewStrategyComposition(b.legs...)
	if err != nil {
		return nil, false, fmt.Errorf("plan %s: %w", st, err)
	}
	plan := &Plan{Strategy: st, Composition: comp, Match: b.match, Quantity: p.params.Quantity}
	if !Price(plan, b.prices) {
		p.logger.WithFields(logrus.Fields{
			"symbol":     r.Symbol(),
			"strategy":   st.String(),
			"expiration": chain.Expiration.Format("2006-01-02"),
		}).Debug("plan rejected: missing leg quotes")
		return nil, false, nil
	}
	return plan, true, nil
}

// legBuilder accumulates legs and their mid prices for one plan.
type legBuilder struct {
	p      *Planner
	r      *market.Report
	chain  *models.OptionChain
	price  decimal.Decimal
	legs   []models.StrategyLeg
	prices map[string]decimal.Decimal
	match  strikes.Match
}

func (b *legBuilder) relaxed() bool {
	return b.p.params.Mode.Relaxed()
}

func (b *legBuilder) byDelta() bool {
	return b.p.params.StrikeSelection == SelectByDelta
}

// addLeg appends a leg priced from chain; false when the side is not quoted.
func (b *legBuilder) addLeg(chain *models.OptionChain, t models.OptionType, strike decimal.Decimal, side models.Side, qty int) bool {
	q := chain.Lookup(t, strike)
	if q == nil {
		return false
	}
	contract, err := models.NewOptionContract(b.r.Symbol(), t, strike, chain.Expiration)
	if err != nil {
		return false
	}
	leg, err := models.NewStrategyLeg(contract, side, qty)
	if err != nil {
		return false
	}
	if b.prices == nil {
		b.prices = make(map[string]decimal.Decimal)
	}
	b.prices[contract.OCCSymbol()] = decimal.NewFromFloat(q.Mid())
	b.legs = append(b.legs, leg)
	return true
}

// spread runs the optimizer for one side and returns the raw match.
func (b *legBuilder) spread(kind models.OptionType, otm decimal.Decimal, delta float64) (strikes.Match, bool) {
	if b.byDelta() && delta > 0 {
		return b.p.optimizer.SpreadStrikesByDelta(strikes.DeltaRequest{
			Strikes:     strikes.DeltaStrikesFromChain(b.chain, kind),
			Price:       b.price,
			Width:       b.p.params.Width(),
			Kind:        kind,
			TargetDelta: delta,
		})
	}
	c := b.r.Conditions()
	req := strikes.Request{
		Strikes:      b.chain.AvailableStrikes(kind),
		Price:        b.price,
		Width:        b.p.params.Width(),
		Kind:         kind,
		TargetOTMPct: otm,
		Relaxed:      b.relaxed(),
	}
	if otm.IsZero() {
		return b.p.optimizer.SpreadStrikes(req)
	}
	if kind == models.OptionTypePut && c.Support != nil {
		s := decimal.NewFromFloat(*c.Support)
		req.Support = &s
		req.LevelBuffer = &b.p.params.SupportBuffer
	}
	if kind == models.OptionTypeCall && c.Resistance != nil {
		res := decimal.NewFromFloat(*c.Resistance)
		req.Resistance = &res
		req.LevelBuffer = &b.p.params.ResistanceBuffer
	}
	return b.p.optimizer.SpreadStrikes(req)
}

func (b *legBuilder) creditVertical(kind models.OptionType) bool {
	m, ok := b.spread(kind, b.p.params.TargetOTMPct, b.p.params.TargetDelta)
	if !ok {
		return false
	}
	b.match = m
	return b.addLeg(b.chain, kind, m.Short, models.SideShort, 1) &&
		b.addLeg(b.chain, kind, m.Long, models.SideLong, 1)
}

// debitVertical anchors the bought leg at the money and sells the strike
// width further out. The match is reported from the seller's view: Short
// is the sold (further) strike.
func (b *legBuilder) debitVertical(kind models.OptionType) bool {
	m, ok := b.spread(kind, decimal.Zero, 0.5)
	if !ok {
		return false
	}
	b.match = m
	b.match.Short, b.match.Long = m.Long, m.Short
	b.match.ShortIdeal, b.match.LongIdeal = m.LongIdeal, m.ShortIdeal
	return b.addLeg(b.chain, kind, m.Short, models.SideLong, 1) &&
		b.addLeg(b.chain, kind, m.Long, models.SideShort, 1)
}

func (b *legBuilder) ironCondor() bool {
	put, ok := b.spread(models.OptionTypePut, b.p.params.TargetOTMPct, b.p.params.TargetDelta)
	if !ok {
		return false
	}
	call, ok := b.spread(models.OptionTypeCall, b.p.params.TargetOTMPct, b.p.params.TargetDelta)
	if !ok || !put.Short.LessThan(call.Short) {
		return false
	}
	b.match = put
	b.match.Quality = (put.Quality + call.Quality) / 2
	return b.addLeg(b.chain, models.OptionTypePut, put.Long, models.SideLong, 1) &&
		b.addLeg(b.chain, models.OptionTypePut, put.Short, models.SideShort, 1) &&
		b.addLeg(b.chain, models.OptionTypeCall, call.Short, models.SideShort, 1) &&
		b.addLeg(b.chain, models.OptionTypeCall, call.Long, models.SideLong, 1)
}

// wings finds strikes width below and above the body under the long gate.
func (b *legBuilder) wings(body decimal.Decimal, listed []decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
	w := b.p.params.Width()
	lo, ok := b.p.optimizer.Strike(listed, body.Sub(w), b.price, strikes.LongDeviation)
	if !ok || !lo.LessThan(body) {
		return decimal.Zero, decimal.Zero, false
	}
	hi, ok := b.p.optimizer.Strike(listed, body.Add(w), b.price, strikes.LongDeviation)
	if !ok || !hi.GreaterThan(body) {
		return decimal.Zero, decimal.Zero, false
	}
	return lo, hi, true
}

func (b *legBuilder) atm(kind models.OptionType) (decimal.Decimal, bool) {
	return strikes.FindATMStrike(b.chain.AvailableStrikes(kind), b.price)
}

func (b *legBuilder) ironButterfly() bool {
	body, ok := b.atm(models.OptionTypePut)
	if !ok {
		return false
	}
	lo, _, ok := b.wings(body, b.chain.AvailableStrikes(models.OptionTypePut))
	if !ok {
		return false
	}
	_, hi, ok := b.wings(body, b.chain.AvailableStrikes(models.OptionTypeCall))
	if !ok {
		return false
	}
	b.match = strikes.Match{Short: body, Long: lo, ShortIdeal: b.price, LongIdeal: body.Sub(b.p.params.Width()), Quality: 100}
	return b.addLeg(b.chain, models.OptionTypePut, lo, models.SideLong, 1) &&
		b.addLeg(b.chain, models.OptionTypePut, body, models.SideShort, 1) &&
		b.addLeg(b.chain, models.OptionTypeCall, body, models.SideShort, 1) &&
		b.addLeg(b.chain, models.OptionTypeCall, hi, models.SideLong, 1)
}

func (b *legBuilder) longButterfly() bool {
	body, ok := b.atm(models.OptionTypeCall)
	if !ok {
		return false
	}
	lo, hi, ok := b.wings(body, b.chain.AvailableStrikes(models.OptionTypeCall))
	if !ok {
		return false
	}
	b.match = strikes.Match{Short: body, Long: lo, ShortIdeal: b.price, LongIdeal: body.Sub(b.p.params.Width()), Quality: 100}
	return b.addLeg(b.chain, models.OptionTypeCall, lo, models.SideLong, 1) &&
		b.addLeg(b.chain, models.OptionTypeCall, body, models.SideShort, 2) &&
		b.addLeg(b.chain, models.OptionTypeCall, hi, models.SideLong, 1)
}

// singleStrike picks one OTM strike by delta or by OTM% under the short gate.
func (b *legBuilder) singleStrike(kind models.OptionType, otm decimal.Decimal) (strikes.Match, bool) {
	if b.byDelta() {
		ds, diff, ok := strikes.FindStrikeByDelta(strikes.DeltaStrikesFromChain(b.chain, kind),
			strikes.SignedTarget(kind, b.p.params.TargetDelta))
		if !ok {
			return strikes.Match{}, false
		}
		delta := *ds.Delta
		return strikes.Match{Short: ds.Strike, ShortIdeal: ds.Strike, Deviation: diff, ShortDelta: &delta, DeltaTargeted: true, Quality: 100}, true
	}
	ideal := strikes.IdealShortStrike(b.price, otm, kind, nil, nil, decimal.Zero)
	gate := strikes.ShortGate(b.relaxed())
	k, ok := b.p.optimizer.Strike(b.chain.AvailableStrikes(kind), ideal, b.price, gate)
	if !ok {
		return strikes.Match{}, false
	}
	dev := strikes.Deviation(k, ideal)
	q := decimal.NewFromInt(100).Sub(dev.Div(gate).Mul(decimal.NewFromInt(100)))
	return strikes.Match{Short: k, ShortIdeal: ideal, Deviation: dev.InexactFloat64(), Quality: q.Round(2).InexactFloat64()}, true
}

func (b *legBuilder) strangle(side models.Side) bool {
	put, ok := b.singleStrike(models.OptionTypePut, b.p.params.TargetOTMPct)
	if !ok {
		return false
	}
	call, ok := b.singleStrike(models.OptionTypeCall, b.p.params.TargetOTMPct)
	if !ok || !put.Short.LessThan(call.Short) {
		return false
	}
	b.match = strikes.Match{
		Short: put.Short, Long: call.Short,
		ShortIdeal: put.ShortIdeal, LongIdeal: call.ShortIdeal,
		Deviation: put.Deviation, LongDeviation: call.Deviation,
		Quality: (put.Quality + call.Quality) / 2,
	}
	return b.addLeg(b.chain, models.OptionTypePut, put.Short, side, 1) &&
		b.addLeg(b.chain, models.OptionTypeCall, call.Short, side, 1)
}

func (b *legBuilder) straddle(side models.Side) bool {
	k, ok := b.atm(models.OptionTypeCall)
	if !ok {
		return false
	}
	b.match = strikes.Match{Short: k, ShortIdeal: b.price, Quality: 100}
	return b.addLeg(b.chain, models.OptionTypePut, k, side, 1) &&
		b.addLeg(b.chain, models.OptionTypeCall, k, side, 1)
}

// single builds a one-leg position: OTM for sold options, at the money for bought ones.
func (b *legBuilder) single(kind models.OptionType, side models.Side, otm bool) bool {
	var m strikes.Match
	var ok bool
	if otm {
		m, ok = b.singleStrike(kind, b.p.params.TargetOTMPct)
	} else {
		var k decimal.Decimal
		k, ok = b.atm(kind)
		m = strikes.Match{Short: k, ShortIdeal: b.price, Quality: 100}
	}
	if !ok {
		return false
	}
	b.match = m
	return b.addLeg(b.chain, kind, m.Short, side, 1)
}

// calendar sells the front-month ATM call and buys the same strike in back.
func (b *legBuilder) calendar(back *models.OptionChain) bool {
	if !back.Expiration.After(b.chain.Expiration) {
		return false
	}
	k, ok := b.atm(models.OptionTypeCall)
	if !ok || back.Lookup(models.OptionTypeCall, k) == nil {
		return false
	}
	b.match = strikes.Match{Short: k, Long: k, ShortIdeal: b.price, LongIdeal: b.price, Quality: 100}
	return b.addLeg(b.chain, models.OptionTypeCall, k, models.SideShort, 1) &&
		b.addLeg(back, models.OptionTypeCall, k, models.SideLong, 1)
}
