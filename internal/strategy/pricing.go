package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/util"
)

var hundred = decimal.NewFromInt(100)

// Price fills the premium, limit and risk fields of plan from per-contract
// mid prices keyed by OCC symbol. It returns false when a leg is unpriced.
func Price(plan *Plan, prices map[string]decimal.Decimal) bool {
	net, err := plan.Composition.NetPremium(prices)
	if err != nil {
		return false
	}
	plan.NetPremium = net
	plan.LimitPrice = LimitPrice(net)
	plan.MaxRisk = nonNegative(plan.Composition.MaxRisk(net))
	plan.MaxProfit = nonNegative(plan.Composition.MaxProfit(net))
	if plan.Strategy == models.LongCallButterfly {
		priceButterfly(plan, net)
	}
	return true
}

// priceButterfly measures a long butterfly by its lower wing; the payoff
// peaks at the body.
func priceButterfly(plan *Plan, net decimal.Decimal) {
	wing := plan.Match.Short.Sub(plan.Match.Long)
	if !wing.IsPositive() {
		return
	}
	plan.MaxRisk = nonNegative(net.Neg().Mul(hundred))
	plan.MaxProfit = nonNegative(wing.Add(net).Mul(hundred))
}

// LimitPrice rounds a net premium to the listed tick for its size. The sign
// is kept: credits are positive, debits negative.
func LimitPrice(net decimal.Decimal) decimal.Decimal {
	return util.RoundToTick(net, util.OptionTickSize(net, false))
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
