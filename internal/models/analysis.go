package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskProfile says whether a strategy's maximum loss is bounded.
type RiskProfile string

const (
	// RiskDefined marks strategies with a bounded maximum loss
	RiskDefined RiskProfile = "DEFINED"
	// RiskUndefined marks strategies whose loss is theoretically unlimited
	RiskUndefined RiskProfile = "UNDEFINED"
)

// RiskRequirements controls what must happen before a composition is executed.
type RiskRequirements struct {
	Profile              RiskProfile `json:"profile"`
	AutomationEligible   bool        `json:"automation_eligible"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	RequiresMarginCheck  bool        `json:"requires_margin_check"`
	Warning              string      `json:"warning,omitempty"`
}

// AnalysisStatus is the outcome of one analysis cycle for a symbol.
type AnalysisStatus string

const (
	// StatusSelected means a strategy was chosen and strikes were matched
	StatusSelected AnalysisStatus = "selected"
	// StatusNoTrade means a hard stop (stale data, earnings, dividend) applied
	StatusNoTrade AnalysisStatus = "no_trade"
	// StatusNoCandidate means no strategy reached the minimum score
	StatusNoCandidate AnalysisStatus = "no_candidate"
	// StatusNoStrikes means every expiration in the DTE window was rejected
	StatusNoStrikes AnalysisStatus = "no_strikes"
	// StatusMarginRejected means the broker dry run refused the composition
	StatusMarginRejected AnalysisStatus = "margin_rejected"
)

// MarketSnapshot is the persisted subset of a market condition report.
type MarketSnapshot struct {
	Price          float64  `json:"price"`
	RSI            float64  `json:"rsi"`
	MACDSignal     string   `json:"macd_signal"`
	ADX            *float64 `json:"adx,omitempty"`
	IVRank         float64  `json:"iv_rank"`
	CurrentIV      float64  `json:"current_iv"`
	HVIVRatio      float64  `json:"hv_iv_ratio"`
	MarketStress   float64  `json:"market_stress"`
	Regime         string   `json:"regime"`
	RegimeConf     float64  `json:"regime_confidence"`
	Momentum       string   `json:"momentum"`
	IsOverbought   bool     `json:"is_overbought"`
	IsOversold     bool     `json:"is_oversold"`
	NoTradeReasons []string `json:"no_trade_reasons,omitempty"`
}

// StrategyScore is one scorer's verdict.
type StrategyScore struct {
	Strategy    StrategyType `json:"strategy"`
	Score       float64      `json:"score"`
	Explanation string       `json:"explanation"`
}

// StrikeSelection records the matched strikes against their ideals.
// Long fields are zero for single-strike selections.
type StrikeSelection struct {
	ShortStrike decimal.Decimal `json:"short_strike"`
	LongStrike  decimal.Decimal `json:"long_strike"`
	ShortIdeal  decimal.Decimal `json:"short_ideal"`
	LongIdeal   decimal.Decimal `json:"long_ideal"`
	Deviation   float64         `json:"deviation"`
	Quality     float64         `json:"quality"`
}

// AnalysisResult is the record produced for one symbol per cycle.
type AnalysisResult struct {
	ID          string               `json:"id"`
	Symbol      string               `json:"symbol"`
	CreatedAt   time.Time            `json:"created_at"`
	Status      AnalysisStatus       `json:"status"`
	Explanation string               `json:"explanation,omitempty"`
	Market      MarketSnapshot       `json:"market"`
	Scores      []StrategyScore      `json:"scores"`
	Selected    *StrategyType        `json:"selected,omitempty"`
	Expiration  *time.Time           `json:"expiration,omitempty"`
	Strikes     *StrikeSelection     `json:"strikes,omitempty"`
	Composition *StrategyComposition `json:"composition,omitempty"`
	Risk        *RiskRequirements    `json:"risk,omitempty"`
	Margin      *MarginCheck         `json:"margin,omitempty"`
	Quantity    int                  `json:"quantity,omitempty"`
	NetPremium  decimal.Decimal      `json:"net_premium"`
	LimitPrice  decimal.Decimal      `json:"limit_price"`
	MaxRisk     decimal.Decimal      `json:"max_risk"`
	MaxProfit   decimal.Decimal      `json:"max_profit"`
}

// HasSelection reports whether a tradable composition was produced.
func (r *AnalysisResult) HasSelection() bool {
	return r.Status == StatusSelected && r.Composition != nil
}

// TopScore returns the highest score recorded, or zero.
func (r *AnalysisResult) TopScore() float64 {
	best := 0.0
	for _, s := range r.Scores {
		if s.Score > best {
			best = s.Score
		}
	}
	return best
}

// MarginCheck is the broker's verdict on a pre-trade dry run.
type MarginCheck struct {
	Approved          bool            `json:"approved"`
	BuyingPowerEffect decimal.Decimal `json:"buying_power_effect"`
	BuyingPower       decimal.Decimal `json:"buying_power"`
	Reason            string          `json:"reason,omitempty"`
}
