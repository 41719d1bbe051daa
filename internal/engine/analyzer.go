// Package engine runs one analysis cycle per symbol: it builds the market
// report, ranks strategies, matches strikes across the DTE window, applies
// the risk policy and hands the result to a sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/risk"
	"github.com/eddiefleurent/strategist/internal/scoring"
	"github.com/eddiefleurent/strategist/internal/strategy"
)

// Defaults applied by NewAnalyzer.
const (
	DefaultMinScore       = 60.0
	DefaultMaxConcurrency = 4
	DefaultHistoryDays    = 120
	// calendarGapDays is the minimum spacing between calendar front and back months.
	calendarGapDays = 21
)

// Config tunes the analyzer.
type Config struct {
	Strategies     []models.StrategyType // empty means every strategy
	MinScore       float64
	MaxConcurrency int
	HistoryDays    int
	Now            func() time.Time
}

// Deps are the collaborators the analyzer needs. Sink and Margin are optional.
type Deps struct {
	Quotes  QuoteSource
	Chains  ChainSource
	Builder *market.Builder
	Planner *strategy.Planner
	Policy  *risk.Policy
	Sink    ResultSink
	Margin  MarginChecker
}

// Analyzer orchestrates the decision pipeline. It is safe for concurrent use.
type Analyzer struct {
	cfg    Config
	deps   Deps
	logger *logrus.Logger
}

// NewAnalyzer validates cfg and deps.
func NewAnalyzer(cfg Config, deps Deps, logger *logrus.Logger) (*Analyzer, error) {
	if deps.Quotes == nil || deps.Chains == nil {
		return nil, errors.New("engine: quote and chain sources are required")
	}
	if deps.Planner == nil {
		return nil, errors.New("engine: planner is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Builder == nil {
		deps.Builder = market.NewBuilder(market.DefaultBuilderConfig(), logger)
	}
	if deps.Policy == nil {
		deps.Policy = risk.NewPolicy(logger)
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = models.AllStrategyTypes()
	}
	for _, st := range cfg.Strategies {
		if _, err := scoring.For(st); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = DefaultHistoryDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Analyzer{cfg: cfg, deps: deps, logger: logger}, nil
}

// Analyze runs one cycle for symbol. Market conditions that rule out a trade
// are not errors: they produce a result with a non-selected status. Errors
// mean the inputs could not be fetched or the result could not be saved.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (*models.AnalysisResult, error) {
	log := a.logger.WithField("symbol", symbol)

	report, err := a.report(ctx, symbol)
	if err != nil {
		return nil, err
	}
	res := &models.AnalysisResult{
		ID:        uuid.New().String(),
		Symbol:    report.Symbol(),
		CreatedAt: a.cfg.Now(),
		Market:    report.Snapshot(),
	}

	ranked, err := scoring.Rank(report, a.cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("rank %s: %w", symbol, err)
	}
	for _, r := range ranked {
		res.Scores = append(res.Scores, models.StrategyScore{
			Strategy:    r.Strategy,
			Score:       r.Score,
			Explanation: r.Explanation(),
		})
	}

	switch {
	case !report.CanTrade():
		res.Status = models.StatusNoTrade
		res.Explanation = report.NoTradeExplanation()
	default:
		a.selectStrategy(ctx, report, ranked, res)
	}

	log.WithFields(logrus.Fields{
		"status":    res.Status,
		"top_score": res.TopScore(),
	}).Info(res.Explanation)

	if a.deps.Sink != nil {
		if err := a.deps.Sink.SaveAnalysis(res); err != nil {
			return res, fmt.Errorf("save analysis for %s: %w", symbol, err)
		}
	}
	return res, nil
}

func (a *Analyzer) report(ctx context.Context, symbol string) (*market.Report, error) {
	quote, err := a.deps.Quotes.Quote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	metrics, err := a.deps.Quotes.Metrics(ctx, symbol)
	if err != nil {
		a.logger.WithError(err).WithField("symbol", symbol).Warn("metrics unavailable, continuing without")
		metrics = nil
	}
	history, err := a.deps.Quotes.History(ctx, symbol, a.cfg.HistoryDays)
	if err != nil {
		a.logger.WithError(err).WithField("symbol", symbol).Warn("history unavailable, technical data disabled")
		history = nil
	}
	return a.deps.Builder.Build(quote, metrics, history)
}

// candidates returns the strategies eligible for strike matching, best first.
func (a *Analyzer) candidates(ranked []scoring.Ranked) []scoring.Ranked {
	var out []scoring.Ranked
	for _, r := range ranked {
		if r.Score >= a.cfg.MinScore {
			out = append(out, r)
		}
	}
	force := a.deps.Planner.Parameters().Mode == strategy.ModeForce
	if len(out) == 0 && force && len(ranked) > 0 && ranked[0].Score > 0 {
		out = ranked[:1]
	}
	return out
}

func (a *Analyzer) selectStrategy(ctx context.Context, report *market.Report, ranked []scoring.Ranked, res *models.AnalysisResult) {
	cands := a.candidates(ranked)
	if len(cands) == 0 {
		res.Status = models.StatusNoCandidate
		res.Explanation = fmt.Sprintf("no strategy reached minimum score %.0f (best %.1f)", a.cfg.MinScore, res.TopScore())
		return
	}

	expirations, err := a.deps.Chains.Expirations(ctx, report.Symbol())
	if err != nil {
		res.Status = models.StatusNoStrikes
		res.Explanation = fmt.Sprintf("expirations unavailable: %v", err)
		return
	}
	window := a.window(expirations)
	chains := newChainCache(a.deps.Chains, report.Symbol())

	for _, c := range cands {
		plan, exp := a.match(ctx, c.Strategy, report, window, expirations, chains)
		if plan == nil {
			continue
		}
		a.fill(ctx, res, c, plan, exp)
		return
	}
	res.Status = models.StatusNoStrikes
	res.Explanation = fmt.Sprintf("no expiration in %d-%d DTE produced acceptable strikes for %d candidate(s)",
		a.deps.Planner.Parameters().MinDTE, a.deps.Planner.Parameters().MaxDTE, len(cands))
}

// window returns expirations inside the DTE range ordered by distance to the
// target DTE, nearer expirations first on ties.
func (a *Analyzer) window(expirations []time.Time) []time.Time {
	p := a.deps.Planner.Parameters()
	now := a.cfg.Now()
	target := p.EffectiveTargetDTE()
	var out []time.Time
	for _, exp := range expirations {
		dte := models.DaysBetween(now, exp)
		if exp.Before(now) || dte < p.MinDTE || dte > p.MaxDTE {
			continue
		}
		out = append(out, exp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di := abs(models.DaysBetween(now, out[i]) - target)
		dj := abs(models.DaysBetween(now, out[j]) - target)
		if di != dj {
			return di < dj
		}
		return out[i].Before(out[j])
	})
	return out
}

// match walks the window until the planner accepts an expiration.
func (a *Analyzer) match(ctx context.Context, st models.StrategyType, report *market.Report, window, all []time.Time, chains *chainCache) (*strategy.Plan, time.Time) {
	log := a.logger.WithFields(logrus.Fields{"symbol": report.Symbol(), "strategy": st.String()})
	for _, exp := range window {
		if ctx.Err() != nil {
			return nil, time.Time{}
		}
		chain, err := chains.get(ctx, exp)
		if err != nil {
			log.WithError(err).WithField("expiration", exp.Format("2006-01-02")).Warn("chain unavailable")
			continue
		}
		var back *models.OptionChain
		if st == models.CalendarSpread {
			backExp, ok := backMonth(all, exp)
			if !ok {
				continue
			}
			if back, err = chains.get(ctx, backExp); err != nil {
				log.WithError(err).Warn("back-month chain unavailable")
				continue
			}
		}
		plan, ok, err := a.deps.Planner.Plan(st, report, chain, back)
		if err != nil {
			log.WithError(err).Error("plan failed")
			return nil, time.Time{}
		}
		if ok {
			return plan, exp
		}
		log.WithField("expiration", exp.Format("2006-01-02")).Debug("expiration rejected, trying next")
	}
	return nil, time.Time{}
}

func (a *Analyzer) fill(ctx context.Context, res *models.AnalysisResult, c scoring.Ranked, plan *strategy.Plan, exp time.Time) {
	st := c.Strategy
	sel := plan.Match.Selection()
	res.Status = models.StatusSelected
	res.Selected = &st
	res.Expiration = &exp
	res.Strikes = &sel
	res.Composition = plan.Composition
	res.Quantity = plan.Quantity
	res.NetPremium = plan.NetPremium
	res.LimitPrice = plan.LimitPrice
	res.MaxRisk = plan.MaxRisk
	res.MaxProfit = plan.MaxProfit
	res.Explanation = fmt.Sprintf("%s scored %.1f: %s", st, c.Score, c.Explanation())

	req, err := a.deps.Policy.Requirements(st)
	if err != nil {
		a.logger.WithError(err).WithField("strategy", st.String()).Error("risk requirements unavailable")
		return
	}
	res.Risk = &req
	if !req.RequiresMarginCheck {
		return
	}
	if a.deps.Margin == nil {
		a.logger.WithField("strategy", st.String()).Warn("margin check required but no checker configured")
		return
	}
	check, err := a.deps.Margin.CheckMargin(ctx, plan.Composition, plan.Quantity, plan.LimitPrice)
	if err != nil {
		res.Status = models.StatusMarginRejected
		res.Explanation = fmt.Sprintf("margin dry run failed: %v", err)
		return
	}
	res.Margin = check
	if !check.Approved {
		res.Status = models.StatusMarginRejected
		res.Explanation = fmt.Sprintf("margin dry run rejected %s: %s", st, check.Reason)
	}
}

// AnalyzeAll analyzes symbols in parallel. A failing symbol is logged and
// skipped; it does not cancel the others. Results keep the input order.
func (a *Analyzer) AnalyzeAll(ctx context.Context, symbols []string) ([]*models.AnalysisResult, error) {
	results := make([]*models.AnalysisResult, len(symbols))
	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for i, symbol := range symbols {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := a.Analyze(ctx, symbol)
			if err != nil {
				a.logger.WithError(err).WithField("symbol", symbol).Error("analysis failed")
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*models.AnalysisResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, ctx.Err()
}

// backMonth returns the first expiration at least calendarGapDays after front.
func backMonth(all []time.Time, front time.Time) (time.Time, bool) {
	sorted := append([]time.Time(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for _, exp := range sorted {
		if exp.After(front) && models.DaysBetween(front, exp) >= calendarGapDays {
			return exp, true
		}
	}
	return time.Time{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
