package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategist/internal/config"
	"github.com/eddiefleurent/strategist/internal/models"
)

type marketClock interface {
	IsTradingDay(ctx context.Context, delayed bool) (bool, error)
}

type symbolAnalyzer interface {
	AnalyzeAll(ctx context.Context, symbols []string) ([]*models.AnalysisResult, error)
}

// AnalysisCycle is the scheduled job: gate on market hours, then analyze
// every configured symbol.
type AnalysisCycle struct {
	config   *config.Config
	clock    marketClock
	analyzer symbolAnalyzer
	logger   *logrus.Logger
	now      func() time.Time
}

// NewAnalysisCycle creates the scheduled analysis job.
func NewAnalysisCycle(cfg *config.Config, clock marketClock, analyzer symbolAnalyzer, logger *logrus.Logger) *AnalysisCycle {
	return &AnalysisCycle{
		config:   cfg,
		clock:    clock,
		analyzer: analyzer,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *AnalysisCycle) Name() string { return "analysis" }

// Run executes one analysis cycle.
func (c *AnalysisCycle) Run(ctx context.Context) error {
	now := c.now().In(c.config.Location())

	if !c.config.Schedule.AfterHoursCheck {
		if !c.checkMarketSchedule(now) {
			return nil
		}
		open, err := c.checkMarketStatus(ctx)
		if err != nil {
			return err
		}
		if !open {
			c.logger.Info("Market closed today, skipping cycle")
			return nil
		}
	}

	c.logger.WithField("symbols", c.config.Analysis.Symbols).Info("Starting analysis cycle...")
	results, err := c.analyzer.AnalyzeAll(ctx, c.config.Analysis.Symbols)
	c.logSummary(results)
	if err != nil {
		return fmt.Errorf("analysis cycle: %w", err)
	}
	c.logger.Info("Analysis cycle complete")
	return nil
}

func (c *AnalysisCycle) checkMarketSchedule(now time.Time) bool {
	if c.config.IsWithinTradingHours(now) {
		return true
	}
	c.logger.Debugf("Outside trading hours (%s - %s), skipping cycle",
		c.config.Schedule.TradingStart, c.config.Schedule.TradingEnd)
	return false
}

func (c *AnalysisCycle) checkMarketStatus(ctx context.Context) (bool, error) {
	if c.clock == nil {
		return true, nil
	}
	open, err := c.clock.IsTradingDay(ctx, false)
	if err != nil {
		return false, fmt.Errorf("checking market status: %w", err)
	}
	return open, nil
}

func (c *AnalysisCycle) logSummary(results []*models.AnalysisResult) {
	selected := 0
	for _, r := range results {
		fields := logrus.Fields{
			"symbol":    r.Symbol,
			"status":    r.Status,
			"top_score": r.TopScore(),
		}
		if r.HasSelection() {
			selected++
			if r.Selected != nil {
				fields["strategy"] = r.Selected.String()
			}
			fields["limit"] = r.LimitPrice.StringFixed(2)
			fields["max_risk"] = r.MaxRisk.StringFixed(2)
			if r.Expiration != nil {
				fields["expiration"] = r.Expiration.Format("2006-01-02")
			}
		}
		c.logger.WithFields(fields).Info("Analysis result")
	}
	c.logger.WithFields(logrus.Fields{
		"analyzed": len(results),
		"selected": selected,
		"symbols":  len(c.config.Analysis.Symbols),
	}).Info("Cycle summary")
}
