// Command integration runs an end-to-end check of the strategist against the
// Tradier sandbox. It never places orders; margin checks use the preview
// endpoint only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategist/internal/broker"
	"github.com/eddiefleurent/strategist/internal/config"
	"github.com/eddiefleurent/strategist/internal/engine"
	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/retry"
	"github.com/eddiefleurent/strategist/internal/storage"
	"github.com/eddiefleurent/strategist/internal/strategy"
)

type harness struct {
	cfg      *config.Config
	logger   *logrus.Logger
	broker   broker.Broker
	data     *broker.MarketData
	builder  *market.Builder
	planner  *strategy.Planner
	store    storage.Interface
	analyzer *engine.Analyzer
	symbol   string
}

type check struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	fmt.Println("=== Strategist - End-to-End Integration Test ===")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsPaperTrading() {
		logrus.Fatal("Integration tests must run in paper mode. Set environment.mode: 'paper' in config.yaml")
	}
	if cfg.Broker.Provider != "tradier" {
		logrus.Fatal("Integration tests need broker.provider: 'tradier'")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	dir, err := os.MkdirTemp("", "strategist-e2e-")
	if err != nil {
		logger.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("Failed to clean up %s: %v", dir, err)
		}
	}()

	h, err := newHarness(cfg, logger, filepath.Join(dir, "e2e.db"))
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer func() { _ = h.store.Close() }()

	fmt.Println("All components initialized successfully")
	fmt.Println()

	if failed := h.runAll(); failed > 0 {
		fmt.Printf("%d check(s) failed - review issues before relying on the engine\n", failed)
		_ = h.store.Close()
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}
	fmt.Println("ALL CHECKS PASSED")
}

func newHarness(cfg *config.Config, logger *logrus.Logger, dbPath string) (*harness, error) {
	// Force the sandbox regardless of the configured endpoint.
	client := broker.NewTradierClient(cfg.Broker.APIKey, cfg.Broker.AccountID, true, "", broker.RateLimits{})
	client.WithLogger(logger)
	b := broker.NewCircuitBreakerBroker(client, logger)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	rc := retry.NewClient(logger, retry.Config{MaxRetries: cfg.Broker.MaxRetries, Timeout: cfg.Broker.Timeout()})
	md := broker.NewMarketData(b, rc, store, "tradier-sandbox", logger)

	planner, err := strategy.NewPlanner(cfg.Vertical, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	builder := market.NewBuilder(cfg.Analysis.BuilderConfig(), logger)
	analyzer, err := engine.NewAnalyzer(engine.Config{
		MinScore:    cfg.Analysis.MinScore,
		HistoryDays: cfg.Analysis.HistoryDays,
	}, engine.Deps{Quotes: md, Chains: md, Builder: builder, Planner: planner, Sink: store, Margin: md}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &harness{
		cfg:      cfg,
		logger:   logger,
		broker:   b,
		data:     md,
		builder:  builder,
		planner:  planner,
		store:    store,
		analyzer: analyzer,
		symbol:   cfg.Analysis.Symbols[0],
	}, nil
}

func (h *harness) runAll() int {
	checks := []check{
		{"Broker Connectivity", h.testBrokerConnectivity},
		{"Market Data Retrieval", h.testMarketDataRetrieval},
		{"Market Report", h.testMarketReport},
		{"Margin Preview", h.testMarginPreview},
		{"Result Storage", h.testResultStorage},
		{"Full Analysis", h.testFullAnalysis},
	}

	failed := 0
	for i, c := range checks {
		title := fmt.Sprintf("Test %d: %s", i+1, c.name)
		fmt.Println(title)
		fmt.Println(strings.Repeat("=", len(title)))

		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		err := c.run(ctx)
		cancel()
		if err != nil {
			failed++
			h.logger.WithError(err).Error(c.name)
			fmt.Println("FAILED")
		} else {
			fmt.Println("PASSED")
		}
		fmt.Println()
	}

	fmt.Println("=== Integration Test Results ===")
	fmt.Printf("Tests Passed: %d/%d\n", len(checks)-failed, len(checks))
	return failed
}

func (h *harness) testBrokerConnectivity(ctx context.Context) error {
	bp, err := h.broker.GetOptionBuyingPower(ctx)
	if err != nil {
		return fmt.Errorf("broker connectivity: %w", err)
	}
	h.logger.Infof("Option buying power: $%.2f", bp)
	return nil
}

func (h *harness) testMarketDataRetrieval(ctx context.Context) error {
	quote, err := h.data.Quote(ctx, h.symbol)
	if err != nil {
		return err
	}
	h.logger.Infof("%s last: $%.2f", h.symbol, quote.Last)

	exps, err := h.data.Expirations(ctx, h.symbol)
	if err != nil {
		return err
	}
	if len(exps) == 0 {
		return errors.New("no expirations listed")
	}
	h.logger.Infof("Found %d expirations", len(exps))

	chain, err := h.data.Chain(ctx, h.symbol, exps[0])
	if err != nil {
		return err
	}
	h.logger.Infof("Found %d strikes for %s", len(chain.Strikes), exps[0].Format("2006-01-02"))
	return nil
}

func (h *harness) report(ctx context.Context) (*market.Report, error) {
	quote, err := h.data.Quote(ctx, h.symbol)
	if err != nil {
		return nil, err
	}
	metrics, err := h.data.Metrics(ctx, h.symbol)
	if err != nil {
		h.logger.WithError(err).Warn("Metrics unavailable")
	}
	history, err := h.data.History(ctx, h.symbol, h.cfg.Analysis.HistoryDays)
	if err != nil {
		return nil, err
	}
	return h.builder.Build(quote, metrics, history)
}

func (h *harness) testMarketReport(ctx context.Context) error {
	r, err := h.report(ctx)
	if err != nil {
		return err
	}
	regime, confidence := r.Regime()
	h.logger.WithFields(logrus.Fields{
		"regime":     regime,
		"confidence": confidence,
		"can_trade":  r.CanTrade(),
	}).Info("Market report built")
	return nil
}

// testMarginPreview plans the configured vertical on the first expiration
// inside the DTE window and previews it.
func (h *harness) testMarginPreview(ctx context.Context) error {
	r, err := h.report(ctx)
	if err != nil {
		return err
	}
	st, err := h.planner.Parameters().Strategy()
	if err != nil {
		return err
	}
	exps, err := h.data.Expirations(ctx, h.symbol)
	if err != nil {
		return err
	}

	params := h.planner.Parameters()
	now := time.Now()
	for _, exp := range exps {
		dte := int(exp.Sub(now).Hours() / 24)
		if dte < params.MinDTE || dte > params.MaxDTE {
			continue
		}
		chain, err := h.data.Chain(ctx, h.symbol, exp)
		if err != nil {
			return err
		}
		plan, ok, err := h.planner.Plan(st, r, chain, nil)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		check, err := h.data.CheckMargin(ctx, plan.Composition, plan.Quantity, plan.LimitPrice)
		if err != nil {
			return fmt.Errorf("margin preview: %w", err)
		}
		h.logger.WithFields(logrus.Fields{
			"strategy":   st.String(),
			"expiration": exp.Format("2006-01-02"),
			"limit":      plan.LimitPrice.StringFixed(2),
			"approved":   check.Approved,
			"reason":     check.Reason,
		}).Info("Margin preview")
		return nil
	}
	return fmt.Errorf("no expiration in [%d,%d] DTE produced a %s plan", params.MinDTE, params.MaxDTE, st)
}

func (h *harness) testResultStorage(_ context.Context) error {
	res := &models.AnalysisResult{
		ID:          uuid.New().String(),
		Symbol:      h.symbol,
		CreatedAt:   time.Now().UTC(),
		Status:      models.StatusNoCandidate,
		Explanation: "integration check",
	}
	if err := h.store.SaveAnalysis(res); err != nil {
		return err
	}
	got, err := h.store.GetAnalysis(res.ID)
	if err != nil {
		return err
	}
	if got.Symbol != res.Symbol || got.Status != res.Status {
		return fmt.Errorf("round trip mismatch: %+v", got)
	}
	return nil
}

func (h *harness) testFullAnalysis(ctx context.Context) error {
	results, err := h.analyzer.AnalyzeAll(ctx, h.cfg.Analysis.Symbols)
	if err != nil {
		return err
	}
	if len(results) != len(h.cfg.Analysis.Symbols) {
		return fmt.Errorf("analyzed %d of %d symbols", len(results), len(h.cfg.Analysis.Symbols))
	}
	for _, r := range results {
		h.logger.WithFields(logrus.Fields{
			"symbol":    r.Symbol,
			"status":    r.Status,
			"top_score": r.TopScore(),
		}).Info(r.Explanation)
	}
	return nil
}
