// Command strategist runs the options strategy decision engine on a schedule
// and serves its results over a read-only API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategist/internal/api"
	"github.com/eddiefleurent/strategist/internal/broker"
	"github.com/eddiefleurent/strategist/internal/config"
	"github.com/eddiefleurent/strategist/internal/engine"
	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/mock"
	"github.com/eddiefleurent/strategist/internal/retry"
	"github.com/eddiefleurent/strategist/internal/risk"
	"github.com/eddiefleurent/strategist/internal/scheduler"
	"github.com/eddiefleurent/strategist/internal/storage"
	"github.com/eddiefleurent/strategist/internal/strategy"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired components.
type App struct {
	config  *config.Config
	logger  *logrus.Logger
	storage storage.Interface
	breaker *broker.CircuitBreakerBroker
	cycle   *AnalysisCycle
	api     *api.Server
}

func main() {
	var configPath string
	var once bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single analysis cycle and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.Infof("Starting strategist in %s mode", cfg.Environment.Mode)
	if !cfg.IsPaperTrading() {
		logger.Warn("LIVE mode: margin checks run against the live account")
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, once); err != nil {
		logger.Errorf("Strategist error: %v", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("Strategist stopped successfully")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// NewApp wires storage, broker, analyzer and API from cfg.
func NewApp(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	store, err := storage.NewStorage(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	b := newBroker(cfg, logger)
	cb := broker.NewCircuitBreakerBroker(b, logger)
	rc := retry.NewClient(logger, retry.Config{
		MaxRetries: cfg.Broker.MaxRetries,
		Timeout:    cfg.Broker.Timeout(),
	})
	md := broker.NewMarketData(cb, rc, store, cfg.Broker.Provider, logger)

	planner, err := strategy.NewPlanner(cfg.Vertical, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	policy := risk.NewPolicy(logger)
	optIns, err := cfg.Risk.Strategies()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	for _, st := range optIns {
		if err := policy.OptIn(st, cfg.Risk.AcknowledgeUnlimitedRisk); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	strategies, err := cfg.Analysis.StrategyTypes()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	analyzer, err := engine.NewAnalyzer(engine.Config{
		Strategies:     strategies,
		MinScore:       cfg.Analysis.MinScore,
		MaxConcurrency: cfg.Analysis.MaxConcurrency,
		HistoryDays:    cfg.Analysis.HistoryDays,
	}, engine.Deps{
		Quotes:  md,
		Chains:  md,
		Builder: market.NewBuilder(cfg.Analysis.BuilderConfig(), logger),
		Planner: planner,
		Policy:  policy,
		Sink:    store,
		Margin:  md,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app := &App{
		config:  cfg,
		logger:  logger,
		storage: store,
		breaker: cb,
		cycle:   NewAnalysisCycle(cfg, cb, analyzer, logger),
	}
	if cfg.API.Enabled {
		app.api = api.NewServer(api.Config{Port: cfg.API.Port, AuthToken: cfg.API.AuthToken}, store, cb, logger)
	}
	return app, nil
}

func newBroker(cfg *config.Config, logger *logrus.Logger) broker.Broker {
	if cfg.Broker.Provider == "mock" {
		logger.Infof("Using mock broker (seed %d)", cfg.Broker.MockSeed)
		return mock.NewDataProvider(cfg.Broker.MockSeed, mock.WithBuyingPower(cfg.Broker.MockBuyingPower))
	}
	var limits broker.RateLimits
	if rl := cfg.Broker.RateLimit; rl > 0 {
		limits = broker.RateLimits{MarketData: rl, Trading: rl, Standard: rl}
	}
	client := broker.NewTradierClient(cfg.Broker.APIKey, cfg.Broker.AccountID, cfg.Broker.Sandbox, cfg.Broker.APIEndpoint, limits)
	client.WithLogger(logger)
	return client
}

// Run executes one cycle immediately, then on the cron schedule until ctx
// is canceled. With once set it returns after the first cycle.
func (a *App) Run(ctx context.Context, once bool) error {
	sched := scheduler.New(a.config.Location(), a.logger)

	if once {
		return sched.RunNow(ctx, a.cycle)
	}

	if err := sched.AddJob(a.config.Schedule.Cron, a.cycle); err != nil {
		return err
	}

	apiErr := make(chan error, 1)
	if a.api != nil {
		go func() { apiErr <- a.api.Start() }()
	}

	if err := sched.RunNow(ctx, a.cycle); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Warn("Initial cycle failed")
	}
	sched.Start()
	if next, ok := sched.Next(); ok {
		a.logger.WithField("next", next.Format(time.RFC3339)).Info("Waiting for next scheduled cycle")
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received, stopping strategist...")
	case err := <-apiErr:
		if err != nil {
			runErr = fmt.Errorf("api server: %w", err)
		}
	}

	sched.Stop()
	if a.api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.api.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("API shutdown failed")
		}
	}
	return runErr
}

// Close releases storage. Safe to call more than once.
func (a *App) Close() {
	if a.storage == nil {
		return
	}
	if err := a.storage.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close storage")
	}
	a.storage = nil
}
