package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strategist/internal/models"
)

// QuoteSource supplies the underlying's quote, volatility metrics and
// daily price history.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	Metrics(ctx context.Context, symbol string) (*models.MarketMetrics, error)
	History(ctx context.Context, symbol string, days int) ([]models.PriceBar, error)
}

// ChainSource supplies listed expirations and per-expiration option chains.
type ChainSource interface {
	Expirations(ctx context.Context, symbol string) ([]time.Time, error)
	Chain(ctx context.Context, symbol string, expiration time.Time) (*models.OptionChain, error)
}

// ResultSink persists analysis results.
type ResultSink interface {
	SaveAnalysis(result *models.AnalysisResult) error
}

// MarginChecker runs a pre-trade dry run against the broker.
type MarginChecker interface {
	CheckMargin(ctx context.Context, comp *models.StrategyComposition, quantity int, limit decimal.Decimal) (*models.MarginCheck, error)
}

// MarketData is the combined read side most adapters implement.
type MarketData interface {
	QuoteSource
	ChainSource
}
