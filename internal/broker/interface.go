package broker

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Broker defines the interface for interacting with a brokerage
type Broker interface {
	// Market data
	GetQuote(ctx context.Context, symbol string) (*QuoteItem, error)
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]Option, error)
	GetHistoricalData(ctx context.Context, symbol, interval string, start, end time.Time) ([]HistoricalDataPoint, error)
	GetMarketClock(ctx context.Context, delayed bool) (*MarketClockResponse, error)
	IsTradingDay(ctx context.Context, delayed bool) (bool, error)

	// Account
	GetOptionBuyingPower(ctx context.Context) (float64, error)

	// Order preview. Live placement is not part of this interface.
	PreviewMultilegOrder(ctx context.Context, order MultilegOrder) (*OrderResponse, error)
}

// TradierClient wraps TradierAPI to implement the Broker interface
type TradierClient struct {
	*TradierAPI
}

// Ensure TradierClient implements Broker at compile time.
var _ Broker = (*TradierClient)(nil)

// NewTradierClient creates a new Tradier broker client
func NewTradierClient(apiKey, accountID string, sandbox bool, baseURL string, limits RateLimits) *TradierClient {
	return &TradierClient{TradierAPI: NewTradierAPIWithBaseURL(apiKey, accountID, sandbox, baseURL, limits)}
}

// GetOptionBuyingPower returns the buying power available for option orders
func (t *TradierClient) GetOptionBuyingPower(ctx context.Context) (float64, error) {
	balance, err := t.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	return balance.GetOptionBuyingPower()
}

// PreviewMultilegOrder dry-runs an order; nothing is sent to the exchange
func (t *TradierClient) PreviewMultilegOrder(ctx context.Context, order MultilegOrder) (*OrderResponse, error) {
	return t.PlaceMultilegOrder(ctx, order, true)
}

// CalculateIVR calculates Implied Volatility Rank from historical data
func CalculateIVR(currentIV float64, historicalIVs []float64) float64 {
	if math.IsNaN(currentIV) {
		return 0
	}

	// Filter invalid historical values
	clean := make([]float64, 0, len(historicalIVs))
	for _, v := range historicalIVs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}

	if len(clean) == 0 {
		return 0
	}
	if math.IsInf(currentIV, 1) {
		return 100
	}
	if math.IsInf(currentIV, -1) {
		return 0
	}

	minIV := clean[0]
	maxIV := clean[0]

	for _, iv := range clean {
		if iv < minIV {
			minIV = iv
		}
		if iv > maxIV {
			maxIV = iv
		}
	}

	// IVR = (Current IV - period low) / (period high - period low) * 100
	if maxIV == minIV {
		return 0
	}
	r := ((currentIV - minIV) / (maxIV - minIV)) * 100
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// CalculateIVPercentile returns the share of historical readings below currentIV, 0-100.
func CalculateIVPercentile(currentIV float64, historicalIVs []float64) float64 {
	if math.IsNaN(currentIV) {
		return 0
	}
	total, below := 0, 0
	for _, v := range historicalIVs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		total++
		if v < currentIV {
			below++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(below) / float64(total) * 100
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker, logger logrus.FieldLogger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, DefaultCircuitBreakerSettings, logger)
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips at 60% failures over at least 5 calls.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// A canceled caller says nothing about broker health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State exposes the breaker state for health reporting.
func (c *CircuitBreakerBroker) State() gobreaker.State {
	return c.breaker.State()
}

// GetQuote wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*QuoteItem, error) { return b.GetQuote(ctx, symbol) })
}

// GetExpirations wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) { return b.GetExpirations(ctx, symbol) })
}

// GetOptionChain wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]Option, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Option, error) {
		return b.GetOptionChain(ctx, symbol, expiration, withGreeks)
	})
}

// GetHistoricalData wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetHistoricalData(ctx context.Context, symbol, interval string, start, end time.Time) ([]HistoricalDataPoint, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]HistoricalDataPoint, error) {
		return b.GetHistoricalData(ctx, symbol, interval, start, end)
	})
}

// GetMarketClock wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetMarketClock(ctx context.Context, delayed bool) (*MarketClockResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarketClockResponse, error) {
		return b.GetMarketClock(ctx, delayed)
	})
}

// IsTradingDay wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) IsTradingDay(ctx context.Context, delayed bool) (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) {
		return b.IsTradingDay(ctx, delayed)
	})
}

// GetOptionBuyingPower wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOptionBuyingPower(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetOptionBuyingPower(ctx)
	})
}

// PreviewMultilegOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PreviewMultilegOrder(ctx context.Context, order MultilegOrder) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PreviewMultilegOrder(ctx, order)
	})
}
