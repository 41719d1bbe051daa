package broker

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

func TestCalculateIVR(t *testing.T) {
	tests := []struct {
		name         string
		historicalIV []float64
		currentIV    float64
		expected     float64
	}{
		{
			name:         "normal range",
			currentIV:    25.0,
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0, 35.0, 40.0},
			expected:     50.0, // (25-10)/(40-10) * 100 = 50
		},
		{
			name:         "at minimum",
			currentIV:    10.0,
			historicalIV: []float64{10.0, 20.0, 30.0},
			expected:     0.0, // (10-10)/(30-10) * 100 = 0
		},
		{
			name:         "at maximum",
			currentIV:    30.0,
			historicalIV: []float64{10.0, 20.0, 30.0},
			expected:     100.0, // (30-10)/(30-10) * 100 = 100
		},
		{
			name:         "no range (all same)",
			currentIV:    20.0,
			historicalIV: []float64{20.0, 20.0, 20.0},
			expected:     0.0, // Return 0 when min=max (no volatility range)
		},
		{
			name:         "empty history",
			currentIV:    20.0,
			historicalIV: []float64{},
			expected:     0.0,
		},
		{
			name:         "high IV rank",
			currentIV:    35.0,
			historicalIV: []float64{15.0, 20.0, 25.0, 30.0, 40.0},
			expected:     80.0, // (35-15)/(40-15) * 100 = 80
		},
		{
			name:         "monotonic bounds - current IV below historical min",
			currentIV:    5.0,
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0},
			expected:     0.0, // Should clamp to 0 when current IV < min historical
		},
		{
			name:         "monotonic bounds - current IV above historical max",
			currentIV:    50.0,
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0},
			expected:     100.0, // Should clamp to 100 when current IV > max historical
		},
		{
			name:         "monotonic bounds - negative current IV",
			currentIV:    -5.0,
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0},
			expected:     0.0, // Should clamp to 0 for negative current IV
		},
		{
			name:         "monotonic bounds - extreme high current IV",
			currentIV:    1000.0,
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0},
			expected:     100.0, // Should clamp to 100 for extremely high current IV
		},
		{
			name:         "robustness - current IV is NaN",
			currentIV:    math.NaN(),
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0},
			expected:     0.0, // Should return 0 for NaN current IV
		},
		{
			name:         "robustness - current IV is +Inf",
			currentIV:    math.Inf(1),
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0},
			expected:     100.0, // Should clamp to 100 for +Inf current IV
		},
		{
			name:         "robustness - current IV is +Inf without history",
			currentIV:    math.Inf(1),
			historicalIV: []float64{math.NaN()},
			expected:     0.0,
		},
		{
			name:         "robustness - current IV is -Inf",
			currentIV:    math.Inf(-1),
			historicalIV: []float64{10.0, 15.0, 20.0, 25.0, 30.0},
			expected:     0.0, // Should clamp to 0 for -Inf current IV
		},
		{
			name:         "robustness - historical IV contains NaN",
			currentIV:    20.0,
			historicalIV: []float64{10.0, math.NaN(), 20.0, 25.0, 30.0},
			expected:     50.0, // Should filter out NaN and compute: (20-10)/(30-10) * 100 = 50
		},
		{
			name:         "robustness - historical IV contains Inf",
			currentIV:    20.0,
			historicalIV: []float64{10.0, math.Inf(1), 20.0, 25.0, 30.0},
			expected:     50.0, // Should filter out Inf and compute: (20-10)/(30-10) * 100 = 50
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIVR(tt.currentIV, tt.historicalIV)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("CalculateIVR(%v, %v) = %v, want %v",
					tt.currentIV, tt.historicalIV, result, tt.expected)
			}
		})
	}
}

func TestCalculateIVPercentile(t *testing.T) {
	tests := []struct {
		name         string
		currentIV    float64
		historicalIV []float64
		expected     float64
	}{
		{"middle", 0.20, []float64{0.10, 0.15, 0.25, 0.30}, 50},
		{"below all", 0.05, []float64{0.10, 0.15}, 0},
		{"above all", 0.50, []float64{0.10, 0.15, 0.20, 0.25}, 100},
		{"ties are not below", 0.20, []float64{0.20, 0.20}, 0},
		{"empty", 0.20, nil, 0},
		{"NaN current", math.NaN(), []float64{0.10}, 0},
		{"+Inf current", math.Inf(1), []float64{0.10, 0.20}, 100},
		{"-Inf current", math.Inf(-1), []float64{0.10, 0.20}, 0},
		{"invalid history filtered", 0.20, []float64{0.10, math.NaN(), math.Inf(1), 0.30}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateIVPercentile(tt.currentIV, tt.historicalIV); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CalculateIVPercentile(%v, %v) = %v, want %v", tt.currentIV, tt.historicalIV, got, tt.expected)
			}
		})
	}
}

// countingBroker succeeds for the first failAfter calls when shouldFail is set.
type countingBroker struct {
	mu         sync.Mutex
	callCount  int
	shouldFail bool
	failAfter  int
	err        error
}

func (m *countingBroker) call() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.shouldFail && m.callCount > m.failAfter {
		if m.err != nil {
			return m.err
		}
		return errors.New("mock broker error")
	}
	return nil
}

func (m *countingBroker) setFail(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = v
}

func (m *countingBroker) GetQuote(_ context.Context, symbol string) (*QuoteItem, error) {
	if err := m.call(); err != nil {
		return nil, err
	}
	return &QuoteItem{Symbol: symbol, Last: 450}, nil
}

func (m *countingBroker) GetExpirations(_ context.Context, _ string) ([]string, error) {
	if err := m.call(); err != nil {
		return nil, err
	}
	return []string{"2024-12-20"}, nil
}

func (m *countingBroker) GetOptionChain(_ context.Context, _, _ string, _ bool) ([]Option, error) {
	if err := m.call(); err != nil {
		return nil, err
	}
	return []Option{{Symbol: "SPY241220P00450000", OptionType: "put", Strike: 450}}, nil
}

func (m *countingBroker) GetHistoricalData(_ context.Context, _, _ string, _, _ time.Time) ([]HistoricalDataPoint, error) {
	if err := m.call(); err != nil {
		return nil, err
	}
	return []HistoricalDataPoint{{Close: 450}}, nil
}

func (m *countingBroker) GetMarketClock(_ context.Context, _ bool) (*MarketClockResponse, error) {
	if err := m.call(); err != nil {
		return nil, err
	}
	resp := &MarketClockResponse{}
	resp.Clock.State = "open"
	return resp, nil
}

func (m *countingBroker) IsTradingDay(_ context.Context, _ bool) (bool, error) {
	if err := m.call(); err != nil {
		return false, err
	}
	return true, nil
}

func (m *countingBroker) GetOptionBuyingPower(_ context.Context) (float64, error) {
	if err := m.call(); err != nil {
		return 0, err
	}
	return 5000.0, nil
}

func (m *countingBroker) PreviewMultilegOrder(_ context.Context, _ MultilegOrder) (*OrderResponse, error) {
	if err := m.call(); err != nil {
		return nil, err
	}
	return &OrderResponse{Order: Order{Status: "ok", MarginChange: 500}}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewCircuitBreakerBroker(t *testing.T) {
	mockBroker := &countingBroker{}
	cb := NewCircuitBreakerBroker(mockBroker, nil)

	if cb == nil {
		t.Fatal("NewCircuitBreakerBroker returned nil")
	}
	if cb.broker != mockBroker {
		t.Error("CircuitBreakerBroker.broker not set correctly")
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("initial state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerBroker_AllMethods(t *testing.T) {
	ctx := context.Background()
	mockBroker := &countingBroker{}
	cb := NewCircuitBreakerBroker(mockBroker, quietLogger())

	tests := []struct {
		name string
		fn   func() error
	}{
		{"GetQuote", func() error { _, err := cb.GetQuote(ctx, "SPY"); return err }},
		{"GetExpirations", func() error { _, err := cb.GetExpirations(ctx, "SPY"); return err }},
		{"GetOptionChain", func() error { _, err := cb.GetOptionChain(ctx, "SPY", "2024-12-20", true); return err }},
		{"GetHistoricalData", func() error {
			_, err := cb.GetHistoricalData(ctx, "SPY", "daily", time.Now().AddDate(0, 0, -5), time.Now())
			return err
		}},
		{"GetMarketClock", func() error { _, err := cb.GetMarketClock(ctx, false); return err }},
		{"IsTradingDay", func() error { _, err := cb.IsTradingDay(ctx, false); return err }},
		{"GetOptionBuyingPower", func() error { _, err := cb.GetOptionBuyingPower(ctx); return err }},
		{"PreviewMultilegOrder", func() error { _, err := cb.PreviewMultilegOrder(ctx, MultilegOrder{}); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Errorf("%s failed: %v", tt.name, err)
			}
		})
	}
	if mockBroker.callCount != len(tests) {
		t.Errorf("broker calls = %d, want %d", mockBroker.callCount, len(tests))
	}
}

func TestCircuitBreakerBroker_FailureScenarios(t *testing.T) {
	mockBroker := &countingBroker{shouldFail: true, failAfter: 3}
	testSettings := CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  4,
		FailureRatio: 0.5,
	}
	cb := NewCircuitBreakerBrokerWithSettings(mockBroker, testSettings, quietLogger())
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := cb.GetQuote(ctx, "SPY")
		if i < 3 && err != nil {
			t.Errorf("call %d should succeed but failed: %v", i+1, err)
		}
		if i >= 3 && err == nil {
			t.Errorf("call %d should fail but succeeded", i+1)
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("circuit breaker should be open, but state is %s", cb.State())
	}
	if _, err := cb.GetQuote(ctx, "SPY"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected gobreaker.ErrOpenState but got: %v", err)
	}
}

func TestCircuitBreakerBroker_RecoveryBehavior(t *testing.T) {
	mockBroker := &countingBroker{shouldFail: true}
	fastSettings := CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      15 * time.Millisecond,
		MinRequests:  2,
		FailureRatio: 0.6,
	}
	cb := NewCircuitBreakerBrokerWithSettings(mockBroker, fastSettings, quietLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = cb.GetOptionBuyingPower(ctx)
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("circuit breaker should be open, but state is %s", cb.State())
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for cb.State() != gobreaker.StateHalfOpen {
		if time.Now().After(deadline) {
			t.Fatalf("circuit breaker did not transition to half-open")
		}
		time.Sleep(time.Millisecond)
	}

	mockBroker.setFail(false)
	bp, err := cb.GetOptionBuyingPower(ctx)
	if err != nil {
		t.Fatalf("recovery call should succeed but failed: %v", err)
	}
	if bp != 5000.0 {
		t.Errorf("recovery call returned %v, want 5000", bp)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state after recovery = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerBroker_CanceledCallsDoNotTrip(t *testing.T) {
	mockBroker := &countingBroker{shouldFail: true, err: context.Canceled}
	settings := CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  1,
		FailureRatio: 0.1,
	}
	cb := NewCircuitBreakerBrokerWithSettings(mockBroker, settings, quietLogger())

	for i := 0; i < 5; i++ {
		if _, err := cb.GetQuote(context.Background(), "SPY"); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
}
