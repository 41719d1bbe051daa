package engine

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/risk"
	"github.com/eddiefleurent/strategist/internal/strategy"
)

// --- mocks ---

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Quote(_ context.Context, symbol string) (*models.Quote, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Quote), args.Error(1)
}

func (m *mockSource) Metrics(_ context.Context, symbol string) (*models.MarketMetrics, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MarketMetrics), args.Error(1)
}

func (m *mockSource) History(_ context.Context, symbol string, days int) ([]models.PriceBar, error) {
	args := m.Called(symbol, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PriceBar), args.Error(1)
}

func (m *mockSource) Expirations(_ context.Context, symbol string) ([]time.Time, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *mockSource) Chain(_ context.Context, symbol string, expiration time.Time) (*models.OptionChain, error) {
	args := m.Called(symbol, expiration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OptionChain), args.Error(1)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) SaveAnalysis(result *models.AnalysisResult) error {
	return m.Called(result).Error(0)
}

type mockMargin struct {
	mock.Mock
}

func (m *mockMargin) CheckMargin(_ context.Context, comp *models.StrategyComposition, quantity int, limit decimal.Decimal) (*models.MarginCheck, error) {
	args := m.Called(comp, quantity, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MarginCheck), args.Error(1)
}

// --- fixtures ---

const spot = 458.5

var now = time.Date(2024, 11, 8, 15, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func bars() []models.PriceBar {
	out := make([]models.PriceBar, 60)
	day := now.AddDate(0, 0, -60)
	for i := range out {
		c := 420 + 0.6*float64(i) + math.Sin(float64(i))*0.5
		out[i] = models.PriceBar{Date: day.AddDate(0, 0, i), Open: c - 0.3, High: c + 1.5, Low: c - 1.5, Close: c}
	}
	return out
}

// rangeBars oscillates around spot so support and resistance sit well clear
// of it on both sides.
func rangeBars() []models.PriceBar {
	out := make([]models.PriceBar, 60)
	day := now.AddDate(0, 0, -60)
	for i := range out {
		c := spot + 12*math.Sin(float64(i)*0.9)
		out[i] = models.PriceBar{Date: day.AddDate(0, 0, i), Open: c - 0.3, High: c + 1.5, Low: c - 1.5, Close: c}
	}
	return out
}

func optionQuote(cents int, delta float64) *models.OptionQuote {
	mid := float64(cents) / 100
	return &models.OptionQuote{Bid: mid, Ask: mid, Last: mid, Delta: &delta}
}

func chain(exp time.Time, strikes ...int) *models.OptionChain {
	if len(strikes) == 0 {
		for k := 400; k <= 500; k += 5 {
			strikes = append(strikes, k)
		}
	}
	c := &models.OptionChain{Symbol: "SPY", Expiration: exp}
	for _, k := range strikes {
		fk := float64(k)
		c.Strikes = append(c.Strikes, models.ChainStrike{
			Strike: decimal.NewFromInt(int64(k)),
			Put:    optionQuote(max((k-400)*10, 5), -(0.5 - (spot-fk)/100)),
			Call:   optionQuote(max((500-k)*10, 5), 0.5-(fk-spot)/100),
		})
	}
	return c
}

func expiry(days int) time.Time {
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func source(symbol string, metrics *models.MarketMetrics) *mockSource {
	return sourceWithHistory(symbol, metrics, bars())
}

func sourceWithHistory(symbol string, metrics *models.MarketMetrics, history []models.PriceBar) *mockSource {
	src := &mockSource{}
	src.On("Quote", symbol).Return(&models.Quote{Symbol: symbol, Last: spot, Open: 457, Timestamp: now.Add(-time.Minute)}, nil)
	if metrics == nil {
		metrics = &models.MarketMetrics{Symbol: symbol, IVRank: 40, IV30Day: 18, HV30Day: 15}
	}
	src.On("Metrics", symbol).Return(metrics, nil)
	src.On("History", symbol, DefaultHistoryDays).Return(history, nil)
	return src
}

type setup struct {
	strategies []models.StrategyType
	mode       strategy.GenerationMode
	minScore   float64
	src        *mockSource
	sink       *mockSink
	margin     MarginChecker
	policy     *risk.Policy
}

func newAnalyzer(t *testing.T, s setup) *Analyzer {
	t.Helper()
	params := strategy.DefaultVerticalParameters()
	if s.mode != "" {
		params.Mode = s.mode
	}
	logger := quietLogger()
	planner, err := strategy.NewPlanner(params, logger)
	require.NoError(t, err)

	bcfg := market.DefaultBuilderConfig()
	bcfg.Now = func() time.Time { return now }

	deps := Deps{
		Quotes:  s.src,
		Chains:  s.src,
		Builder: market.NewBuilder(bcfg, logger),
		Planner: planner,
		Policy:  s.policy,
		Margin:  s.margin,
	}
	if s.sink != nil {
		deps.Sink = s.sink
	}
	a, err := NewAnalyzer(Config{
		Strategies: s.strategies,
		MinScore:   s.minScore,
		Now:        func() time.Time { return now },
	}, deps, logger)
	require.NoError(t, err)
	return a
}

// --- tests ---

func TestNewAnalyzer_Validation(t *testing.T) {
	planner, err := strategy.NewPlanner(strategy.DefaultVerticalParameters(), quietLogger())
	require.NoError(t, err)
	src := &mockSource{}

	_, err = NewAnalyzer(Config{}, Deps{Chains: src, Planner: planner}, nil)
	assert.Error(t, err, "quote source is required")

	_, err = NewAnalyzer(Config{}, Deps{Quotes: src, Chains: src}, nil)
	assert.Error(t, err, "planner is required")

	_, err = NewAnalyzer(Config{Strategies: []models.StrategyType{models.NumStrategyTypes}},
		Deps{Quotes: src, Chains: src, Planner: planner}, nil)
	assert.Error(t, err, "unknown strategy must fail fast")

	a, err := NewAnalyzer(Config{}, Deps{Quotes: src, Chains: src, Planner: planner}, nil)
	require.NoError(t, err)
	assert.Len(t, a.cfg.Strategies, int(models.NumStrategyTypes))
	assert.Equal(t, DefaultMinScore, a.cfg.MinScore)
}

func TestAnalyze_SelectsAndSaves(t *testing.T) {
	src := source("SPY", nil)
	src.On("Expirations", "SPY").Return([]time.Time{expiry(7), expiry(40), expiry(70)}, nil)
	src.On("Chain", "SPY", expiry(40)).Return(chain(expiry(40)), nil).Once()
	sink := &mockSink{}
	sink.On("SaveAnalysis", mock.AnythingOfType("*models.AnalysisResult")).Return(nil).Once()

	a := newAnalyzer(t, setup{
		strategies: []models.StrategyType{models.BullPutSpread},
		mode:       strategy.ModeForce,
		src:        src,
		sink:       sink,
	})
	res, err := a.Analyze(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, models.StatusSelected, res.Status, res.Explanation)
	require.NotNil(t, res.Selected)
	assert.Equal(t, models.BullPutSpread, *res.Selected)
	require.NotNil(t, res.Expiration)
	assert.True(t, res.Expiration.Equal(expiry(40)))
	require.NotNil(t, res.Composition)
	assert.Equal(t, 2, res.Composition.Len())
	require.NotNil(t, res.Strikes)
	assert.True(t, res.Strikes.LongStrike.LessThan(res.Strikes.ShortStrike))
	require.NotNil(t, res.Risk)
	assert.Equal(t, models.RiskDefined, res.Risk.Profile)
	assert.True(t, res.Risk.AutomationEligible)
	assert.Equal(t, 1, res.Quantity)
	assert.NotEmpty(t, res.ID)
	assert.True(t, res.HasSelection())
	assert.Len(t, res.Scores, 1)

	src.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestAnalyze_NoTradeSkipsChains(t *testing.T) {
	earnings := now.AddDate(0, 0, 2)
	src := source("SPY", &models.MarketMetrics{Symbol: "SPY", IVRank: 60, IV30Day: 20, EarningsDate: &earnings})

	a := newAnalyzer(t, setup{src: src})
	res, err := a.Analyze(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, models.StatusNoTrade, res.Status)
	assert.Contains(t, res.Explanation, market.ReasonEarnings)
	assert.Zero(t, res.TopScore())
	assert.False(t, res.HasSelection())
	src.AssertNotCalled(t, "Expirations", mock.Anything)
}

func TestAnalyze_NoCandidate(t *testing.T) {
	src := source("SPY", nil)
	a := newAnalyzer(t, setup{src: src, minScore: 1000})

	res, err := a.Analyze(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoCandidate, res.Status)
	assert.Contains(t, res.Explanation, "minimum score")
	assert.Len(t, res.Scores, int(models.NumStrategyTypes))
	for i := 1; i < len(res.Scores); i++ {
		assert.GreaterOrEqual(t, res.Scores[i-1].Score, res.Scores[i].Score, "scores are ranked")
	}
	src.AssertNotCalled(t, "Expirations", mock.Anything)
}

func TestAnalyze_WalksWindowBeforeGivingUp(t *testing.T) {
	src := source("SPY", nil)
	src.On("Expirations", "SPY").Return([]time.Time{expiry(33), expiry(38), expiry(44)}, nil)
	for _, d := range []int{33, 38, 44} {
		src.On("Chain", "SPY", expiry(d)).Return(chain(expiry(d), 300, 600), nil).Once()
	}

	a := newAnalyzer(t, setup{
		strategies: []models.StrategyType{models.BullPutSpread},
		mode:       strategy.ModeForce,
		src:        src,
	})
	res, err := a.Analyze(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoStrikes, res.Status)
	assert.Nil(t, res.Composition)
	src.AssertExpectations(t)
}

func TestAnalyze_SkipsFailingChain(t *testing.T) {
	src := source("SPY", nil)
	src.On("Expirations", "SPY").Return([]time.Time{expiry(38), expiry(44)}, nil)
	src.On("Chain", "SPY", expiry(38)).Return(nil, errors.New("timeout"))
	src.On("Chain", "SPY", expiry(44)).Return(chain(expiry(44)), nil)

	a := newAnalyzer(t, setup{
		strategies: []models.StrategyType{models.BullPutSpread},
		mode:       strategy.ModeForce,
		src:        src,
	})
	res, err := a.Analyze(context.Background(), "SPY")
	require.NoError(t, err)
	require.Equal(t, models.StatusSelected, res.Status, res.Explanation)
	assert.True(t, res.Expiration.Equal(expiry(44)))
}

func TestAnalyze_UndefinedRiskMargin(t *testing.T) {
	tests := []struct {
		name   string
		check  *models.MarginCheck
		err    error
		status models.AnalysisStatus
	}{
		{"approved", &models.MarginCheck{Approved: true}, nil, models.StatusSelected},
		{"rejected", &models.MarginCheck{Approved: false, Reason: "insufficient buying power"}, nil, models.StatusMarginRejected},
		{"dry run error", nil, errors.New("preview failed"), models.StatusMarginRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := source("SPY", nil)
			src.On("Expirations", "SPY").Return([]time.Time{expiry(40)}, nil)
			src.On("Chain", "SPY", expiry(40)).Return(chain(expiry(40)), nil)
			margin := &mockMargin{}
			margin.On("CheckMargin", mock.Anything, 1, mock.Anything).Return(tt.check, tt.err).Once()

			a := newAnalyzer(t, setup{
				strategies: []models.StrategyType{models.NakedPut},
				mode:       strategy.ModeForce,
				src:        src,
				margin:     margin,
			})
			res, err := a.Analyze(context.Background(), "SPY")
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status, res.Explanation)
			require.NotNil(t, res.Risk)
			assert.Equal(t, models.RiskUndefined, res.Risk.Profile)
			assert.True(t, res.Risk.RequiresMarginCheck)
			assert.True(t, res.Risk.RequiresConfirmation, "no opt-in was given")
			margin.AssertExpectations(t)
		})
	}
}

func TestAnalyze_DefinedRiskSkipsMargin(t *testing.T) {
	src := sourceWithHistory("SPY", nil, rangeBars())
	src.On("Expirations", "SPY").Return([]time.Time{expiry(40)}, nil)
	src.On("Chain", "SPY", expiry(40)).Return(chain(expiry(40)), nil)
	margin := &mockMargin{}

	a := newAnalyzer(t, setup{
		strategies: []models.StrategyType{models.IronCondor},
		mode:       strategy.ModeForce,
		src:        src,
		margin:     margin,
	})
	res, err := a.Analyze(context.Background(), "SPY")
	require.NoError(t, err)
	require.Equal(t, models.StatusSelected, res.Status, res.Explanation)
	require.NotNil(t, res.Composition)
	assert.Equal(t, 4, res.Composition.Len())
	require.NotNil(t, res.Risk)
	assert.Equal(t, models.RiskDefined, res.Risk.Profile)
	margin.AssertNotCalled(t, "CheckMargin", mock.Anything, mock.Anything, mock.Anything)
}

// A rising series leaves resistance just below spot: the call side cannot
// be placed out of the money, so the condor is never planned.
func TestAnalyze_IronCondorNeedsRoomAboveSpot(t *testing.T) {
	src := source("SPY", nil)
	src.On("Expirations", "SPY").Return([]time.Time{expiry(40)}, nil)
	src.On("Chain", "SPY", expiry(40)).Return(chain(expiry(40)), nil)

	a := newAnalyzer(t, setup{
		strategies: []models.StrategyType{models.IronCondor},
		mode:       strategy.ModeForce,
		src:        src,
	})
	res, err := a.Analyze(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoStrikes, res.Status, res.Explanation)
	assert.Nil(t, res.Composition)
}

func TestAnalyze_QuoteErrorIsReturned(t *testing.T) {
	src := &mockSource{}
	src.On("Quote", "SPY").Return(nil, errors.New("503 service unavailable"))
	a := newAnalyzer(t, setup{src: src})

	res, err := a.Analyze(context.Background(), "SPY")
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestAnalyze_SinkErrorKeepsResult(t *testing.T) {
	src := source("SPY", nil)
	sink := &mockSink{}
	sink.On("SaveAnalysis", mock.Anything).Return(errors.New("disk full"))
	a := newAnalyzer(t, setup{src: src, minScore: 1000, sink: sink})

	res, err := a.Analyze(context.Background(), "SPY")
	assert.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, models.StatusNoCandidate, res.Status)
}

func TestAnalyzeAll_IsolatesFailures(t *testing.T) {
	src := source("SPY", nil)
	src.On("Quote", "QQQ").Return(nil, errors.New("unknown symbol"))

	a := newAnalyzer(t, setup{src: src, minScore: 1000})
	results, err := a.AnalyzeAll(context.Background(), []string{"SPY", "QQQ", "SPY"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "SPY", r.Symbol)
	}
}

func TestAnalyzeAll_Canceled(t *testing.T) {
	src := source("SPY", nil)
	a := newAnalyzer(t, setup{src: src, minScore: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := a.AnalyzeAll(ctx, []string{"SPY"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestWindow_OrdersByDistanceToTarget(t *testing.T) {
	a := newAnalyzer(t, setup{src: &mockSource{}})
	got := a.window([]time.Time{expiry(20), expiry(31), expiry(45), expiry(36), expiry(40), expiry(50)})
	// 31 and 45 are both 7 days from the target: the earlier one wins
	want := []time.Time{expiry(36), expiry(40), expiry(31), expiry(45)}
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, got[i].Equal(want[i]), "position %d: got %s want %s", i, got[i], want[i])
	}
}

func TestBackMonth(t *testing.T) {
	all := []time.Time{expiry(70), expiry(40), expiry(47), expiry(61)}
	back, ok := backMonth(all, expiry(40))
	require.True(t, ok)
	assert.True(t, back.Equal(expiry(61)))

	_, ok = backMonth(all, expiry(70))
	assert.False(t, ok)
}
