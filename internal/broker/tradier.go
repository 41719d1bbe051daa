// Package broker provides the Tradier API client used for market data and
// pre-trade order previews.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Market clock state constants
const (
	marketStateOpen       = "open"
	marketStatePreMarket  = "premarket"
	marketStatePostMarket = "postmarket"
)

// Order sides for opening multileg orders.
const (
	SideBuyToOpen  = "buy_to_open"
	SideSellToOpen = "sell_to_open"
)

// Multileg order price types.
const (
	OrderTypeCredit = "credit"
	OrderTypeDebit  = "debit"
	OrderTypeEven   = "even"
)

// ErrNoLegs is returned when an order has nothing to submit.
var ErrNoLegs = errors.New("order has no legs")

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// StatusCode lets retry classify the error without string matching.
func (e *APIError) StatusCode() int {
	return e.Status
}

// TradierAPI is a thin client over the Tradier REST API.
type TradierAPI struct {
	client      *http.Client
	logger      logrus.FieldLogger
	marketLimit *rate.Limiter
	tradeLimit  *rate.Limiter
	apiKey      string
	baseURL     string
	accountID   string
	rateLimits  RateLimits
	sandbox     bool
}

// RateLimits defines API rate limits for different endpoint categories.
type RateLimits struct {
	MarketData int // requests per minute
	Trading    int // requests per minute
	Standard   int // requests per minute
}

// NewTradierAPIWithBaseURL creates a new TradierAPI client with optional custom baseURL and rate limits
func NewTradierAPIWithBaseURL(
	apiKey, accountID string,
	sandbox bool,
	baseURL string,
	customLimits ...RateLimits,
) *TradierAPI {
	var limits RateLimits

	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	var providedLimits RateLimits
	if len(customLimits) > 0 {
		providedLimits = customLimits[0]
	}

	if providedLimits.MarketData > 0 || providedLimits.Trading > 0 || providedLimits.Standard > 0 {
		limits = providedLimits
	} else if sandbox {
		limits = RateLimits{
			MarketData: 120,
			Trading:    120,
			Standard:   120,
		}
	} else {
		limits = RateLimits{
			MarketData: 500,
			Trading:    500,
			Standard:   500,
		}
	}

	defaultTimeout := 10 * time.Second
	return &TradierAPI{
		apiKey:      apiKey,
		baseURL:     baseURL,
		accountID:   accountID,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logrus.StandardLogger(),
		sandbox:     sandbox,
		rateLimits:  limits,
		marketLimit: limiterFor(limits.MarketData),
		tradeLimit:  limiterFor(limits.Trading),
	}
}

// limiterFor converts a per-minute budget into a token bucket; zero disables limiting.
func limiterFor(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierAPI) WithHTTPClient(c *http.Client) *TradierAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// WithLogger sets the logger used for rate-limit and body-close diagnostics.
func (t *TradierAPI) WithLogger(l logrus.FieldLogger) *TradierAPI {
	if l != nil {
		t.logger = l
	}
	return t
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// OptionChainResponse represents the API response for option chain requests.
type OptionChainResponse struct {
	Options struct {
		Option singleOrArray[Option] `json:"option"`
	} `json:"options"`
}

// Option represents an option contract from the Tradier API.
type Option struct {
	Greeks         *Greeks `json:"greeks,omitempty"`
	Symbol         string  `json:"symbol"`
	Description    string  `json:"description"`
	OptionType     string  `json:"option_type"`
	ExpirationDate string  `json:"expiration_date"`
	Underlying     string  `json:"underlying"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Last           float64 `json:"last"`
	BidSize        int     `json:"bid_size"`
	AskSize        int     `json:"ask_size"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
	Strike         float64 `json:"strike"`
}

// Greeks contains option Greeks data from the Tradier API.
type Greeks struct {
	UpdatedAt string  `json:"updated_at"`
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Theta     float64 `json:"theta"`
	Vega      float64 `json:"vega"`
	BidIV     float64 `json:"bid_iv"`
	MidIV     float64 `json:"mid_iv"`
	AskIV     float64 `json:"ask_iv"`
	SmvVol    float64 `json:"smv_vol"`
}

// QuotesResponse represents the quotes response from the Tradier API.
type QuotesResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

// QuoteItem represents a single quote item from the Tradier API.
type QuoteItem struct {
	Symbol           string  `json:"symbol"`
	Description      string  `json:"description"`
	Type             string  `json:"type"`
	TradeDate        int64   `json:"trade_date"`
	Low              float64 `json:"low"`
	ChangePercentage float64 `json:"change_percentage"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Volume           int64   `json:"volume"`
	Close            float64 `json:"close"`
	PrevClose        float64 `json:"prevclose"`
	Bid              float64 `json:"bid"`
	Ask              float64 `json:"ask"`
	Last             float64 `json:"last"`
}

// ExpirationsResponse represents the expirations response from the Tradier API.
type ExpirationsResponse struct {
	Expirations struct {
		Date singleOrArray[string] `json:"date"`
	} `json:"expirations"`
}

// BalanceResponse represents the account balance response from the Tradier API.
type BalanceResponse struct {
	Balances struct {
		TotalEquity        float64 `json:"total_equity"`
		AccountNumber      string  `json:"account_number"`
		AccountType        string  `json:"account_type"`
		OptionRequirement  float64 `json:"option_requirement"`
		TotalCash          float64 `json:"total_cash"`
		PendingOrdersCount int     `json:"pending_orders_count"`

		Margin *struct {
			OptionBuyingPower float64 `json:"option_buying_power"`
			StockBuyingPower  float64 `json:"stock_buying_power"`
		} `json:"margin"`

		Cash *struct {
			CashAvailable  float64 `json:"cash_available"`
			UnsettledFunds float64 `json:"unsettled_funds"`
		} `json:"cash"`

		PDT *struct {
			OptionBuyingPower float64 `json:"option_buying_power"`
			StockBuyingPower  float64 `json:"stock_buying_power"`
		} `json:"pdt"`
	} `json:"balances"`
}

// GetOptionBuyingPower extracts option buying power based on account type
func (b *BalanceResponse) GetOptionBuyingPower() (float64, error) {
	switch b.Balances.AccountType {
	case "margin":
		if b.Balances.Margin != nil {
			return b.Balances.Margin.OptionBuyingPower, nil
		}
		return 0, fmt.Errorf("margin account type specified but margin data is missing")
	case "pdt":
		if b.Balances.PDT != nil {
			return b.Balances.PDT.OptionBuyingPower, nil
		}
		return 0, fmt.Errorf("pdt account type specified but pdt data is missing")
	case "cash":
		if b.Balances.Cash != nil {
			return b.Balances.Cash.CashAvailable, nil
		}
		return 0, fmt.Errorf("cash account type specified but cash data is missing")
	}

	return 0, fmt.Errorf("unknown account type: %s", b.Balances.AccountType)
}

// MarketClockResponse represents the market clock response from the Tradier API.
type MarketClockResponse struct {
	Clock struct {
		Date        string `json:"date"`
		Description string `json:"description"`
		State       string `json:"state"`
		Timestamp   int64  `json:"timestamp"`
		NextChange  string `json:"next_change"`
		NextState   string `json:"next_state"`
	} `json:"clock"`
}

// Order is the order body returned by placement and preview calls. Preview
// responses fill the cost and margin fields instead of ID.
type Order struct {
	ID           int     `json:"id"`
	Status       string  `json:"status"`
	Class        string  `json:"class"`
	Type         string  `json:"type"`
	Symbol       string  `json:"symbol"`
	Duration     string  `json:"duration"`
	Strategy     string  `json:"strategy"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	Result       bool    `json:"result"`
	Commission   float64 `json:"commission"`
	Cost         float64 `json:"cost"`
	Fees         float64 `json:"fees"`
	OrderCost    float64 `json:"order_cost"`
	MarginChange float64 `json:"margin_change"`
	RequestDate  string  `json:"request_date"`
}

// OrderResponse represents the order response from the Tradier API.
type OrderResponse struct {
	Order Order `json:"order"`
}

// HistoricalDataPoint represents a single historical data point
type HistoricalDataPoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

type historicalDay struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HistoricalDataResponse represents the response from historical data API
type HistoricalDataResponse struct {
	History *struct {
		Day singleOrArray[historicalDay] `json:"day"`
	} `json:"history"`
}

// OrderLeg is one option leg of a multileg order.
type OrderLeg struct {
	OptionSymbol string
	Side         string
	Quantity     int
}

// MultilegOrder is a limit order across one or more option legs.
type MultilegOrder struct {
	Symbol   string
	Type     string // credit, debit or even
	Duration string
	Price    float64
	Tag      string
	Legs     []OrderLeg
}

// ============ API Methods ============

// GetQuote retrieves the current market quote for a symbol.
func (t *TradierAPI) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response QuotesResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	quotes := response.Quotes.Quote
	if len(quotes) == 0 {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}

	first := quotes[0]
	return &first, nil
}

// GetExpirations retrieves available expiration dates for options on a symbol.
func (t *TradierAPI) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")
	endpoint := t.baseURL + "/markets/options/expirations?" + params.Encode()

	var response ExpirationsResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	return []string(response.Expirations.Date), nil
}

// GetOptionChain retrieves the option chain for a symbol and expiration date.
func (t *TradierAPI) GetOptionChain(ctx context.Context, symbol, expiration string, greeks bool) ([]Option, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", fmt.Sprintf("%t", greeks))
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response OptionChainResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	return []Option(response.Options.Option), nil
}

// GetBalance retrieves account balance information.
func (t *TradierAPI) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/balances", t.baseURL, t.accountID)

	var response BalanceResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// GetMarketClock retrieves the current market clock status.
func (t *TradierAPI) GetMarketClock(ctx context.Context, delayed bool) (*MarketClockResponse, error) {
	endpoint := fmt.Sprintf("%s/markets/clock?delayed=%t", t.baseURL, delayed)

	var response MarketClockResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// IsTradingDay returns true on a trading session day (open, premarket, or postmarket).
func (t *TradierAPI) IsTradingDay(ctx context.Context, delayed bool) (bool, error) {
	clock, err := t.GetMarketClock(ctx, delayed)
	if err != nil {
		return false, err
	}

	state := clock.Clock.State
	return state == marketStateOpen || state == marketStatePreMarket || state == marketStatePostMarket, nil
}

// GetHistoricalData retrieves daily (or the given interval) bars for a symbol.
func (t *TradierAPI) GetHistoricalData(ctx context.Context, symbol, interval string, startDate, endDate time.Time) ([]HistoricalDataPoint, error) {
	if interval == "" {
		interval = "daily"
	}
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", interval)
	params.Add("start", startDate.Format("2006-01-02"))
	params.Add("end", endDate.Format("2006-01-02"))
	endpoint := t.baseURL + "/markets/history?" + params.Encode()

	var response HistoricalDataResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}
	if response.History == nil {
		return nil, nil
	}

	dataPoints := make([]HistoricalDataPoint, len(response.History.Day))
	for i, day := range response.History.Day {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %s: %w", day.Date, err)
		}
		dataPoints[i] = HistoricalDataPoint{
			Date:   date,
			Open:   day.Open,
			High:   day.High,
			Low:    day.Low,
			Close:  day.Close,
			Volume: day.Volume,
		}
	}

	return dataPoints, nil
}

// normalizeDuration normalizes and validates duration parameter
func normalizeDuration(duration string) (string, error) {
	if duration == "" {
		return "", fmt.Errorf("duration cannot be empty")
	}

	normalized := strings.ToLower(strings.TrimSpace(duration))

	switch normalized {
	case "good-til-cancelled", "goodtilcancelled", "gtc":
		return "gtc", nil
	case "day":
		return "day", nil
	case "pre", "pre-market", "premarket", "extended-hours-pre", "prehours":
		return "pre", nil
	case "post", "post-market", "postmarket", "extended-hours-post", "posthours":
		return "post", nil
	default:
		return "", fmt.Errorf("invalid duration '%s': must be one of 'day', 'gtc', 'pre', or 'post'", duration)
	}
}

// PlaceMultilegOrder submits (or, with preview, dry-runs) a limit order.
// A single leg is sent as an option-class order since Tradier rejects
// one-leg multileg orders.
func (t *TradierAPI) PlaceMultilegOrder(ctx context.Context, order MultilegOrder, preview bool) (*OrderResponse, error) {
	if len(order.Legs) == 0 {
		return nil, ErrNoLegs
	}
	duration, err := normalizeDuration(order.Duration)
	if err != nil {
		return nil, err
	}
	if order.Price < 0 || (order.Price == 0 && order.Type != OrderTypeEven) {
		return nil, fmt.Errorf("invalid %s price: %.2f", order.Type, order.Price)
	}

	params := url.Values{}
	params.Add("symbol", order.Symbol)
	params.Add("duration", duration)
	params.Add("price", fmt.Sprintf("%.2f", order.Price))
	if preview {
		params.Add("preview", "true")
	}
	if order.Tag != "" {
		params.Add("tag", order.Tag)
	}

	if len(order.Legs) == 1 {
		leg := order.Legs[0]
		if leg.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity for %s: %d", leg.OptionSymbol, leg.Quantity)
		}
		params.Add("class", "option")
		params.Add("type", "limit")
		params.Add("option_symbol", leg.OptionSymbol)
		params.Add("side", leg.Side)
		params.Add("quantity", fmt.Sprintf("%d", leg.Quantity))
	} else {
		switch order.Type {
		case OrderTypeCredit, OrderTypeDebit, OrderTypeEven:
		default:
			return nil, fmt.Errorf("invalid multileg order type %q", order.Type)
		}
		params.Add("class", "multileg")
		params.Add("type", order.Type)
		for i, leg := range order.Legs {
			if leg.Quantity <= 0 {
				return nil, fmt.Errorf("invalid quantity for leg %d: %d", i, leg.Quantity)
			}
			params.Add(fmt.Sprintf("option_symbol[%d]", i), leg.OptionSymbol)
			params.Add(fmt.Sprintf("side[%d]", i), leg.Side)
			params.Add(fmt.Sprintf("quantity[%d]", i), fmt.Sprintf("%d", leg.Quantity))
		}
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)

	var response OrderResponse
	if err := t.makeRequestCtx(ctx, http.MethodPost, endpoint, params, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	limiter := t.marketLimit
	if method == http.MethodPost {
		limiter = t.tradeLimit
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "strategist/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.WithError(err).Debug("failed to close response body")
		}
	}()

	remaining := resp.Header.Get("X-Ratelimit-Available")
	if remaining == "" {
		remaining = resp.Header.Get("X-RateLimit-Remaining")
	}
	if remaining != "" && t.sandbox {
		t.logger.WithField("remaining", remaining).Debug("tradier rate limit")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		ct := resp.Header.Get("Content-Type")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s (retry-after: %s)", method, endpoint, ct, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s", method, endpoint, ct, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
