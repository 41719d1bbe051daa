package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 429, Body: "too many requests"}
	want := "API error 429: too many requests"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestNewTradierAPIWithBaseURL_DefaultsAndNormalization(t *testing.T) {
	type args struct {
		apiKey    string
		accountID string
		sandbox   bool
		baseURL   string
	}
	tests := []struct {
		name        string
		args        args
		wantBaseURL string
		wantLimits  RateLimits
	}{
		{
			name:        "sandbox default baseURL and limits",
			args:        args{"k", "acc", true, ""},
			wantBaseURL: "https://sandbox.tradier.com/v1",
			wantLimits:  RateLimits{MarketData: 120, Trading: 120, Standard: 120},
		},
		{
			name:        "production default baseURL and limits",
			args:        args{"k", "acc", false, ""},
			wantBaseURL: "https://api.tradier.com/v1",
			wantLimits:  RateLimits{MarketData: 500, Trading: 500, Standard: 500},
		},
		{
			name:        "custom baseURL preserved and trimmed",
			args:        args{"k", "acc", false, "https://example.test/api/"},
			wantBaseURL: "https://example.test/api",
			wantLimits:  RateLimits{MarketData: 500, Trading: 500, Standard: 500},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewTradierAPIWithBaseURL(tt.args.apiKey, tt.args.accountID, tt.args.sandbox, tt.args.baseURL)
			if api.baseURL != tt.wantBaseURL {
				t.Fatalf("baseURL = %q, want %q", api.baseURL, tt.wantBaseURL)
			}
			if api.rateLimits != tt.wantLimits {
				t.Fatalf("rateLimits = %+v, want %+v", api.rateLimits, tt.wantLimits)
			}
		})
	}
}

func TestNewTradierAPIWithBaseURL_CustomLimitsOverride(t *testing.T) {
	custom := RateLimits{MarketData: 1, Trading: 2, Standard: 3}
	api := NewTradierAPIWithBaseURL("k", "acc", false, "", custom)
	if api.rateLimits != custom {
		t.Fatalf("rateLimits = %+v, want %+v", api.rateLimits, custom)
	}
}

func TestTradierNormalizeDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"day", "day", false},
		{"DAY", "day", false},
		{"  day  ", "day", false},
		{"gtc", "gtc", false},
		{"GTC", "gtc", false},
		{"good-til-cancelled", "gtc", false},
		{"goodtilcancelled", "gtc", false},
		{"pre", "pre", false},
		{"PRE", "pre", false},
		{"  pre  ", "pre", false},
		{"pre-market", "pre", false},
		{"premarket", "pre", false},
		{"extended-hours-pre", "pre", false},
		{"prehours", "pre", false},
		{"post", "post", false},
		{"POST", "post", false},
		{"  post  ", "post", false},
		{"post-market", "post", false},
		{"postmarket", "post", false},
		{"extended-hours-post", "post", false},
		{"posthours", "post", false},
		{"gtd", "", true},
		{"good-til-date", "", true},
		{"", "", true},
		{"week", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeDuration(tt.in)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %q", tt.in)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("normalizeDuration(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func newTestAPIWithServer(handler http.HandlerFunc) (*TradierAPI, *httptest.Server) {
	s := httptest.NewServer(handler)
	api := NewTradierAPIWithBaseURL("test-key", "ACC123", false, s.URL)
	// Use server's client directly to ensure proper transport handling
	api = api.WithHTTPClient(s.Client())
	return api, s
}


func TestLimiterFor(t *testing.T) {
	if got := limiterFor(0).Limit(); got != rate.Inf {
		t.Fatalf("limiterFor(0) = %v, want Inf", got)
	}
	l := limiterFor(120)
	if l.Limit() != 2 || l.Burst() != 2 {
		t.Fatalf("limiterFor(120) = %v/%d, want 2/2", l.Limit(), l.Burst())
	}
	if b := limiterFor(30).Burst(); b != 1 {
		t.Fatalf("limiterFor(30) burst = %d, want 1", b)
	}
}

func TestMakeRequestCtx_SuccessGET(t *testing.T) {
	type payload struct {
		Foo string `json:"foo"`
	}
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-key")
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want application/json", got)
		}
		w.Header().Set("X-RateLimit-Remaining", "42")
		_ = json.NewEncoder(w).Encode(payload{Foo: "bar"})
	})
	defer srv.Close()

	var out payload
	if err := api.makeRequestCtx(context.Background(), http.MethodGet, api.baseURL+"/ok", nil, &out); err != nil {
		t.Fatalf("makeRequestCtx error: %v", err)
	}
	if out.Foo != "bar" {
		t.Fatalf("decoded = %+v, want Foo=bar", out)
	}
}

func TestMakeRequestCtx_SuccessPOST_FormEncoded(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q, want application/x-www-form-urlencoded", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if got := string(body); got != "a=1&b=two" {
			t.Errorf("body = %q, want form-encoded", got)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	defer srv.Close()

	var out map[string]any
	form := url.Values{"a": []string{"1"}, "b": []string{"two"}}
	if err := api.makeRequestCtx(context.Background(), http.MethodPost, api.baseURL+"/create", form, &out); err != nil {
		t.Fatalf("makeRequestCtx POST error: %v", err)
	}
	if ok, _ := out["ok"].(bool); !ok {
		t.Fatalf("decoded ok=false, want true")
	}
}

func TestMakeRequestCtx_Non2xxReturnsAPIError(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	defer srv.Close()

	var out map[string]any
	err := api.makeRequestCtx(context.Background(), http.MethodGet, api.baseURL+"/err", nil, &out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v (%T), want *APIError", err, err)
	}
	if apiErr.StatusCode() != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", apiErr.StatusCode())
	}
	if !strings.Contains(apiErr.Body, "retry-after: 3") || !strings.Contains(apiErr.Body, "slow down") {
		t.Fatalf("body = %q, want retry-after and message", apiErr.Body)
	}
}

func TestMakeRequestCtx_EmptyBodyEOF(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	var out struct{}
	if err := api.makeRequestCtx(context.Background(), http.MethodGet, api.baseURL+"/nobody", nil, &out); err != nil {
		t.Fatalf("unexpected error on EOF: %v", err)
	}
}

func TestMakeRequestCtx_CanceledBeforeRateLimit(t *testing.T) {
	called := false
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := api.makeRequestCtx(ctx, http.MethodGet, api.baseURL+"/x", nil, &struct{}{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Fatalf("request reached the server after cancellation")
	}
}

func TestGetQuote_SingleAndArrayAndEmpty(t *testing.T) {
	single := `{"quotes":{"quote":{"symbol":"SPY","type":"etf","trade_date":1731078000000,"bid":458.4,"ask":458.6,"last":458.5,"prevclose":455}}}`
	array := `{"quotes":{"quote":[{"symbol":"SPY","type":"etf","bid":458.4,"ask":458.6,"last":458.5}]}}`
	empty := `{"quotes":{"quote":[]}}`

	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"single", single, false},
		{"array", array, false},
		{"empty", empty, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/markets/quotes" {
					t.Errorf("path = %s", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("symbols") != "SPY" || q.Get("greeks") != "false" {
					t.Errorf("query = %s", r.URL.RawQuery)
				}
				_, _ = w.Write([]byte(tc.body))
			})
			defer srv.Close()

			q, err := api.GetQuote(context.Background(), "SPY")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Symbol != "SPY" || q.Last != 458.5 {
				t.Fatalf("quote = %+v", q)
			}
		})
	}
}

func TestGetExpirations(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"array", `{"expirations":{"date":["2024-12-13","2024-12-20"]}}`, []string{"2024-12-13", "2024-12-20"}},
		{"single", `{"expirations":{"date":"2024-12-20"}}`, []string{"2024-12-20"}},
		{"null", `{"expirations":null}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/markets/options/expirations" {
					t.Errorf("path = %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tc.body))
			})
			defer srv.Close()

			dates, err := api.GetExpirations(context.Background(), "SPY")
			if err != nil {
				t.Fatalf("GetExpirations error: %v", err)
			}
			if fmt.Sprint(dates) != fmt.Sprint(tc.want) {
				t.Fatalf("dates = %#v, want %#v", dates, tc.want)
			}
		})
	}
}

func TestGetOptionChain(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("greeks") != "true" || q.Get("expiration") != "2024-12-20" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"options":{"option":{"symbol":"SPY241220P00450000","option_type":"put","expiration_date":"2024-12-20","underlying":"SPY","bid":4.1,"ask":4.3,"strike":450,"greeks":{"delta":-0.3,"mid_iv":0.18}}}}`))
	})
	defer srv.Close()

	opts, err := api.GetOptionChain(context.Background(), "SPY", "2024-12-20", true)
	if err != nil {
		t.Fatalf("GetOptionChain error: %v", err)
	}
	if len(opts) != 1 || opts[0].Greeks == nil || opts[0].Greeks.MidIV != 0.18 {
		t.Fatalf("options = %+v", opts)
	}
}

func TestGetHistoricalData(t *testing.T) {
	start := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 11, 8, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		body    string
		wantLen int
		wantErr bool
	}{
		{"array", `{"history":{"day":[{"date":"2024-11-07","open":1,"high":2,"low":0.5,"close":1.5,"volume":10},{"date":"2024-11-08","open":1.5,"high":2,"low":1,"close":1.8,"volume":12}]}}`, 2, false},
		{"single", `{"history":{"day":{"date":"2024-11-08","open":1,"high":2,"low":0.5,"close":1.5,"volume":10}}}`, 1, false},
		{"null history", `{"history":null}`, 0, false},
		{"bad date", `{"history":{"day":{"date":"11/08/2024"}}}`, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("interval") != "daily" || q.Get("start") != "2024-11-01" || q.Get("end") != "2024-11-08" {
					t.Errorf("query = %s", r.URL.RawQuery)
				}
				_, _ = w.Write([]byte(tc.body))
			})
			defer srv.Close()

			bars, err := api.GetHistoricalData(context.Background(), "SPY", "", start, end)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(bars) != tc.wantLen {
				t.Fatalf("len = %d, want %d", len(bars), tc.wantLen)
			}
		})
	}
}

func TestIsTradingDay(t *testing.T) {
	cases := map[string]bool{
		"open":       true,
		"premarket":  true,
		"postmarket": true,
		"closed":     false,
	}
	for state, want := range cases {
		t.Run(state, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprintf(w, `{"clock":{"date":"2024-11-08","state":%q}}`, state)
			})
			defer srv.Close()

			got, err := api.IsTradingDay(context.Background(), false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != want {
				t.Fatalf("IsTradingDay(%s) = %v, want %v", state, got, want)
			}
		})
	}
}

func TestGetBalance_OptionBuyingPower(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    float64
		wantErr bool
	}{
		{"margin", `{"balances":{"account_type":"margin","margin":{"option_buying_power":12000}}}`, 12000, false},
		{"pdt", `{"balances":{"account_type":"pdt","pdt":{"option_buying_power":50000}}}`, 50000, false},
		{"cash", `{"balances":{"account_type":"cash","cash":{"cash_available":3000}}}`, 3000, false},
		{"margin missing", `{"balances":{"account_type":"margin"}}`, 0, true},
		{"unknown", `{"balances":{"account_type":"ira"}}`, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/accounts/ACC123/balances" {
					t.Errorf("path = %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tc.body))
			})
			defer srv.Close()

			client := &TradierClient{TradierAPI: api}
			got, err := client.GetOptionBuyingPower(context.Background())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("buying power = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPlaceMultilegOrder_BuildsForm(t *testing.T) {
	var form url.Values
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/ACC123/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		_, _ = w.Write([]byte(`{"order":{"status":"ok","result":true,"margin_change":500,"order_cost":-125}}`))
	})
	defer srv.Close()

	order := MultilegOrder{
		Symbol:   "SPY",
		Type:     OrderTypeCredit,
		Duration: "DAY",
		Price:    1.25,
		Tag:      "bps",
		Legs: []OrderLeg{
			{OptionSymbol: "SPY241220P00450000", Side: SideSellToOpen, Quantity: 2},
			{OptionSymbol: "SPY241220P00445000", Side: SideBuyToOpen, Quantity: 2},
		},
	}
	resp, err := api.PlaceMultilegOrder(context.Background(), order, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Order.MarginChange != 500 {
		t.Fatalf("margin_change = %v, want 500", resp.Order.MarginChange)
	}

	want := map[string]string{
		"class":            "multileg",
		"type":             "credit",
		"duration":         "day",
		"price":            "1.25",
		"preview":          "true",
		"tag":              "bps",
		"option_symbol[0]": "SPY241220P00450000",
		"side[0]":          "sell_to_open",
		"quantity[0]":      "2",
		"option_symbol[1]": "SPY241220P00445000",
		"side[1]":          "buy_to_open",
		"quantity[1]":      "2",
	}
	for k, v := range want {
		if got := form.Get(k); got != v {
			t.Errorf("%s = %q, want %q (form %s)", k, got, v, form.Encode())
		}
	}
}

func TestPlaceMultilegOrder_SingleLegUsesOptionClass(t *testing.T) {
	var form url.Values
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		_, _ = w.Write([]byte(`{"order":{"id":7,"status":"ok"}}`))
	})
	defer srv.Close()

	order := MultilegOrder{
		Symbol:   "SPY",
		Type:     OrderTypeCredit,
		Duration: "gtc",
		Price:    3.10,
		Legs:     []OrderLeg{{OptionSymbol: "SPY241220P00440000", Side: SideSellToOpen, Quantity: 1}},
	}
	if _, err := api.PlaceMultilegOrder(context.Background(), order, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for k, v := range map[string]string{
		"class":         "option",
		"type":          "limit",
		"option_symbol": "SPY241220P00440000",
		"side":          "sell_to_open",
		"quantity":      "1",
		"duration":      "gtc",
	} {
		if got := form.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if form.Has("preview") {
		t.Errorf("preview flag sent for a live order")
	}
}

func TestPlaceMultilegOrder_Validation(t *testing.T) {
	legs := []OrderLeg{
		{OptionSymbol: "A", Side: SideSellToOpen, Quantity: 1},
		{OptionSymbol: "B", Side: SideBuyToOpen, Quantity: 1},
	}
	cases := []struct {
		name  string
		order MultilegOrder
	}{
		{"no legs", MultilegOrder{Symbol: "SPY", Type: OrderTypeCredit, Duration: "day", Price: 1}},
		{"bad duration", MultilegOrder{Symbol: "SPY", Type: OrderTypeCredit, Duration: "week", Price: 1, Legs: legs}},
		{"negative price", MultilegOrder{Symbol: "SPY", Type: OrderTypeDebit, Duration: "day", Price: -1, Legs: legs}},
		{"zero credit", MultilegOrder{Symbol: "SPY", Type: OrderTypeCredit, Duration: "day", Legs: legs}},
		{"bad type", MultilegOrder{Symbol: "SPY", Type: "market", Duration: "day", Price: 1, Legs: legs}},
		{"zero quantity", MultilegOrder{Symbol: "SPY", Type: OrderTypeDebit, Duration: "day", Price: 1, Legs: []OrderLeg{
			{OptionSymbol: "A", Side: SideSellToOpen, Quantity: 1},
			{OptionSymbol: "B", Side: SideBuyToOpen},
		}}},
	}
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("invalid order reached the server")
	})
	defer srv.Close()

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := api.PlaceMultilegOrder(context.Background(), tc.order, true); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if _, err := api.PlaceMultilegOrder(context.Background(), MultilegOrder{Duration: "day"}, true); !errors.Is(err, ErrNoLegs) {
		t.Fatalf("err = %v, want ErrNoLegs", err)
	}
}
