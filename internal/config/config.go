// Package config provides configuration management for the strategist daemon.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/strategy"
)

const (
	defaultTimezone       = "America/New_York"
	defaultCron           = "*/30 9-15 * * 1-5"
	defaultMinScore       = 60.0
	defaultMaxConcurrency = 4
	defaultHistoryDays    = 120
	defaultPort           = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig           `yaml:"environment"`
	Broker      BrokerConfig                `yaml:"broker"`
	Schedule    ScheduleConfig              `yaml:"schedule"`
	Analysis    AnalysisConfig              `yaml:"analysis"`
	Vertical    strategy.VerticalParameters `yaml:"vertical"`
	Risk        RiskConfig                  `yaml:"risk"`
	Storage     StorageConfig               `yaml:"storage"`
	API         APIConfig                   `yaml:"api"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"` // tradier | mock
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
	Sandbox     bool   `yaml:"sandbox"`
	// RateLimit is requests per minute; zero uses the Tradier defaults.
	RateLimit      int    `yaml:"rate_limit"`
	MaxRetries     int    `yaml:"max_retries"`
	RequestTimeout string `yaml:"request_timeout"`
	// Mock provider knobs.
	MockSeed        uint64  `yaml:"mock_seed"`
	MockBuyingPower float64 `yaml:"mock_buying_power"`
}

// ScheduleConfig defines when analysis cycles run.
type ScheduleConfig struct {
	Cron            string `yaml:"cron"`          // standard 5-field spec
	Timezone        string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart    string `yaml:"trading_start"` // "HH:MM"
	TradingEnd      string `yaml:"trading_end"`   // "HH:MM"
	AfterHoursCheck bool   `yaml:"after_hours_check"`
}

// AnalysisConfig tunes the analyzer and the market report builder.
type AnalysisConfig struct {
	Symbols            []string `yaml:"symbols"`
	Strategies         []string `yaml:"strategies"` // empty means all
	MinScore           float64  `yaml:"min_score"`
	MaxConcurrency     int      `yaml:"max_concurrency"`
	HistoryDays        int      `yaml:"history_days"`
	MaxQuoteAge        string   `yaml:"max_quote_age"`
	EarningsWindowDays int      `yaml:"earnings_window_days"`
	DividendWindowDays int      `yaml:"dividend_window_days"`
}

// RiskConfig lists undefined-risk strategies allowed into automation.
// Opting in requires acknowledging unlimited risk explicitly.
type RiskConfig struct {
	UndefinedRiskOptIns      []string `yaml:"undefined_risk_opt_ins"`
	AcknowledgeUnlimitedRisk bool     `yaml:"acknowledge_unlimited_risk"`
}

// StorageConfig selects the result store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json | sqlite; empty infers from path
	Path   string `yaml:"path"`
}

// APIConfig configures the read-only HTTP API.
type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Default returns the configuration Load starts from before applying the file.
func Default() Config {
	return Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Broker:      BrokerConfig{Provider: "tradier", MaxRetries: 3, RequestTimeout: "2m", MockSeed: 1, MockBuyingPower: 25000},
		Schedule: ScheduleConfig{
			Cron:         defaultCron,
			Timezone:     defaultTimezone,
			TradingStart: "09:45",
			TradingEnd:   "15:45",
		},
		Analysis: AnalysisConfig{
			Symbols:            []string{"SPY"},
			MinScore:           defaultMinScore,
			MaxConcurrency:     defaultMaxConcurrency,
			HistoryDays:        defaultHistoryDays,
			MaxQuoteAge:        "15m",
			EarningsWindowDays: 7,
			DividendWindowDays: 3,
		},
		Vertical: strategy.DefaultVerticalParameters(),
		Storage:  StorageConfig{Path: "data/strategist.db"},
		API:      APIConfig{Port: defaultPort},
	}
}

// Load reads .env (if present), then parses the YAML file at configPath
// over Default() with ${VAR} expansion, and validates the result.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default() and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// normalizing symbols and filling zero values with defaults.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch strings.ToLower(c.Environment.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level %q is not a known level", c.Environment.LogLevel)
	}

	switch c.Broker.Provider {
	case "tradier":
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required")
		}
	case "mock":
		if !c.IsPaperTrading() {
			return fmt.Errorf("broker.provider 'mock' requires environment.mode 'paper'")
		}
	default:
		return fmt.Errorf("broker.provider must be 'tradier' or 'mock'")
	}
	if c.Broker.RateLimit < 0 {
		return fmt.Errorf("broker.rate_limit must be >= 0")
	}
	if c.Broker.MaxRetries < 0 {
		return fmt.Errorf("broker.max_retries must be >= 0")
	}
	if c.Broker.RequestTimeout != "" {
		if d, err := time.ParseDuration(c.Broker.RequestTimeout); err != nil || d <= 0 {
			return fmt.Errorf("broker.request_timeout must be a positive duration")
		}
	}

	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}

	vertical, err := strategy.NewVerticalParameters(c.Vertical)
	if err != nil {
		return fmt.Errorf("vertical: %w", err)
	}
	c.Vertical = vertical

	optIns, err := c.Risk.Strategies()
	if err != nil {
		return err
	}
	if len(optIns) > 0 && !c.Risk.AcknowledgeUnlimitedRisk {
		return fmt.Errorf("risk.undefined_risk_opt_ins requires risk.acknowledge_unlimited_risk: true")
	}

	switch c.Storage.Driver {
	case "", "json", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.API.Port == 0 {
		c.API.Port = defaultPort
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}
	if c.API.Enabled && !c.IsPaperTrading() && c.API.AuthToken == "" {
		return fmt.Errorf("api.auth_token is required when the API is enabled in live mode")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = defaultCron
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron invalid: %w", err)
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	loc := c.Location()
	s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
		return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	a := &c.Analysis
	if len(a.Symbols) == 0 {
		return fmt.Errorf("analysis.symbols must list at least one symbol")
	}
	seen := make(map[string]bool, len(a.Symbols))
	symbols := make([]string, 0, len(a.Symbols))
	for _, s := range a.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			return fmt.Errorf("analysis.symbols contains an empty symbol")
		}
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	a.Symbols = symbols

	if _, err := a.StrategyTypes(); err != nil {
		return err
	}
	if a.MinScore < 0 {
		return fmt.Errorf("analysis.min_score must be >= 0")
	}
	if a.MaxConcurrency <= 0 {
		a.MaxConcurrency = defaultMaxConcurrency
	}
	if a.HistoryDays <= 0 {
		a.HistoryDays = defaultHistoryDays
	}
	if a.MaxQuoteAge != "" {
		if d, err := time.ParseDuration(a.MaxQuoteAge); err != nil || d <= 0 {
			return fmt.Errorf("analysis.max_quote_age must be a positive duration")
		}
	}
	if a.EarningsWindowDays < 0 || a.DividendWindowDays < 0 {
		return fmt.Errorf("analysis event windows must be >= 0")
	}
	return nil
}

// StrategyTypes resolves the configured strategy names; empty means all.
func (a AnalysisConfig) StrategyTypes() ([]models.StrategyType, error) {
	if len(a.Strategies) == 0 {
		return models.AllStrategyTypes(), nil
	}
	out := make([]models.StrategyType, 0, len(a.Strategies))
	for _, name := range a.Strategies {
		st, err := models.ParseStrategyType(name)
		if err != nil {
			return nil, fmt.Errorf("analysis.strategies: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}

// BuilderConfig maps the analysis section onto the market report builder.
func (a AnalysisConfig) BuilderConfig() market.BuilderConfig {
	cfg := market.DefaultBuilderConfig()
	if d, err := time.ParseDuration(a.MaxQuoteAge); err == nil && d > 0 {
		cfg.MaxQuoteAge = d
	}
	cfg.EarningsWindowDays = a.EarningsWindowDays
	cfg.DividendWindowDays = a.DividendWindowDays
	return cfg
}

// Strategies resolves the opt-in names.
func (r RiskConfig) Strategies() ([]models.StrategyType, error) {
	out := make([]models.StrategyType, 0, len(r.UndefinedRiskOptIns))
	for _, name := range r.UndefinedRiskOptIns {
		st, err := models.ParseStrategyType(name)
		if err != nil {
			return nil, fmt.Errorf("risk.undefined_risk_opt_ins: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Timeout returns the broker retry budget, or zero for the default.
func (b BrokerConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(b.RequestTimeout)
	if err != nil {
		return 0
	}
	return d
}

// IsPaperTrading returns true if the daemon is configured for paper mode.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location resolves the schedule timezone, falling back to New York and
// then to a fixed ET offset for minimal containers.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if fallbackLoc, err2 := time.LoadLocation(defaultTimezone); err2 == nil {
			return fallbackLoc
		}
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// IsWithinTradingHours checks if the given time falls within configured trading hours.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)

	// Only allow Monday–Friday trading
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 45, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 15, 45, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}
