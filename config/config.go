package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/autotrader/cooldown"
	"github.com/rustyeddy/autotrader/executor"
	"github.com/rustyeddy/autotrader/internal/retry"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/notify"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/risk"
)

// Environment variables that override secrets in the file.
const (
	EnvBrokerToken = "AUTOTRADER_BROKER_TOKEN"
	EnvFeedToken   = "AUTOTRADER_FEED_TOKEN"
	EnvPostgresDSN = "AUTOTRADER_PG_DSN"
)

// Config represents the complete executor configuration
type Config struct {
	Account    AccountConfig    `json:"account" yaml:"account"`
	Mode       string           `json:"mode" yaml:"mode"` // "paper" or "live"
	Trading    TradingConfig    `json:"trading" yaml:"trading"`
	Exits      ExitsConfig      `json:"exits" yaml:"exits"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	Cooldown   CooldownConfig   `json:"cooldown" yaml:"cooldown"`
	Feed       FeedConfig       `json:"feed" yaml:"feed"`
	Simulation order.SimConfig  `json:"simulation" yaml:"simulation"`
	Broker     BrokerConfig     `json:"broker" yaml:"broker"`
	Signals    SignalsConfig    `json:"signals" yaml:"signals"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
	Status     StatusConfig     `json:"status" yaml:"status"`
	Profiling  ProfilingConfig  `json:"profiling" yaml:"profiling"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID           string  `json:"id" yaml:"id"`
	Currency     string  `json:"currency" yaml:"currency"`
	StartingCash float64 `json:"starting_cash" yaml:"starting_cash"` // paper mode
}

// TradingConfig controls the loop cadence, the universe and session hours
type TradingConfig struct {
	Interval     Duration `json:"interval" yaml:"interval"`
	Universe     []string `json:"universe" yaml:"universe"`
	EntryKind    string   `json:"entry_kind" yaml:"entry_kind"` // "market" or "limit"
	OrderTTL     Duration `json:"order_ttl" yaml:"order_ttl"`
	FillTimeout  Duration `json:"fill_timeout" yaml:"fill_timeout"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
	Timezone     string   `json:"timezone" yaml:"timezone"`
	MarketOpen   string   `json:"market_open" yaml:"market_open"`
	MarketClose  string   `json:"market_close" yaml:"market_close"`
	WindowStart  string   `json:"window_start" yaml:"window_start"`
	WindowEnd    string   `json:"window_end" yaml:"window_end"`
}

// ExitsConfig holds the default exit levels
type ExitsConfig struct {
	StopLossPct     float64  `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct   float64  `json:"take_profit_pct" yaml:"take_profit_pct"`
	TrailingStopPct float64  `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	MaxHold         Duration `json:"max_hold" yaml:"max_hold"`
}

// RiskConfig mirrors risk.Limits
type RiskConfig struct {
	MaxOpenPositions      int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxPositionPct        float64 `json:"max_position_pct" yaml:"max_position_pct"`
	SmallAccountThreshold float64 `json:"small_account_threshold" yaml:"small_account_threshold"`
	SmallAccountPct       float64 `json:"small_account_pct" yaml:"small_account_pct"`
	MaxRiskPerTradePct    float64 `json:"max_risk_per_trade_pct" yaml:"max_risk_per_trade_pct"`
	MaxDailyLoss          float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxDailyLossPct       float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxDrawdownPct        float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxConsecutiveLosses  int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MinRewardRisk         float64 `json:"min_reward_risk" yaml:"min_reward_risk"`
	LotSize               float64 `json:"lot_size" yaml:"lot_size"`
}

// CooldownConfig mirrors cooldown.Config
type CooldownConfig struct {
	Cooldown           Duration `json:"cooldown" yaml:"cooldown"`
	LossCooldown       Duration `json:"loss_cooldown" yaml:"loss_cooldown"`
	MinMovePct         float64  `json:"min_move_pct" yaml:"min_move_pct"`
	MinReentryScore    float64  `json:"min_reentry_score" yaml:"min_reentry_score"`
	MaxReentriesPerDay int      `json:"max_reentries_per_day" yaml:"max_reentries_per_day"`
}

// FeedConfig selects the quote source
type FeedConfig struct {
	Type        string   `json:"type" yaml:"type"` // "http" or "replay"
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	Token       string   `json:"token,omitempty" yaml:"token,omitempty"`
	ReplayFile  string   `json:"replay_file,omitempty" yaml:"replay_file,omitempty"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	BatchSize   int      `json:"batch_size" yaml:"batch_size"`
	MaxQuoteAge Duration `json:"max_quote_age" yaml:"max_quote_age"`
}

// BrokerConfig is used in live mode
type BrokerConfig struct {
	Type         string   `json:"type" yaml:"type"` // "rest" or "sim"
	URL          string   `json:"url,omitempty" yaml:"url,omitempty"`
	Token        string   `json:"token,omitempty" yaml:"token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	Attempts     int      `json:"attempts" yaml:"attempts"`
	Backoff      Duration `json:"backoff" yaml:"backoff"`
	MaxBackoff   Duration `json:"max_backoff" yaml:"max_backoff"`
	Timeout      Duration `json:"timeout" yaml:"timeout"`
}

// SignalsConfig points at the candidate file written by the scorer
type SignalsConfig struct {
	Path    string   `json:"path" yaml:"path"`
	MaxAge  Duration `json:"max_age" yaml:"max_age"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "sqlite", "postgres" or "memory"
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN        string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"` // optional CSV mirror
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
}

// AlertsConfig lists the notification channels
type AlertsConfig struct {
	DiscordURL  string   `json:"discord_url,omitempty" yaml:"discord_url,omitempty"`
	WebhookURL  string   `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Log         bool     `json:"log" yaml:"log"`
	MinSeverity string   `json:"min_severity" yaml:"min_severity"`
	PerHour     int      `json:"per_hour" yaml:"per_hour"`
	SendTimeout Duration `json:"send_timeout" yaml:"send_timeout"`
}

// StatusConfig controls where snapshots are published
type StatusConfig struct {
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"` // e.g. ":8080"
}

// ProfilingConfig enables continuous profiling
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ServerAddress string `json:"server_address,omitempty" yaml:"server_address,omitempty"`
	AppName       string `json:"app_name,omitempty" yaml:"app_name,omitempty"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on extension)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv fills secrets from the environment when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBrokerToken); v != "" {
		c.Broker.Token = v
	}
	if v := os.Getenv(EnvFeedToken); v != "" {
		c.Feed.Token = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Journal.DSN = v
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine format by extension
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func fraction(name string, v float64) error {
	if v < 0 || v >= 1 {
		return fmt.Errorf("%s must be between 0 and 1", name)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if _, err := executor.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("mode must be 'paper' or 'live'")
	}
	if c.Mode != string(executor.Live) && c.Account.StartingCash <= 0 {
		return fmt.Errorf("account.starting_cash must be positive")
	}

	if c.Trading.Interval.D() <= 0 {
		return fmt.Errorf("trading.interval must be positive")
	}
	if k, err := order.ParseKind(c.Trading.EntryKind); err != nil || k == order.Stop {
		return fmt.Errorf("trading.entry_kind must be 'market' or 'limit'")
	}
	if _, err := c.Session(); err != nil {
		return fmt.Errorf("trading session: %w", err)
	}

	if c.Exits.StopLossPct <= 0 || c.Exits.StopLossPct >= 1 {
		return fmt.Errorf("exits.stop_loss_pct must be between 0 and 1")
	}
	if c.Exits.TakeProfitPct <= 0 {
		return fmt.Errorf("exits.take_profit_pct must be positive")
	}
	if err := fraction("exits.trailing_stop_pct", c.Exits.TrailingStopPct); err != nil {
		return err
	}

	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be positive")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be between 0 and 1")
	}
	for name, v := range map[string]float64{
		"risk.small_account_pct":      c.Risk.SmallAccountPct,
		"risk.max_risk_per_trade_pct": c.Risk.MaxRiskPerTradePct,
		"risk.max_daily_loss_pct":     c.Risk.MaxDailyLossPct,
		"risk.max_drawdown_pct":       c.Risk.MaxDrawdownPct,
	} {
		if err := fraction(name, v); err != nil {
			return err
		}
	}
	if c.Risk.MaxDailyLoss < 0 || c.Risk.MaxConsecutiveLosses < 0 || c.Risk.LotSize < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}

	if c.Cooldown.Cooldown.D() < 0 || c.Cooldown.LossCooldown.D() < 0 {
		return fmt.Errorf("cooldown durations must not be negative")
	}
	if c.Cooldown.MaxReentriesPerDay < 0 {
		return fmt.Errorf("cooldown.max_reentries_per_day must not be negative")
	}

	switch c.Feed.Type {
	case "http":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url required for http feed")
		}
	case "replay":
		if c.Feed.ReplayFile == "" {
			return fmt.Errorf("feed.replay_file required for replay feed")
		}
	default:
		return fmt.Errorf("feed.type must be 'http' or 'replay'")
	}
	if c.Feed.MaxQuoteAge.D() <= 0 {
		return fmt.Errorf("feed.max_quote_age must be positive")
	}

	if c.Mode == string(executor.Live) {
		switch c.Broker.Type {
		case "rest":
			if c.Broker.URL == "" {
				return fmt.Errorf("broker.url required for rest broker")
			}
		case "sim":
		default:
			return fmt.Errorf("broker.type must be 'rest' or 'sim'")
		}
	}

	if c.Signals.Path == "" {
		return fmt.Errorf("signals.path is required")
	}

	switch c.Journal.Type {
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal dsn required for Postgres type (or set %s)", EnvPostgresDSN)
		}
	case "memory":
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'postgres' or 'memory'")
	}
	if (c.Journal.TradesFile == "") != (c.Journal.EquityFile == "") {
		return fmt.Errorf("journal trades_file and equity_file must be set together")
	}

	if _, err := notify.ParseSeverity(c.Alerts.MinSeverity); err != nil {
		return fmt.Errorf("alerts.min_severity: %w", err)
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address required when profiling is enabled")
	}
	return nil
}

// Session builds the market session from the trading section.
func (c *Config) Session() (market.Session, error) {
	s := market.DefaultSession()
	if c.Trading.Timezone != "" {
		loc, err := time.LoadLocation(c.Trading.Timezone)
		if err != nil {
			return s, fmt.Errorf("timezone: %w", err)
		}
		s.Location = loc
	}
	for _, f := range []struct {
		val string
		dst *market.TimeOfDay
	}{
		{c.Trading.MarketOpen, &s.Open},
		{c.Trading.MarketClose, &s.Close},
		{c.Trading.WindowStart, &s.WindowStart},
		{c.Trading.WindowEnd, &s.WindowEnd},
	} {
		if f.val == "" {
			continue
		}
		t, err := market.ParseTimeOfDay(f.val)
		if err != nil {
			return s, err
		}
		*f.dst = t
	}
	return s, s.Validate()
}

func (c *Config) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxOpenPositions:      c.Risk.MaxOpenPositions,
		MaxPositionPct:        c.Risk.MaxPositionPct,
		SmallAccountThreshold: c.Risk.SmallAccountThreshold,
		SmallAccountPct:       c.Risk.SmallAccountPct,
		MaxRiskPerTradePct:    c.Risk.MaxRiskPerTradePct,
		MaxDailyLoss:          c.Risk.MaxDailyLoss,
		MaxDailyLossPct:       c.Risk.MaxDailyLossPct,
		MaxDrawdownPct:        c.Risk.MaxDrawdownPct,
		MaxConsecutiveLosses:  c.Risk.MaxConsecutiveLosses,
		MinRewardRisk:         c.Risk.MinRewardRisk,
		LotSize:               c.Risk.LotSize,
	}
}

func (c *Config) CooldownConfig() cooldown.Config {
	return cooldown.Config{
		Cooldown:           c.Cooldown.Cooldown.D(),
		LossCooldown:       c.Cooldown.LossCooldown.D(),
		MinMovePct:         c.Cooldown.MinMovePct,
		MinReentryScore:    c.Cooldown.MinReentryScore,
		MaxReentriesPerDay: c.Cooldown.MaxReentriesPerDay,
	}
}

// ExecutorConfig maps the file onto executor.Config.
func (c *Config) ExecutorConfig() (executor.Config, error) {
	mode, err := executor.ParseMode(c.Mode)
	if err != nil {
		return executor.Config{}, err
	}
	kind, err := order.ParseKind(c.Trading.EntryKind)
	if err != nil {
		return executor.Config{}, err
	}
	universe := make([]string, 0, len(c.Trading.Universe))
	for _, s := range c.Trading.Universe {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			universe = append(universe, s)
		}
	}
	return executor.Config{
		Mode:            mode,
		Interval:        c.Trading.Interval.D(),
		Universe:        universe,
		EntryKind:       kind,
		OrderTTL:        c.Trading.OrderTTL.D(),
		FillTimeout:     c.Trading.FillTimeout.D(),
		PollInterval:    c.Trading.PollInterval.D(),
		SignalTimeout:   c.Signals.Timeout.D(),
		StopLossPct:     c.Exits.StopLossPct,
		TakeProfitPct:   c.Exits.TakeProfitPct,
		TrailingStopPct: c.Exits.TrailingStopPct,
		MaxHold:         c.Exits.MaxHold.D(),
		LotSize:         c.Risk.LotSize,
		StartingCash:    c.Account.StartingCash,
	}, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	limits := risk.DefaultLimits()
	cd := cooldown.DefaultConfig()
	return &Config{
		Account: AccountConfig{
			ID:           "PAPER-001",
			Currency:     "USD",
			StartingCash: 10_000,
		},
		Mode: string(executor.Paper),
		Trading: TradingConfig{
			Interval:     Duration(10 * time.Second),
			Universe:     []string{"AAPL", "MSFT", "NVDA"},
			EntryKind:    string(order.Market),
			OrderTTL:     Duration(5 * time.Minute),
			FillTimeout:  Duration(30 * time.Second),
			PollInterval: Duration(time.Second),
			Timezone:     "America/New_York",
			MarketOpen:   "09:30",
			MarketClose:  "16:00",
			WindowStart:  "09:35",
			WindowEnd:    "15:55",
		},
		Exits: ExitsConfig{
			StopLossPct:     0.05,
			TakeProfitPct:   0.10,
			TrailingStopPct: 0.015,
			MaxHold:         Duration(4 * time.Hour),
		},
		Risk: RiskConfig{
			MaxOpenPositions:      limits.MaxOpenPositions,
			MaxPositionPct:        limits.MaxPositionPct,
			SmallAccountThreshold: limits.SmallAccountThreshold,
			SmallAccountPct:       limits.SmallAccountPct,
			MaxRiskPerTradePct:    limits.MaxRiskPerTradePct,
			MaxDailyLossPct:       limits.MaxDailyLossPct,
			MaxDrawdownPct:        limits.MaxDrawdownPct,
			MaxConsecutiveLosses:  limits.MaxConsecutiveLosses,
			LotSize:               limits.LotSize,
		},
		Cooldown: CooldownConfig{
			Cooldown:           Duration(cd.Cooldown),
			LossCooldown:       Duration(cd.LossCooldown),
			MinMovePct:         cd.MinMovePct,
			MinReentryScore:    cd.MinReentryScore,
			MaxReentriesPerDay: cd.MaxReentriesPerDay,
		},
		Feed: FeedConfig{
			Type:        "replay",
			ReplayFile:  "./quotes.csv",
			Timeout:     Duration(3 * time.Second),
			BatchSize:   50,
			MaxQuoteAge: Duration(30 * time.Second),
		},
		Simulation: order.SimConfig{
			SlippageBps:    5,
			PartialFillMin: 0.5,
			PartialFillMax: 1,
			LotSize:        limits.LotSize,
		},
		Broker: BrokerConfig{
			Type:       "sim",
			Attempts:   3,
			Backoff:    Duration(250 * time.Millisecond),
			MaxBackoff: Duration(2 * time.Second),
			Timeout:    Duration(5 * time.Second),
		},
		Signals: SignalsConfig{
			Path:    "./candidates.yaml",
			MaxAge:  Duration(15 * time.Minute),
			Timeout: Duration(5 * time.Second),
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./autotrader.sqlite",
		},
		Alerts: AlertsConfig{
			Log:         true,
			MinSeverity: "info",
			PerHour:     10,
			SendTimeout: Duration(5 * time.Second),
		},
		Status: StatusConfig{
			File: "./status.json",
		},
		Profiling: ProfilingConfig{
			AppName: "autotrader",
		},
	}
}

// RetryPolicy returns the broker call policy.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Default("broker")
	if c.Broker.Attempts > 0 {
		p.Attempts = c.Broker.Attempts
	}
	if c.Broker.Backoff > 0 {
		p.Initial = c.Broker.Backoff.D()
	}
	if c.Broker.MaxBackoff > 0 {
		p.Max = c.Broker.MaxBackoff.D()
	}
	if c.Broker.Timeout > 0 {
		p.Timeout = c.Broker.Timeout.D()
	}
	return p
}
