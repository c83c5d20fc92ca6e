package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Cooldown  CooldownConfig  `mapstructure:"cooldown"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Store     StoreConfig     `mapstructure:"store"`
	Report    ReportConfig    `mapstructure:"report"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type AppConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFile       string        `mapstructure:"log_file"`
}

type ExchangeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
	Quote     string `mapstructure:"quote"`
}

type TradingConfig struct {
	ProtectionMode       string           `mapstructure:"protection_mode"`
	ProtectionPercentage float64          `mapstructure:"protection_percentage"`
	ProtectionThreshold  float64          `mapstructure:"protection_threshold"`
	MaxPositions         int              `mapstructure:"max_positions"`
	OrderSize            float64          `mapstructure:"order_size"`
	MinOrderSize         float64          `mapstructure:"min_order_size"`
	AverageDownStepPct   float64          `mapstructure:"average_down_step_pct"`
	AverageDownEnabled   bool             `mapstructure:"average_down_enabled"`
	GreenRatio           GreenRatioConfig `mapstructure:"green_ratio"`
}

// GreenRatioConfig tunes the adaptive sell margin. Zero values fall back to
// the built-in table.
type GreenRatioConfig struct {
	StaleAfter      time.Duration         `mapstructure:"stale_after"`
	StaleMargin     float64               `mapstructure:"stale_margin"`
	SmallBookSize   int                   `mapstructure:"small_book_size"`
	SmallBookMargin float64               `mapstructure:"small_book_margin"`
	Steps           []GreenRatioStepEntry `mapstructure:"steps"`
	DefaultMargin   float64               `mapstructure:"default_margin"`
}

type GreenRatioStepEntry struct {
	Below  float64 `mapstructure:"below"`
	Margin float64 `mapstructure:"margin"`
}

type CooldownConfig struct {
	BuyDelay       time.Duration `mapstructure:"buy_delay"`
	SellDelay      time.Duration `mapstructure:"sell_delay"`
	GlobalCooldown time.Duration `mapstructure:"global_cooldown"`
	SellLockout    time.Duration `mapstructure:"sell_lockout"`
	CleanupMaxAge  time.Duration `mapstructure:"cleanup_max_age"`
}

type FiltersConfig struct {
	MinVolatilityPct float64 `mapstructure:"min_volatility_pct"`
	VolatilityWindow int     `mapstructure:"volatility_window"`
	RSIPeriod        int     `mapstructure:"rsi_period"`
	RSIThreshold     float64 `mapstructure:"rsi_threshold"`
	RecentHighRatio  float64 `mapstructure:"recent_high_ratio"`
	RecentHighDays   int     `mapstructure:"recent_high_days"`
}

type BlacklistConfig struct {
	Path string `mapstructure:"path"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type ReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

func (c *Config) applyDefaults() {
	if c.App.CycleInterval <= 0 {
		c.App.CycleInterval = time.Minute
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.Exchange.Quote) == "" {
		c.Exchange.Quote = "EUR"
	}
	if strings.TrimSpace(c.Trading.ProtectionMode) == "" {
		c.Trading.ProtectionMode = "percentage"
	}
	if c.Trading.ProtectionPercentage <= 0 {
		c.Trading.ProtectionPercentage = 80
	}
	if c.Trading.ProtectionThreshold <= 0 {
		c.Trading.ProtectionThreshold = 50
	}
	if c.Trading.MaxPositions <= 0 {
		c.Trading.MaxPositions = 10
	}
	if c.Trading.OrderSize <= 0 {
		c.Trading.OrderSize = 50
	}
	if c.Trading.MinOrderSize <= 0 {
		c.Trading.MinOrderSize = 10
	}
	if c.Trading.AverageDownStepPct <= 0 {
		c.Trading.AverageDownStepPct = 0.02
	}
	if c.Filters.MinVolatilityPct <= 0 {
		c.Filters.MinVolatilityPct = 5
	}
	if c.Filters.VolatilityWindow <= 0 {
		c.Filters.VolatilityWindow = 24
	}
	if c.Filters.RSIPeriod <= 0 {
		c.Filters.RSIPeriod = 14
	}
	if c.Filters.RSIThreshold <= 0 {
		c.Filters.RSIThreshold = 70
	}
	if c.Filters.RecentHighRatio <= 0 {
		c.Filters.RecentHighRatio = 0.95
	}
	if c.Filters.RecentHighDays <= 0 {
		c.Filters.RecentHighDays = 30
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = "krypto.db"
	}
	if c.Report.Enabled && strings.TrimSpace(c.Report.Path) == "" {
		c.Report.Path = "report.html"
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Listen) == "" {
		c.HTTP.Listen = ":8080"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Exchange.APIKey) == "" {
		return fmt.Errorf("exchange.api_key is required (or set KRYPTO_API_KEY)")
	}
	if strings.TrimSpace(c.Exchange.APISecret) == "" {
		return fmt.Errorf("exchange.api_secret is required (or set KRYPTO_API_SECRET)")
	}
	switch strings.ToLower(c.Trading.ProtectionMode) {
	case "full", "percentage", "threshold":
	default:
		return fmt.Errorf("trading.protection_mode must be full, percentage or threshold, got %q",
			c.Trading.ProtectionMode)
	}
	if c.Trading.ProtectionPercentage > 100 {
		return fmt.Errorf("trading.protection_percentage must be <= 100")
	}
	if c.Trading.AverageDownStepPct >= 1 {
		return fmt.Errorf("trading.average_down_step_pct is a fraction, got %v",
			c.Trading.AverageDownStepPct)
	}
	if c.Trading.MinOrderSize > c.Trading.OrderSize {
		return fmt.Errorf("trading.min_order_size cannot exceed trading.order_size")
	}
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be debug, info, warn or error, got %q", c.App.LogLevel)
	}
	return nil
}
