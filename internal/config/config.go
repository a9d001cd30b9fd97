// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hkwarrant/internal/core"
)

// Config represents the complete configuration structure.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Broker      BrokerConfig      `yaml:"broker"`
	Monitors    []MonitorYAML     `yaml:"monitors"`
	System      SystemConfig      `yaml:"system"`
	RiskControl RiskControlConfig `yaml:"risk_control"`
	Timing      TimingConfig      `yaml:"timing"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	EngineType     string `yaml:"engine_type" validate:"required,oneof=simple dbos"`
	DatabaseURL    string `yaml:"database_url"` // required when engine_type=dbos
	RuntimeProfile string `yaml:"runtime_profile" validate:"oneof=app test"`
	StrictStartup  bool   `yaml:"strict_startup"` // false = skip mode (spec §4.11)
}

// BrokerConfig holds the broker credentials and region (spec §6 config
// inputs: LONGPORT_APP_KEY/APP_SECRET/ACCESS_TOKEN/REGION).
type BrokerConfig struct {
	AppKey      Secret `yaml:"app_key" validate:"required"`
	AppSecret   Secret `yaml:"app_secret" validate:"required"`
	AccessToken Secret `yaml:"access_token" validate:"required"`
	Region      string `yaml:"region"` // default "hk"

	// PushURL is the gorilla/websocket push feed to replay quote/
	// candlestick/order-changed events from. Empty disables it (spec
	// §4.13's push transport is optional ambient infra, not a core path).
	PushURL string `yaml:"push_url"`
}

// AutoSearchYAML is the YAML-friendly mirror of core.AutoSearchConfig;
// decimal fields are strings on the wire and parsed in ToCore.
type AutoSearchYAML struct {
	Enabled                 bool   `yaml:"enabled"`
	MinDistanceToRecallPct  string `yaml:"min_distance_to_recall_pct"`
	MinTurnoverPerMinute    string `yaml:"min_turnover_per_minute"`
	ExpiryFloorMonths       int    `yaml:"expiry_floor_months"`
	PostOpenDelayMinutes    int    `yaml:"post_open_delay_minutes"`
	SwitchDistanceRangeMin  string `yaml:"switch_distance_range_min"`
	SwitchDistanceRangeMax  string `yaml:"switch_distance_range_max"`
	MaxSearchFailuresPerDay int    `yaml:"max_search_failures_per_day"`
	ShouldRebuy             bool   `yaml:"should_rebuy"`
}

// MonitorYAML is the YAML-friendly mirror of core.MonitorConfig (spec §3).
type MonitorYAML struct {
	Code               string `yaml:"code" validate:"required"`
	StaticLongWarrant  string `yaml:"static_long_warrant"`
	StaticShortWarrant string `yaml:"static_short_warrant"`

	AutoSearch AutoSearchYAML `yaml:"auto_search"`

	IndicatorPeriodsRSI []int `yaml:"indicator_periods_rsi"`
	IndicatorPeriodsEMA []int `yaml:"indicator_periods_ema"`
	IndicatorPeriodsPSY []int `yaml:"indicator_periods_psy"`

	VerificationDelaysSeconds []int    `yaml:"verification_delays_seconds"`
	VerificationLong          []string `yaml:"verification_long"`
	VerificationShort         []string `yaml:"verification_short"`

	RiskMaxUnrealizedLossPerSymbol string `yaml:"risk_max_unrealized_loss_per_symbol"`
	RiskLiquidationDistancePctBull string `yaml:"risk_liquidation_distance_pct_bull"`
	RiskLiquidationDistancePctBear string `yaml:"risk_liquidation_distance_pct_bear"`

	CooldownMode    string `yaml:"cooldown_mode" validate:"oneof=minutes one-day half-day"`
	CooldownMinutes int    `yaml:"cooldown_minutes"`

	OwnershipSubstrings []string `yaml:"ownership_substrings"`

	TargetNotional string `yaml:"target_notional" validate:"required"`
	LotSize        int64  `yaml:"lot_size" validate:"required"`
}

// ToCore parses the YAML shape into the domain MonitorConfig, converting
// decimal strings with shopspring/decimal.
func (m MonitorYAML) ToCore() (core.MonitorConfig, error) {
	parse := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}

	minDist, err := parse(m.AutoSearch.MinDistanceToRecallPct)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: min_distance_to_recall_pct: %w", m.Code, err)
	}
	minTurnover, err := parse(m.AutoSearch.MinTurnoverPerMinute)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: min_turnover_per_minute: %w", m.Code, err)
	}
	switchMin, err := parse(m.AutoSearch.SwitchDistanceRangeMin)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: switch_distance_range_min: %w", m.Code, err)
	}
	switchMax, err := parse(m.AutoSearch.SwitchDistanceRangeMax)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: switch_distance_range_max: %w", m.Code, err)
	}
	maxLoss, err := parse(m.RiskMaxUnrealizedLossPerSymbol)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: risk_max_unrealized_loss_per_symbol: %w", m.Code, err)
	}
	liqBull, err := parse(m.RiskLiquidationDistancePctBull)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: risk_liquidation_distance_pct_bull: %w", m.Code, err)
	}
	liqBear, err := parse(m.RiskLiquidationDistancePctBear)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: risk_liquidation_distance_pct_bear: %w", m.Code, err)
	}
	notional, err := parse(m.TargetNotional)
	if err != nil {
		return core.MonitorConfig{}, fmt.Errorf("monitor %s: target_notional: %w", m.Code, err)
	}

	byDirection := map[core.Direction]core.VerificationConfig{
		core.DirectionLong:  {Indicators: m.VerificationLong},
		core.DirectionShort: {Indicators: m.VerificationShort},
	}

	return core.MonitorConfig{
		Code:               m.Code,
		StaticLongWarrant:  m.StaticLongWarrant,
		StaticShortWarrant: m.StaticShortWarrant,
		AutoSearch: core.AutoSearchConfig{
			Enabled:                 m.AutoSearch.Enabled,
			MinDistanceToRecallPct:  minDist,
			MinTurnoverPerMinute:    minTurnover,
			ExpiryFloorMonths:       m.AutoSearch.ExpiryFloorMonths,
			PostOpenDelayMinutes:    m.AutoSearch.PostOpenDelayMinutes,
			SwitchDistanceRangeMin:  switchMin,
			SwitchDistanceRangeMax:  switchMax,
			MaxSearchFailuresPerDay: m.AutoSearch.MaxSearchFailuresPerDay,
			ShouldRebuy:             m.AutoSearch.ShouldRebuy,
		},
		IndicatorPeriodsRSI:            m.IndicatorPeriodsRSI,
		IndicatorPeriodsEMA:            m.IndicatorPeriodsEMA,
		IndicatorPeriodsPSY:            m.IndicatorPeriodsPSY,
		VerificationDelaysSeconds:      m.VerificationDelaysSeconds,
		VerificationByDirection:        byDirection,
		RiskMaxUnrealizedLossPerSymbol: maxLoss,
		RiskLiquidationDistancePctBull: liqBull,
		RiskLiquidationDistancePctBear: liqBear,
		Cooldown: core.CooldownRule{
			Mode:    core.CooldownMode(m.CooldownMode),
			Minutes: m.CooldownMinutes,
		},
		OwnershipSubstrings: m.OwnershipSubstrings,
		TargetNotional:      notional,
		LotSize:             m.LotSize,
	}, nil
}

// SystemConfig contains system settings.
type SystemConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
	HealthPort   int    `yaml:"health_port"`

	// SlackWebhookURL and Telegram* feed internal/alert's channels; empty
	// values leave that channel unregistered (spec §4.9's doomsday
	// liquidation notifications, an ambient ops concern).
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// RiskControlConfig contains global risk control / doomsday settings.
type RiskControlConfig struct {
	Enabled                        bool   `yaml:"enabled"`
	DoomsdayCloseTime              string `yaml:"doomsday_close_time" validate:"required"`           // "16:00"
	DoomsdayHalfDayCloseTime       string `yaml:"doomsday_half_day_close_time" validate:"required"`   // "12:00"
	DoomsdayCancelBeforeMinutes    int    `yaml:"doomsday_cancel_before_minutes" validate:"required"` // 15
	DoomsdayLiquidateBeforeMinutes int    `yaml:"doomsday_liquidate_before_minutes" validate:"required"`
}

// TimingConfig contains timing-related settings.
type TimingConfig struct {
	MainLoopIntervalMs             int    `yaml:"main_loop_interval_ms" validate:"required"`
	BuyTimeoutSeconds               int    `yaml:"buy_timeout_seconds" validate:"required"`
	SellTimeoutSeconds              int    `yaml:"sell_timeout_seconds" validate:"required"`
	PriceUpdateIntervalMs           int64  `yaml:"price_update_interval_ms" validate:"required"`
	PriceChangeThreshold            string `yaml:"price_change_threshold"` // default 0.001
	WarrantListCacheTTLSeconds      int    `yaml:"warrant_list_cache_ttl_seconds"`
	StartupGatePollIntervalSeconds  int    `yaml:"startup_gate_poll_interval_seconds" validate:"required"`
	OpenProtectionWindowMinutes     int    `yaml:"open_protection_window_minutes"`
	BrokerThrottleMs                int    `yaml:"broker_throttle_ms"`
}

// ConcurrencyConfig contains worker pool settings.
type ConcurrencyConfig struct {
	MonitorPoolSize   int `yaml:"monitor_pool_size" validate:"required,min=1,max=100"`
	MonitorPoolBuffer int `yaml:"monitor_pool_buffer" validate:"min=1,max=10000"`
	DoomsdayPoolSize  int `yaml:"doomsday_pool_size" validate:"min=1,max=100"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateAppConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateBrokerConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateMonitors(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRiskControlConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.EngineType == "" {
		c.App.EngineType = "simple"
	}
	if c.App.EngineType != "simple" && c.App.EngineType != "dbos" {
		return ValidationError{Field: "app.engine_type", Value: c.App.EngineType, Message: "must be one of: simple, dbos"}
	}
	if c.App.EngineType == "dbos" && c.App.DatabaseURL == "" {
		return ValidationError{Field: "app.database_url", Message: "required when engine_type is 'dbos'"}
	}
	return nil
}

func (c *Config) validateBrokerConfig() error {
	if c.Broker.AppKey == "" || c.Broker.AppSecret == "" || c.Broker.AccessToken == "" {
		return ValidationError{Field: "broker", Message: "app_key, app_secret and access_token are all required"}
	}
	return nil
}

func (c *Config) validateMonitors() error {
	if len(c.Monitors) == 0 {
		return ValidationError{Field: "monitors", Message: "at least one monitor must be configured"}
	}
	seen := make(map[string]bool)
	for _, m := range c.Monitors {
		if m.Code == "" {
			return ValidationError{Field: "monitors[].code", Message: "monitor code is required"}
		}
		if seen[m.Code] {
			return ValidationError{Field: "monitors[].code", Value: m.Code, Message: "duplicate monitor code"}
		}
		seen[m.Code] = true
		if m.LotSize <= 0 {
			return ValidationError{Field: "monitors[].lot_size", Value: m.LotSize, Message: "must be positive"}
		}
		if !m.AutoSearch.Enabled && m.StaticLongWarrant == "" && m.StaticShortWarrant == "" {
			return ValidationError{Field: "monitors[].auto_search", Value: m.Code, Message: "auto_search disabled but no static warrant configured"}
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	return nil
}

func (c *Config) validateRiskControlConfig() error {
	if !c.RiskControl.Enabled {
		return nil
	}
	if c.RiskControl.DoomsdayCloseTime == "" {
		return ValidationError{Field: "risk_control.doomsday_close_time", Message: "required when risk_control.enabled"}
	}
	return nil
}

// String returns a string representation of the configuration with
// sensitive data masked by the Secret type's MarshalYAML, which
// yaml.Marshal calls for every Secret field.
func (c *Config) String() string {
	configCopy := *c
	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for local runs and tests.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			EngineType:     "simple",
			RuntimeProfile: "test",
		},
		Broker: BrokerConfig{
			AppKey:      "test_app_key",
			AppSecret:   "test_app_secret",
			AccessToken: "test_access_token",
			Region:      "hk",
		},
		Monitors: []MonitorYAML{
			{
				Code:                           "HSI",
				TargetNotional:                 "5000",
				LotSize:                        100,
				RiskMaxUnrealizedLossPerSymbol: "500",
				RiskLiquidationDistancePctBull: "1",
				RiskLiquidationDistancePctBear: "-1",
				CooldownMode:                   "minutes",
				CooldownMinutes:                30,
				AutoSearch: AutoSearchYAML{
					Enabled:                 true,
					MinDistanceToRecallPct:  "5",
					MinTurnoverPerMinute:    "10000",
					ExpiryFloorMonths:       3,
					PostOpenDelayMinutes:    5,
					SwitchDistanceRangeMin:  "2",
					SwitchDistanceRangeMax:  "15",
					MaxSearchFailuresPerDay: 3,
					ShouldRebuy:             true,
				},
			},
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
			HealthPort:   8080,
		},
		RiskControl: RiskControlConfig{
			Enabled:                        true,
			DoomsdayCloseTime:              "16:00",
			DoomsdayHalfDayCloseTime:       "12:00",
			DoomsdayCancelBeforeMinutes:    15,
			DoomsdayLiquidateBeforeMinutes: 5,
		},
		Timing: TimingConfig{
			MainLoopIntervalMs:            1000,
			BuyTimeoutSeconds:             30,
			SellTimeoutSeconds:            30,
			PriceUpdateIntervalMs:         5000,
			PriceChangeThreshold:          "0.001",
			WarrantListCacheTTLSeconds:    3,
			StartupGatePollIntervalSeconds: 5,
			OpenProtectionWindowMinutes:    1,
			BrokerThrottleMs:               30,
		},
		Concurrency: ConcurrencyConfig{
			MonitorPoolSize:   8,
			MonitorPoolBuffer: 100,
			DoomsdayPoolSize:  4,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
