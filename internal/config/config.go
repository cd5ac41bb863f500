package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"rate-oracle-updater/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Trigger  TriggerConfig  `mapstructure:"trigger"`
	RateAPI  RateAPIConfig  `mapstructure:"rate_api"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Server   ServerConfig   `mapstructure:"server"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PairConfig names the tracked currency pair.
type PairConfig struct {
	Base  string `mapstructure:"base"`
	Quote string `mapstructure:"quote"`
}

// TriggerConfig carries the update policy.
type TriggerConfig struct {
	Pair            PairConfig    `mapstructure:"pair"`
	UpdateThreshold float64       `mapstructure:"update_threshold"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	UpdateInterval  time.Duration `mapstructure:"update_interval"`
	TickTimeout     time.Duration `mapstructure:"tick_timeout"`
	StartDelay      time.Duration `mapstructure:"start_delay"`
}

// RateAPIConfig selects and parameterises the price feed.
type RateAPIConfig struct {
	Provider  string        `mapstructure:"provider"`
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// OracleConfig covers the on-chain oracle contract.
type OracleConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	ContractAddress     string        `mapstructure:"contract_address"`
	Account             string        `mapstructure:"account"`
	PrivateKey          string        `mapstructure:"private_key"`
	ChainID             int64         `mapstructure:"chain_id"`
	GasLimit            uint64        `mapstructure:"gas_limit"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
}

// ServerConfig controls the healthcheck/metrics listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	NotifyCommits bool           `mapstructure:"notify_commits"`
	FailureStreak int            `mapstructure:"failure_streak"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissing marks a required value that was not configured.
	ErrMissing = errors.New("not configured")
	// ErrInvalid marks a value outside its allowed range.
	ErrInvalid = errors.New("invalid value")
)

func missing(field string) error {
	return &ConfigError{Field: field, Err: ErrMissing}
}

func invalid(field, reason string) error {
	return &ConfigError{Field: field, Err: fmt.Errorf("%w: %s", ErrInvalid, reason)}
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("RATEORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rate-oracle-updater")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.filter", "*")
	v.SetDefault("logging.max_size_mb", 5)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("trigger.pair.base", "BTC")
	v.SetDefault("trigger.pair.quote", "USD")
	v.SetDefault("trigger.tick_timeout", "0s")
	v.SetDefault("trigger.start_delay", "0s")

	v.SetDefault("rate_api.provider", "cryptocompare")
	v.SetDefault("rate_api.url", "https://min-api.cryptocompare.com")
	v.SetDefault("rate_api.timeout", "10s")

	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.receipt_timeout", "2m")
	v.SetDefault("oracle.receipt_poll_interval", "1s")
	v.SetDefault("oracle.gas_limit", uint64(200_000))

	v.SetDefault("server.addr", ":8105")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_commits", false)
	v.SetDefault("alerting.failure_streak", 5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. Missing
// policy values are fatal so the process never starts polling half-configured.
func (c *Config) Validate() error {
	if c.Oracle.Account == "" {
		return missing("oracle.account")
	}
	if c.Trigger.UpdateThreshold == 0 {
		return missing("trigger.update_threshold")
	}
	if c.Trigger.UpdateThreshold < 0 {
		return invalid("trigger.update_threshold", "must be positive")
	}
	if c.Trigger.UpdateInterval == 0 {
		return missing("trigger.update_interval")
	}
	if c.Trigger.UpdateInterval < 0 {
		return invalid("trigger.update_interval", "must be positive")
	}
	if c.Trigger.PollInterval == 0 {
		return missing("trigger.poll_interval")
	}
	if c.Trigger.PollInterval < 0 {
		return invalid("trigger.poll_interval", "must be positive")
	}
	if c.Trigger.TickTimeout < 0 {
		return invalid("trigger.tick_timeout", "cannot be negative")
	}
	if c.Trigger.StartDelay < 0 {
		return invalid("trigger.start_delay", "cannot be negative")
	}
	if c.Trigger.Pair.Base == "" {
		return missing("trigger.pair.base")
	}
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points", "must be greater than zero")
	}
	if c.Alerting.FailureStreak < 0 {
		return invalid("alerting.failure_streak", "cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return missing("alerting.telegram.bot_token")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return missing("alerting.telegram.chat_id")
		}
	}
	return nil
}

// PollExceedsUpdateInterval reports the misconfiguration where sampling is
// slower than the staleness bound, which makes the interval rule meaningless.
func (c *Config) PollExceedsUpdateInterval() bool {
	return c.Trigger.PollInterval > c.Trigger.UpdateInterval
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
