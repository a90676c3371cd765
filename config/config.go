package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment" validate:"oneof=dev prod"`
	Exchanges   []ExchangeConfig `mapstructure:"exchanges" validate:"required,min=1,dive"`
	Window      WindowConfig     `mapstructure:"window"`
	Stream      StreamConfig     `mapstructure:"stream"`
	Discovery   DiscoveryConfig  `mapstructure:"discovery"`
	Log         LogConfig        `mapstructure:"log"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
	Redis       RedisConfig      `mapstructure:"redis"`
	S3          S3Config         `mapstructure:"s3"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
}

// ExchangeConfig selects one exchange stream to run. An empty symbol list
// falls back to top-pairs discovery at startup.
type ExchangeConfig struct {
	Name    string   `mapstructure:"name" validate:"required,oneof=binance kucoin"`
	WSURL   string   `mapstructure:"ws_url"`
	RESTURL string   `mapstructure:"rest_url"`
	Symbols []string `mapstructure:"symbols"`
}

type WindowConfig struct {
	SizeSeconds             uint    `mapstructure:"size_seconds" validate:"gte=1"`
	BigTransactionThreshold float64 `mapstructure:"big_transaction_threshold" validate:"gt=0"`
	BigTransactionCap       int     `mapstructure:"big_transaction_cap"`
}

func (c WindowConfig) Size() time.Duration {
	return time.Duration(c.SizeSeconds) * time.Second
}

func (c WindowConfig) Threshold() decimal.Decimal {
	return decimal.NewFromFloat(c.BigTransactionThreshold)
}

type StreamConfig struct {
	MaxRetries            uint `mapstructure:"max_retries" validate:"gte=1"`
	InitialBackoffSeconds uint `mapstructure:"initial_backoff_seconds" validate:"gte=1"`
	MaxBackoffSeconds     uint `mapstructure:"max_backoff_seconds" validate:"gte=1"`
	ReceiveTimeoutSeconds uint `mapstructure:"receive_timeout_seconds" validate:"gte=1"`
	PingTimeoutSeconds    uint `mapstructure:"ping_timeout_seconds" validate:"gte=1"`
}

func (c StreamConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

func (c StreamConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c StreamConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutSeconds) * time.Second
}

func (c StreamConfig) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutSeconds) * time.Second
}

// DiscoveryConfig drives startup symbol discovery for exchanges configured
// without an explicit symbol list.
type DiscoveryConfig struct {
	RESTURL        string `mapstructure:"rest_url"`
	TopPairsLimit  int    `mapstructure:"top_pairs_limit"`
	TimeoutSeconds uint   `mapstructure:"timeout_seconds"`
}

func (c DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

type S3Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	setDefaults(v)

	// Support environment variables with dot notation (e.g., STREAM_MAX_RETRIES)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("window.size_seconds", 10)
	v.SetDefault("window.big_transaction_threshold", 10000)
	v.SetDefault("window.big_transaction_cap", 1024)

	v.SetDefault("stream.max_retries", 10)
	v.SetDefault("stream.initial_backoff_seconds", 5)
	v.SetDefault("stream.max_backoff_seconds", 300)
	v.SetDefault("stream.receive_timeout_seconds", 30)
	v.SetDefault("stream.ping_timeout_seconds", 10)

	v.SetDefault("discovery.rest_url", "https://api.binance.com")
	v.SetDefault("discovery.top_pairs_limit", 50)
	v.SetDefault("discovery.timeout_seconds", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "prod")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":8001")
}
