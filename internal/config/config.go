package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the simulator.
type Config struct {
	PriceSource PriceSource `mapstructure:"price_source"`
	Trading     Trading     `mapstructure:"trading"`
	Feed        Feed        `mapstructure:"feed"`
	Analytics   Analytics   `mapstructure:"analytics"`
	Logger      Logger      `mapstructure:"logger"`
	Server      Server      `mapstructure:"server"`
	Database    Database    `mapstructure:"database"`
}

// PriceSource holds the configuration for the external price API.
type PriceSource struct {
	BaseURL        string  `mapstructure:"base_url"`
	Symbol         string  `mapstructure:"symbol"`
	FiatCurrency   string  `mapstructure:"fiat_currency"`
	FxRate         float64 `mapstructure:"fx_rate"`
	TimeoutSec     int     `mapstructure:"timeout_sec"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	RingSize       int     `mapstructure:"ring_size"`
}

// Trading holds the configuration for the execution engine.
type Trading struct {
	FeeRate        float64 `mapstructure:"fee_rate"`
	MinTradeAmount float64 `mapstructure:"min_trade_amount"`
	MaxTradeAmount float64 `mapstructure:"max_trade_amount"`
	InitialBalance float64 `mapstructure:"initial_balance"`
	TickInterval   int     `mapstructure:"tick_interval"`
}

// Feed holds the configuration for the change-feed connection.
type Feed struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
	BaseBackoffMs int    `mapstructure:"base_backoff_ms"`
	MaxBackoffMs  int    `mapstructure:"max_backoff_ms"`
}

// Analytics holds the configuration for performance metrics.
type Analytics struct {
	CacheTTLSec int `mapstructure:"cache_ttl_sec"`
}

// Server holds the configuration for the status server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("price_source.symbol", "BTC")
	viper.SetDefault("price_source.fiat_currency", "USD")
	viper.SetDefault("price_source.fx_rate", 1.0)
	viper.SetDefault("price_source.timeout_sec", 10)
	viper.SetDefault("price_source.rate_limit", 2) // requests per second
	viper.SetDefault("price_source.rate_limit_burst", 1)
	viper.SetDefault("price_source.ring_size", 100)
	viper.SetDefault("trading.fee_rate", 0.001)
	viper.SetDefault("trading.min_trade_amount", 1)
	viper.SetDefault("trading.max_trade_amount", 1000000)
	viper.SetDefault("trading.initial_balance", 10000)
	viper.SetDefault("trading.tick_interval", 30)
	viper.SetDefault("feed.max_reconnects", 5)
	viper.SetDefault("feed.base_backoff_ms", 1000)
	viper.SetDefault("feed.max_backoff_ms", 30000)
	viper.SetDefault("analytics.cache_ttl_sec", 30)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
