package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Server struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Log defines the logger configuration options.
type Log struct {
	Level       string `mapstructure:"level"`       // "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // rotated log file (optional)
	Environment string `mapstructure:"environment"` // "dev" or "prod"
}

type Upstream struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"user_agent"`
	RetryCount int           `mapstructure:"retry_count"`
}

// Provider tunes one upstream. An empty BaseURL keeps the adapter's
// production default. RPS <= 0 disables rate limiting unless MinInterval
// is set.
type Provider struct {
	BaseURL     string        `mapstructure:"base_url"`
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type Providers struct {
	TradingView  Provider `mapstructure:"tradingview"`
	Yahoo        Provider `mapstructure:"yahoo"`
	Stooq        Provider `mapstructure:"stooq"`
	CoinGecko    Provider `mapstructure:"coingecko"`
	ExchangeRate Provider `mapstructure:"exchangerate"`
	NSE          Provider `mapstructure:"nse"`
}

type Commodity struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type Market struct {
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CandleConcurrency int           `mapstructure:"candle_concurrency"`
}

type Stream struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Server    Server    `mapstructure:"server"`
	Log       Log       `mapstructure:"log"`
	Upstream  Upstream  `mapstructure:"upstream"`
	Providers Providers `mapstructure:"providers"`
	Commodity Commodity `mapstructure:"commodity"`
	Market    Market    `mapstructure:"market"`
	Stream    Stream    `mapstructure:"stream"`
}

func Default() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Log: Log{Level: "info", Format: "json", Environment: "prod"},
		Upstream: Upstream{
			Timeout:    8 * time.Second,
			RetryCount: 1,
		},
		Providers: Providers{
			TradingView:  Provider{RPS: 5, Burst: 5},
			Yahoo:        Provider{RPS: 5, Burst: 5},
			Stooq:        Provider{RPS: 4, Burst: 4},
			CoinGecko:    Provider{MinInterval: 2 * time.Second},
			ExchangeRate: Provider{RPS: 1, Burst: 2},
			NSE:          Provider{RPS: 3, Burst: 6},
		},
		Commodity: Commodity{CacheTTL: 12 * time.Second},
		Market:    Market{CacheTTL: 12 * time.Second, CandleConcurrency: 8},
		Stream:    Stream{Enabled: true},
	}
}

// Load builds the configuration from defaults, an optional config.yaml,
// a .env file and the environment, in increasing precedence. path names an
// explicit config file; when empty, config.yaml is looked up in . and
// ./config and skipped if absent. Environment keys are the upper-cased
// dotted keys with dots replaced by underscores (SERVER_PORT,
// PROVIDERS_NSE_RPS).
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_file", d.Log.OutputFile)
	v.SetDefault("log.environment", d.Log.Environment)

	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.user_agent", d.Upstream.UserAgent)
	v.SetDefault("upstream.retry_count", d.Upstream.RetryCount)

	for key, p := range map[string]Provider{
		"tradingview":  d.Providers.TradingView,
		"yahoo":        d.Providers.Yahoo,
		"stooq":        d.Providers.Stooq,
		"coingecko":    d.Providers.CoinGecko,
		"exchangerate": d.Providers.ExchangeRate,
		"nse":          d.Providers.NSE,
	} {
		prefix := "providers." + key + "."
		v.SetDefault(prefix+"base_url", p.BaseURL)
		v.SetDefault(prefix+"rps", p.RPS)
		v.SetDefault(prefix+"burst", p.Burst)
		v.SetDefault(prefix+"min_interval", p.MinInterval)
	}

	v.SetDefault("commodity.cache_ttl", d.Commodity.CacheTTL)
	v.SetDefault("market.cache_ttl", d.Market.CacheTTL)
	v.SetDefault("market.candle_concurrency", d.Market.CandleConcurrency)
	v.SetDefault("stream.enabled", d.Stream.Enabled)
}
