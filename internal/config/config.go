package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/atmx/price-tracker/internal/logging"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Source kinds.
const (
	SourceCoinGecko = "coingecko"
	SourceGenerator = "generator"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retention RetentionConfig `mapstructure:"retention"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Source    SourceConfig    `mapstructure:"source"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	WS        WSConfig        `mapstructure:"ws"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig controls the listener and static assets.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	StaticDir       string        `mapstructure:"static_dir"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the sorted-set store.
type RedisConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

// CacheConfig toggles the in-memory snapshot.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RetentionConfig toggles tiered compaction.
type RetentionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
}

// IngestConfig governs the polling cadence.
type IngestConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SourceConfig selects and parameterises the upstream price source.
type SourceConfig struct {
	Kind      string          `mapstructure:"kind"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

// CoinGeckoConfig captures CoinGecko API access.
type CoinGeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	CoinID         string        `mapstructure:"coin_id"`
	VsCurrency     string        `mapstructure:"vs_currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// GeneratorConfig drives the synthetic random walk.
type GeneratorConfig struct {
	StartPrice float64 `mapstructure:"start_price"`
	Volatility float64 `mapstructure:"volatility"`
	Seed       int64   `mapstructure:"seed"`
}

// BroadcastConfig sizes per-subscriber backlogs.
type BroadcastConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// WSConfig tunes WebSocket keepalive.
type WSConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	ChartWidth  int `mapstructure:"chart_width"`
	ChartHeight int `mapstructure:"chart_height"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICETRACKER")
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
	v.SetDefault("app.name", "price-tracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.static_dir", "")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("store.driver", DriverPostgres)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "btc_prices")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key", "prices:btc")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.timezone", "Local")

	v.SetDefault("ingest.interval", "1s")
	v.SetDefault("ingest.timeout", "5s")

	v.SetDefault("source.kind", SourceCoinGecko)
	v.SetDefault("source.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("source.coingecko.api_key", "")
	v.SetDefault("source.coingecko.coin_id", "bitcoin")
	v.SetDefault("source.coingecko.vs_currency", "usd")
	v.SetDefault("source.coingecko.request_timeout", "5s")
	v.SetDefault("source.coingecko.user_agent", "price-tracker/1.0")
	v.SetDefault("source.generator.start_price", 60000.0)
	v.SetDefault("source.generator.volatility", 0.0005)
	v.SetDefault("source.generator.seed", int64(0))

	v.SetDefault("broadcast.buffer", 100)

	v.SetDefault("ws.ping_interval", "30s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")

	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 720)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
		if c.Database.Table == "" {
			return fmt.Errorf("database.table must not be empty")
		}
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis driver")
		}
		if c.Redis.Key == "" {
			return fmt.Errorf("redis.key must not be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of %s, %s, %s", DriverPostgres, DriverRedis, DriverMemory)
	}

	switch c.Source.Kind {
	case SourceCoinGecko:
		if c.Source.CoinGecko.CoinID == "" || c.Source.CoinGecko.VsCurrency == "" {
			return fmt.Errorf("source.coingecko.coin_id and vs_currency are required")
		}
	case SourceGenerator:
		if c.Source.Generator.StartPrice <= 0 {
			return fmt.Errorf("source.generator.start_price must be greater than zero")
		}
		if c.Source.Generator.Volatility < 0 {
			return fmt.Errorf("source.generator.volatility cannot be negative")
		}
	default:
		return fmt.Errorf("source.kind must be %s or %s", SourceCoinGecko, SourceGenerator)
	}

	if c.Ingest.Interval <= 0 {
		return fmt.Errorf("ingest.interval must be greater than zero")
	}
	if c.Ingest.Timeout <= 0 {
		return fmt.Errorf("ingest.timeout must be greater than zero")
	}
	if c.Broadcast.Buffer <= 0 {
		return fmt.Errorf("broadcast.buffer must be greater than zero")
	}
	if c.WS.PingInterval <= 0 || c.WS.PongWait <= c.WS.PingInterval {
		return fmt.Errorf("ws.pong_wait must exceed ws.ping_interval and both must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves retention.timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Retention.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Retention.Timezone)
	if err != nil {
		return nil, fmt.Errorf("retention.timezone: %w", err)
	}
	return loc, nil
}
