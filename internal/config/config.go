// Package config loads server and tool settings from a YAML file, a .env
// file and LEDGER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"amm-ledger/internal/logger"
)

// EnvPrefix prefixes every environment override: http.addr -> LEDGER_HTTP_ADDR.
const EnvPrefix = "LEDGER"

// Config is the full application configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        logger.Config    `mapstructure:"log"`
	System     SystemConfig     `mapstructure:"system"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Feed       FeedConfig       `mapstructure:"feed"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	UseMemory bool `mapstructure:"use_memory"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ClickHouseConfig configures the optional trade archive. Empty DSN disables it.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type SystemConfig struct {
	SeedBalance float64 `mapstructure:"seed_balance"`
}

// RateLimitConfig bounds mutating requests per user. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type FeedConfig struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	Buffer       int           `mapstructure:"buffer"`
}

// Load reads configuration. path may be empty, in which case
// configs/config.yaml is used when present. A missing .env is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if !c.Storage.UseMemory && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required unless storage.use_memory is set")
	}
	if c.System.SeedBalance < 0 {
		return fmt.Errorf("invalid system.seed_balance: %v", c.System.SeedBalance)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("invalid ratelimit.burst: %d", c.RateLimit.Burst)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)

	v.SetDefault("storage.use_memory", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("clickhouse.dsn", "")
	v.SetDefault("jwt.secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.filename", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("system.seed_balance", 1000.0)

	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("feed.write_timeout", 10*time.Second)
	v.SetDefault("feed.ping_interval", 30*time.Second)
	v.SetDefault("feed.read_timeout", 60*time.Second)
	v.SetDefault("feed.buffer", 64)
}
