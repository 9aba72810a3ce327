// Package config loads service configuration from defaults, an optional
// YAML file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atmx/auction-engine/internal/money"
)

// FileEnv names the environment variable holding an optional config file path.
const FileEnv = "AUCTION_CONFIG"

// Config is the typed service configuration.
type Config struct {
	// Env is "dev" or "prod". Only dev may run without a JWT secret.
	Env  string
	Port string

	DatabaseURL string
	RedisURL    string
	AMQPURL     string

	JWTSecret string
	JWTTTL    time.Duration

	CommissionRate    decimal.Decimal
	DepositRate       decimal.Decimal
	PlatformAccountID string

	RequestTimeout time.Duration
	CacheTTL       time.Duration

	SweepConcurrency int
	SweepBatch       int
	SweepInterval    time.Duration

	// BidRate is the sustained bids per second allowed per bidder; BidBurst
	// the bucket size.
	BidRate  int
	BidBurst int
}

// Dev reports whether the service runs in development mode.
func (c *Config) Dev() bool { return c.Env == "dev" }

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return ":" + c.Port }

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("amqp_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", "24h")
	v.SetDefault("commission_rate", "0.05")
	v.SetDefault("deposit_rate", "0.25")
	v.SetDefault("platform_account_id", "platform")
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("cache_ttl", "30s")
	v.SetDefault("sweep_concurrency", 8)
	v.SetDefault("sweep_batch", 500)
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("bid_rate", 5)
	v.SetDefault("bid_burst", 10)
}

// Load reads the configuration. Environment variables use the upper-case
// key names (PORT, DATABASE_URL, COMMISSION_RATE, ...).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString(FileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:               v.GetString("env"),
		Port:              v.GetString("port"),
		DatabaseURL:       v.GetString("database_url"),
		RedisURL:          v.GetString("redis_url"),
		AMQPURL:           v.GetString("amqp_url"),
		JWTSecret:         v.GetString("jwt_secret"),
		JWTTTL:            v.GetDuration("jwt_ttl"),
		PlatformAccountID: v.GetString("platform_account_id"),
		RequestTimeout:    v.GetDuration("request_timeout"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		SweepConcurrency:  v.GetInt("sweep_concurrency"),
		SweepBatch:        v.GetInt("sweep_batch"),
		SweepInterval:     v.GetDuration("sweep_interval"),
		BidRate:           v.GetInt("bid_rate"),
		BidBurst:          v.GetInt("bid_burst"),
	}

	var err error
	if cfg.CommissionRate, err = rate(v, "commission_rate"); err != nil {
		return nil, err
	}
	if cfg.DepositRate, err = rate(v, "deposit_rate"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func rate(v *viper.Viper, key string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(v.GetString(key))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config %s: %w", key, err)
	}
	if err := money.ValidateRate(r); err != nil {
		return decimal.Zero, fmt.Errorf("config %s=%s: %w", key, r, err)
	}
	return r, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Env != "dev" && c.Env != "prod" {
		errs = append(errs, fmt.Errorf("config env: %q is neither dev nor prod", c.Env))
	}
	if c.JWTSecret == "" && !c.Dev() {
		errs = append(errs, errors.New("config jwt_secret: required outside dev"))
	}
	if c.PlatformAccountID == "" {
		errs = append(errs, errors.New("config platform_account_id: required"))
	}
	if c.SweepConcurrency < 1 {
		errs = append(errs, fmt.Errorf("config sweep_concurrency: %d < 1", c.SweepConcurrency))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config request_timeout: %s is not positive", c.RequestTimeout))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("config jwt_ttl: %s is not positive", c.JWTTTL))
	}
	return errors.Join(errs...)
}
