// Package config loads service settings from config.yaml and SHOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server    Server
	Database  Database
	Redis     Redis
	Kafka     Kafka
	Loyalty   Loyalty
	Catalog   Catalog
	Lock      Lock
	RateLimit RateLimit
	Admin     Admin
	Otel      Otel
	Log       Log
}

type Server struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

type Database struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	Path         string
	MaxOpenConns int
	MaxIdleConns int
}

// Redis is optional. An empty Addr keeps the cache and rate limiter in process.
type Redis struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// Kafka is optional. No brokers means events are only logged.
type Kafka struct {
	Brokers   []string
	Topic     string
	QueueSize int
}

type Loyalty struct {
	BonusRate       decimal.Decimal
	MaxDiscountRate decimal.Decimal
	ReferralBonus   int64
	SignupBonus     int64
}

type Catalog struct {
	LowStockThreshold int64
}

type Lock struct {
	Timeout time.Duration
}

type RateLimit struct {
	Cooldown         time.Duration
	CheckoutCooldown time.Duration
}

type Admin struct {
	Token string
}

type Otel struct {
	Endpoint    string
	ServiceName string
}

type Log struct {
	Level       string
	Development bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "shop")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "shop.db")
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "shop-events")
	v.SetDefault("kafka.queue_size", 1024)

	v.SetDefault("loyalty.bonus_rate", "0.05")
	v.SetDefault("loyalty.max_discount_rate", "0.05")
	v.SetDefault("loyalty.referral_bonus", 100)
	v.SetDefault("loyalty.signup_bonus", 0)

	v.SetDefault("catalog.low_stock_threshold", 3)
	v.SetDefault("lock.timeout", 3*time.Second)

	v.SetDefault("ratelimit.cooldown", time.Second)
	v.SetDefault("ratelimit.checkout_cooldown", 2*time.Second)

	v.SetDefault("admin.token", "")

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "shop-service")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads config.yaml from the given directories (the working directory when none
// are given), applies SHOP_ environment overrides and validates the result.
// A missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("SHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	bonusRate, err := decimal.NewFromString(v.GetString("loyalty.bonus_rate"))
	if err != nil {
		return nil, fmt.Errorf("invalid loyalty.bonus_rate: %w", err)
	}
	discountRate, err := decimal.NewFromString(v.GetString("loyalty.max_discount_rate"))
	if err != nil {
		return nil, fmt.Errorf("invalid loyalty.max_discount_rate: %w", err)
	}

	cfg := &Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("server.max_body_bytes"),
		},
		Database: Database{
			Driver:       v.GetString("database.driver"),
			Host:         v.GetString("database.host"),
			Port:         v.GetInt("database.port"),
			User:         v.GetString("database.user"),
			Password:     v.GetString("database.password"),
			Name:         v.GetString("database.name"),
			SSLMode:      v.GetString("database.sslmode"),
			Path:         v.GetString("database.path"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		Kafka: Kafka{
			Brokers:   brokers(v.GetStringSlice("kafka.brokers")),
			Topic:     v.GetString("kafka.topic"),
			QueueSize: v.GetInt("kafka.queue_size"),
		},
		Loyalty: Loyalty{
			BonusRate:       bonusRate,
			MaxDiscountRate: discountRate,
			ReferralBonus:   v.GetInt64("loyalty.referral_bonus"),
			SignupBonus:     v.GetInt64("loyalty.signup_bonus"),
		},
		Catalog:   Catalog{LowStockThreshold: v.GetInt64("catalog.low_stock_threshold")},
		Lock:      Lock{Timeout: v.GetDuration("lock.timeout")},
		RateLimit: RateLimit{Cooldown: v.GetDuration("ratelimit.cooldown"), CheckoutCooldown: v.GetDuration("ratelimit.checkout_cooldown")},
		Admin:     Admin{Token: v.GetString("admin.token")},
		Otel:      Otel{Endpoint: v.GetString("otel.endpoint"), ServiceName: v.GetString("otel.service_name")},
		Log:       Log{Level: v.GetString("log.level"), Development: v.GetBool("log.development")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// brokers accepts both a YAML list and a comma separated env value.
func brokers(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, b := range strings.Split(item, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for postgres"))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	one := decimal.NewFromInt(1)
	if c.Loyalty.BonusRate.IsNegative() || c.Loyalty.BonusRate.GreaterThan(one) {
		errs = append(errs, errors.New("loyalty.bonus_rate must be within [0, 1]"))
	}
	if c.Loyalty.MaxDiscountRate.IsNegative() || c.Loyalty.MaxDiscountRate.GreaterThan(one) {
		errs = append(errs, errors.New("loyalty.max_discount_rate must be within [0, 1]"))
	}
	if c.Loyalty.ReferralBonus < 0 || c.Loyalty.SignupBonus < 0 {
		errs = append(errs, errors.New("loyalty bonuses must not be negative"))
	}
	if c.Catalog.LowStockThreshold < 0 {
		errs = append(errs, errors.New("catalog.low_stock_threshold must not be negative"))
	}
	if c.Lock.Timeout <= 0 {
		errs = append(errs, errors.New("lock.timeout must be positive"))
	}
	if c.RateLimit.Cooldown < 0 || c.RateLimit.CheckoutCooldown < 0 {
		errs = append(errs, errors.New("ratelimit cooldowns must not be negative"))
	}
	return errors.Join(errs...)
}
