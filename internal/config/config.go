package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/intlpay/payportal/internal/atrest"
)

const (
	defaultAppName          = "PayPortal"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAuthWindow       = 59 * time.Second
	defaultMaxAmount        = "1000000"
	defaultCurrencies       = "ZAR,USD,EUR,GBP"
	defaultProvider         = "SWIFT"
	defaultPINMaxAttempts   = 5
	defaultPINLockout       = 5 * time.Minute
	defaultPaymentRateLimit = 200
	defaultSweepSchedule    = "@every 1m"
	defaultEventsExchange   = "payment_events"
	envFile                 = ".env"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	RabbitMQURL    string
	EventsExchange string
	JWTSecret      string
	JWTIssuer      string
	DataKey        []byte
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	AuthWindow        time.Duration
	MaxPaymentAmount  decimal.Decimal
	AllowedCurrencies []string
	DefaultProvider   string
	PINMaxAttempts    int
	PINLockout        time.Duration
	PaymentRateLimit  int
	AuthSweepSchedule string
}

type envConfig struct {
	AppName           string `mapstructure:"APP_NAME"`
	AppEnv            string `mapstructure:"APP_ENV"`
	Port              string `mapstructure:"PORT"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	LogFormat         string `mapstructure:"LOG_FORMAT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	RedisURL          string `mapstructure:"REDIS_URL"`
	RabbitMQURL       string `mapstructure:"RABBITMQ_URL"`
	EventsExchange    string `mapstructure:"EVENTS_EXCHANGE"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	JWTIssuer         string `mapstructure:"JWT_ISSUER"`
	DataKey           string `mapstructure:"DATA_KEY"`
	MaxPaymentAmount  string `mapstructure:"MAX_PAYMENT_AMOUNT"`
	AllowedCurrencies string `mapstructure:"ALLOWED_CURRENCIES"`
	DefaultProvider   string `mapstructure:"DEFAULT_PROVIDER"`
	PINMaxAttempts    int    `mapstructure:"PIN_MAX_ATTEMPTS"`
	PaymentRateLimit  int    `mapstructure:"PAYMENT_RATE_LIMIT_PER_HOUR"`
	AuthSweepSchedule string `mapstructure:"AUTH_SWEEP_SCHEDULE"`
}

var boundKeys = []string{
	"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "LOG_FORMAT",
	"DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "EVENTS_EXCHANGE",
	"JWT_SECRET", "JWT_ISSUER", "DATA_KEY", "MAX_PAYMENT_AMOUNT", "ALLOWED_CURRENCIES",
	"DEFAULT_PROVIDER", "PIN_MAX_ATTEMPTS", "PAYMENT_RATE_LIMIT_PER_HOUR",
	"AUTH_SWEEP_SCHEDULE",
	"SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT",
	"IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL",
	"AUTH_WINDOW_SECONDS", "AUTH_WINDOW",
	"PIN_LOCKOUT_SECONDS", "PIN_LOCKOUT",
}

// Load reads configuration from the environment (and an optional .env file)
// and populates a Config instance.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LOG_FORMAT", defaultLogFormat)
	v.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	v.SetDefault("MAX_PAYMENT_AMOUNT", defaultMaxAmount)
	v.SetDefault("ALLOWED_CURRENCIES", defaultCurrencies)
	v.SetDefault("DEFAULT_PROVIDER", defaultProvider)
	v.SetDefault("PIN_MAX_ATTEMPTS", defaultPINMaxAttempts)
	v.SetDefault("PAYMENT_RATE_LIMIT_PER_HOUR", defaultPaymentRateLimit)
	v.SetDefault("AUTH_SWEEP_SCHEDULE", defaultSweepSchedule)

	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	v.AutomaticEnv()
	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}

	var raw envConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg := Config{
		AppName:           raw.AppName,
		AppEnv:            raw.AppEnv,
		Port:              raw.Port,
		LogLevel:          strings.ToLower(raw.LogLevel),
		LogFormat:         strings.ToLower(raw.LogFormat),
		DatabaseURL:       strings.TrimSpace(raw.DatabaseURL),
		RedisURL:          strings.TrimSpace(raw.RedisURL),
		RabbitMQURL:       strings.TrimSpace(raw.RabbitMQURL),
		EventsExchange:    raw.EventsExchange,
		JWTSecret:         raw.JWTSecret,
		JWTIssuer:         strings.TrimSpace(raw.JWTIssuer),
		AllowedCurrencies: splitList(raw.AllowedCurrencies),
		DefaultProvider:   strings.ToUpper(strings.TrimSpace(raw.DefaultProvider)),
		PINMaxAttempts:    raw.PINMaxAttempts,
		PaymentRateLimit:  raw.PaymentRateLimit,
		AuthSweepSchedule: strings.TrimSpace(raw.AuthSweepSchedule),
	}

	var err error
	if cfg.ShutdownPeriod, err = duration(v, "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration(v, "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AuthWindow, err = duration(v, "AUTH_WINDOW", defaultAuthWindow); err != nil {
		return Config{}, err
	}
	if cfg.PINLockout, err = duration(v, "PIN_LOCKOUT", defaultPINLockout); err != nil {
		return Config{}, err
	}

	cfg.MaxPaymentAmount, err = decimal.NewFromString(raw.MaxPaymentAmount)
	if err != nil || !cfg.MaxPaymentAmount.IsPositive() {
		return Config{}, fmt.Errorf("invalid MAX_PAYMENT_AMOUNT %q", raw.MaxPaymentAmount)
	}

	if raw.DataKey == "" {
		return Config{}, fmt.Errorf("DATA_KEY must be set")
	}
	if cfg.DataKey, err = atrest.ParseKey(raw.DataKey); err != nil {
		return Config{}, fmt.Errorf("invalid DATA_KEY: %w", err)
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	if len(cfg.AllowedCurrencies) == 0 {
		return Config{}, fmt.Errorf("ALLOWED_CURRENCIES must list at least one currency")
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether the service may fall back to in-memory stores.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// duration reads <key>_SECONDS as an integer first, then <key> as a Go duration.
func duration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if raw := strings.TrimSpace(v.GetString(secondsKey)); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", secondsKey, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if raw := strings.TrimSpace(v.GetString(key)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
