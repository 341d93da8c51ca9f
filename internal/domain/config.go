package domain

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete FraudShield configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline configuration
	Geo     GeoConfig     `json:"geo"`
	Scoring ScoringConfig `json:"scoring"`
	Captcha CaptchaConfig `json:"captcha"`
	Webhook WebhookConfig `json:"webhook"`

	// Consumer group identity for the bus workers
	ConsumerGroup string `json:"consumerGroup"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// GeoConfig holds geo-IP lookup settings.
type GeoConfig struct {
	CityDBPath    string        `json:"cityDbPath"`
	ASNDBPath     string        `json:"asnDbPath"`
	LookupTimeout time.Duration `json:"lookupTimeout"`
	CacheTTL      time.Duration `json:"cacheTtl"`
}

// ScoringConfig holds risk scoring settings.
type ScoringConfig struct {
	// CaptchaThreshold is independent of the merchant fraud threshold and
	// may be lower.
	CaptchaThreshold int `json:"captchaThreshold"`

	HighRiskCountries []string `json:"highRiskCountries"`

	SessionVelocityLimit int64 `json:"sessionVelocityLimit"`
	IPVelocityLimit      int64 `json:"ipVelocityLimit"`

	VelocityWindow time.Duration `json:"velocityWindow"`

	// FailsafeTimeout bounds the whole synchronous evaluation path.
	FailsafeTimeout time.Duration `json:"failsafeTimeout"`
}

// CaptchaConfig holds captcha provider settings.
type CaptchaConfig struct {
	VerifyURL string        `json:"verifyUrl"`
	Secret    string        `json:"secret"`
	SiteKey   string        `json:"siteKey"`
	Timeout   time.Duration `json:"timeout"`
}

// WebhookConfig holds merchant webhook delivery settings.
type WebhookConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the development configuration: SQLite, in-memory
// cache, in-process bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudshield.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			BatchSize:         50,
			BatchWait:         250 * time.Millisecond,
			ReconnectWait:     5 * time.Second,
		},
		Geo: GeoConfig{
			CityDBPath:    "./data/GeoLite2-City.mmdb",
			ASNDBPath:     "./data/GeoLite2-ASN.mmdb",
			LookupTimeout: 500 * time.Millisecond,
			CacheTTL:      24 * time.Hour,
		},
		Scoring: ScoringConfig{
			CaptchaThreshold:     50,
			HighRiskCountries:    []string{"NG", "RU", "VN", "PK", "ID"},
			SessionVelocityLimit: 10,
			IPVelocityLimit:      20,
			VelocityWindow:       24 * time.Hour,
			FailsafeTimeout:      3 * time.Second,
		},
		Captcha: CaptchaConfig{
			Timeout: 5 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		ConsumerGroup: "fraudshield",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudshield",
		},
	}
}

// LoadFromEnv overlays FRAUDSHIELD_* environment variables on the defaults.
// Unset variables leave the default in place.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("FRAUDSHIELD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FRAUDSHIELD_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("FRAUDSHIELD_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("FRAUDSHIELD_POSTGRES_HOST"); v != "" {
		cfg.Repository.Driver = "postgres"
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("FRAUDSHIELD_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Repository.PostgresPort = port
		}
	}
	cfg.Repository.PostgresUser = envOr("FRAUDSHIELD_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = envOr("FRAUDSHIELD_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = envOr("FRAUDSHIELD_POSTGRES_DB", cfg.Repository.PostgresDB)

	if v := os.Getenv("FRAUDSHIELD_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
		cfg.Cache.EnableTwoPhase = true
		cfg.Cache.LocalMaxSize = 1000
	}
	cfg.Cache.RedisPassword = envOr("FRAUDSHIELD_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	if v := os.Getenv("FRAUDSHIELD_KAFKA_BROKERS"); v != "" {
		cfg.EventBus.Type = "kafka"
		cfg.EventBus.Brokers = strings.Split(v, ",")
	}
	cfg.ConsumerGroup = envOr("FRAUDSHIELD_CONSUMER_GROUP", cfg.ConsumerGroup)

	cfg.Geo.CityDBPath = envOr("FRAUDSHIELD_GEO_CITY_DB", cfg.Geo.CityDBPath)
	cfg.Geo.ASNDBPath = envOr("FRAUDSHIELD_GEO_ASN_DB", cfg.Geo.ASNDBPath)

	if v := os.Getenv("FRAUDSHIELD_CAPTCHA_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scoring.CaptchaThreshold = n
		}
	}
	if v := os.Getenv("FRAUDSHIELD_HIGH_RISK_COUNTRIES"); v != "" {
		cfg.Scoring.HighRiskCountries = strings.Split(v, ",")
	}

	cfg.Captcha.VerifyURL = envOr("FRAUDSHIELD_CAPTCHA_VERIFY_URL", cfg.Captcha.VerifyURL)
	cfg.Captcha.Secret = envOr("FRAUDSHIELD_CAPTCHA_SECRET", cfg.Captcha.Secret)
	cfg.Captcha.SiteKey = envOr("FRAUDSHIELD_CAPTCHA_SITE_KEY", cfg.Captcha.SiteKey)

	cfg.Logging.Level = envOr("FRAUDSHIELD_LOG_LEVEL", cfg.Logging.Level)
	if os.Getenv("FRAUDSHIELD_TRACING") == "true" {
		cfg.Tracing.Enabled = true
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
