// Package config loads provider configuration from file, environment and
// defaults via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backend names accepted in STORAGE_BACKEND.
const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
	StorageBolt   = "bolt"
)

// ProviderConfig holds all configuration for the provider server.
// Tags use mapstructure for Viper unmarshalling.
type ProviderConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// PublicURL is the externally visible base URL; endpoint dispatch
	// compares incoming requests against it.
	PublicURL string `mapstructure:"PUBLIC_URL"`
	// Realm is sent in WWW-Authenticate challenges and Authorization headers.
	Realm string `mapstructure:"REALM"`
	// Issuer names this provider in OAuth 2.0 bearer tokens.
	Issuer string `mapstructure:"ISSUER"`

	// StorageBackend selects where tokens, clients and grants live:
	// memory, mongo or bolt. The nonce store follows it unless Redis is
	// configured.
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDBName    string `mapstructure:"MONGO_DB_NAME"`
	BoltPath       string `mapstructure:"BOLT_PATH"`
	// RedisAddr, when set, moves the nonce store to Redis.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// MaxMessageAgeMin bounds how old a signed message may be; ClockSkewMin
	// is the allowance for disagreeing clocks.
	MaxMessageAgeMin int `mapstructure:"MAX_MESSAGE_AGE_MIN"`
	ClockSkewMin     int `mapstructure:"CLOCK_SKEW_MIN"`

	RequestTokenTTLMin   int `mapstructure:"REQUEST_TOKEN_TTL_MIN"`
	AccessTokenTTLHour   int `mapstructure:"ACCESS_TOKEN_TTL_HOUR"`
	IssuanceToleranceSec int `mapstructure:"ISSUANCE_TOLERANCE_SEC"`

	VerifierFormat string `mapstructure:"VERIFIER_FORMAT"`
	VerifierLength int    `mapstructure:"VERIFIER_LENGTH"`

	// MetricsEnabled exposes Prometheus metrics on /metrics;
	// TracingEnabled installs a stdout-exporting OpenTelemetry provider.
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	TracingEnabled bool `mapstructure:"TRACING_ENABLED"`
}

// MaxMessageAge returns the configured message age bound as a duration.
func (c *ProviderConfig) MaxMessageAge() time.Duration {
	return time.Duration(c.MaxMessageAgeMin) * time.Minute
}

// ClockSkew returns the configured clock skew allowance as a duration.
func (c *ProviderConfig) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewMin) * time.Minute
}

// NonceWindow is how long consumed nonces must be remembered: the full
// acceptance window of the expiration check.
func (c *ProviderConfig) NonceWindow() time.Duration {
	return c.MaxMessageAge() + c.ClockSkew()
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ProviderConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/openauth/")
	v.AddConfigPath("$HOME/.openauth")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("REALM", "")
	v.SetDefault("ISSUER", "openauth")
	v.SetDefault("STORAGE_BACKEND", StorageMemory)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/openauth_dev")
	v.SetDefault("MONGO_DB_NAME", "openauth_dev")
	v.SetDefault("BOLT_PATH", "data/openauth.db")
	v.SetDefault("MAX_MESSAGE_AGE_MIN", 13)
	v.SetDefault("CLOCK_SKEW_MIN", 10)
	v.SetDefault("REQUEST_TOKEN_TTL_MIN", 60)
	v.SetDefault("ACCESS_TOKEN_TTL_HOUR", 0) // 0 = non-expiring
	v.SetDefault("ISSUANCE_TOLERANCE_SEC", 1)
	v.SetDefault("VERIFIER_FORMAT", "alphanumeric")
	v.SetDefault("VERIFIER_LENGTH", 10)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("TRACING_ENABLED", false)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults and env vars carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ProviderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	switch cfg.StorageBackend {
	case StorageMemory, StorageMongo, StorageBolt:
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	return &cfg, nil
}
