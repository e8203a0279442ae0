package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Logger   Logger   `mapstructure:"logger"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Auth     Auth     `mapstructure:"auth"`
	Notifier Notifier `mapstructure:"notifier"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Port           int     `mapstructure:"port"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
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

// Ledger holds the tunables for settlement and reconciliation.
type Ledger struct {
	LockTimeoutMs      int     `mapstructure:"lock_timeout_ms"`
	MaxConflictRetries int     `mapstructure:"max_conflict_retries"`
	FeeRatePct         float64 `mapstructure:"fee_rate_pct"`
	RecoveryGraceSec   int     `mapstructure:"recovery_grace_sec"`
	RecoverySweepSec   int     `mapstructure:"recovery_sweep_sec"`
}

// Auth holds the configuration for token issuance.
type Auth struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenTTLMin int    `mapstructure:"token_ttl_min"`
}

// Notifier holds the configuration for the settlement webhook.
type Notifier struct {
	WebhookURL     string  `mapstructure:"webhook_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("server.rate_limit", 50) // requests per second across /api
	viper.SetDefault("server.rate_limit_burst", 100)
	viper.SetDefault("ledger.lock_timeout_ms", 5000)
	viper.SetDefault("ledger.max_conflict_retries", 3)
	viper.SetDefault("ledger.fee_rate_pct", 0)
	viper.SetDefault("ledger.recovery_grace_sec", 60)
	viper.SetDefault("ledger.recovery_sweep_sec", 300)
	viper.SetDefault("auth.token_ttl_min", 60)
	viper.SetDefault("notifier.rate_limit", 5)
	viper.SetDefault("notifier.rate_limit_burst", 10)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
