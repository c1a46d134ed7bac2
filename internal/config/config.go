package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Logger   Logger   `mapstructure:"logger"`
	Exchange Exchange `mapstructure:"exchange"`
	Auth     Auth     `mapstructure:"auth"`
	Trading  Trading  `mapstructure:"trading"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
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

// Exchange holds the configuration shared by all BingX API clients.
type Exchange struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Timeout returns the per-request timeout as a duration.
func (e Exchange) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Auth holds the configuration for user authentication.
type Auth struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

// TokenTTL returns the access token lifetime as a duration.
func (a Auth) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// Trading holds the configuration for the dispatch logic.
type Trading struct {
	SettleDelayMillis int `mapstructure:"settle_delay_millis"`
}

// SettleDelay is the pause between closing an opposite position and opening
// the new one, so the exchange can register the closed state.
func (t Trading) SettleDelay() time.Duration {
	return time.Duration(t.SettleDelayMillis) * time.Millisecond
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
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("database.dsn", "auto_trader.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("exchange.timeout_seconds", 10)
	viper.SetDefault("exchange.rate_limit", 20) // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5)
	viper.SetDefault("auth.token_ttl_minutes", 720)
	viper.SetDefault("trading.settle_delay_millis", 1000)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
