package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kapu/channel-snapshot/internal/constants"
	"github.com/kapu/channel-snapshot/pkg/errors"
)

type Config struct {
	YouTube YouTubeConfig
	Server  ServerConfig
	Cache   CacheConfig
	Redis   RedisConfig
	Client  ClientConfig
	Logging LoggingConfig
}

type YouTubeConfig struct {
	APIKey    string
	ChannelID string
	// Endpoint overrides the Data API base URL (tests, proxies).
	Endpoint string
}

type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

type CacheConfig struct {
	Freshness        time.Duration
	QuotaSuppression time.Duration
	ErrorCooldown    time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads .env (when present) and the process environment. Missing
// credentials are not an error here: the aggregator reports them per request.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		YouTube: YouTubeConfig{
			APIKey:    getEnv("YOUTUBE_API_KEY", ""),
			ChannelID: getEnv("YOUTUBE_CHANNEL_ID", ""),
			Endpoint:  getEnv("YOUTUBE_API_ENDPOINT", ""),
		},
		Server: ServerConfig{
			Addr:        getEnv("SERVER_ADDR", ":8888"),
			CORSOrigins: parseCommaSeparated(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
		Cache: CacheConfig{
			Freshness:        time.Duration(getEnvInt("SNAPSHOT_FRESHNESS_SECONDS", int(constants.CacheTTL.Snapshot/time.Second))) * time.Second,
			QuotaSuppression: time.Duration(getEnvInt("QUOTA_SUPPRESSION_HOURS", int(constants.CacheTTL.QuotaSuppression/time.Hour))) * time.Hour,
			ErrorCooldown:    time.Duration(getEnvInt("ERROR_COOLDOWN_SECONDS", int(constants.CacheTTL.ErrorCooldown/time.Second))) * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Client: ClientConfig{
			Endpoint: getEnv("SNAPSHOT_ENDPOINT", constants.ClientConfig.DefaultEndpoint),
			Timeout:  time.Duration(getEnvInt("SNAPSHOT_TIMEOUT_SECONDS", int(constants.ClientConfig.RequestTimeout/time.Second))) * time.Second,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
			File:   getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("SERVER_ADDR is required")
	}
	if c.Cache.Freshness <= 0 {
		return fmt.Errorf("SNAPSHOT_FRESHNESS_SECONDS must be positive")
	}
	if c.Cache.QuotaSuppression <= 0 {
		return fmt.Errorf("QUOTA_SUPPRESSION_HOURS must be positive")
	}
	if c.Cache.ErrorCooldown < 0 {
		return fmt.Errorf("ERROR_COOLDOWN_SECONDS must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is set")
	}
	return nil
}

// Credentials returns a ConfigurationError when the upstream credential or
// the channel id is missing. The credential is checked first.
func (y YouTubeConfig) Credentials() error {
	if strings.TrimSpace(y.APIKey) == "" {
		return errors.NewConfigurationError("YouTube API key is missing", "YOUTUBE_API_KEY", 500)
	}
	if strings.TrimSpace(y.ChannelID) == "" {
		return errors.NewConfigurationError("YouTube channel id is missing", "YOUTUBE_CHANNEL_ID", 400)
	}
	return nil
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
