package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Log sink kinds
const (
	SinkHTTP   = "http"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// Config holds the application configuration
type Config struct {
	Port             int
	ConfigServiceURL string
	ConfigFile       string
	RefreshInterval  time.Duration
	ForwardTimeout   time.Duration
	LogSink          string
	LogTimeout       time.Duration
	LogQueueSize     int
	LogWorkers       int
	DBPath           string
	RedisURL         string
	AdminAPIKey      string
	AdminDomain      string
	WSOrigins        []string
	MaxBodyBytes     int64
	LogLevel         string
	LogFormat        string
	Debug            bool
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first; variables already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnvAsInt("PORT", 8080),
		ConfigServiceURL: os.Getenv("CONFIG_SERVICE_URL"),
		ConfigFile:       os.Getenv("CONFIG_FILE"),
		RefreshInterval:  getEnvAsDuration("CONFIG_REFRESH_INTERVAL", 30*time.Second),
		ForwardTimeout:   getEnvAsDuration("FORWARD_TIMEOUT", 30*time.Second),
		LogSink:          getEnv("LOG_SINK", SinkHTTP),
		LogTimeout:       getEnvAsDuration("LOG_TIMEOUT", 5*time.Second),
		LogQueueSize:     getEnvAsInt("LOG_QUEUE_SIZE", 1024),
		LogWorkers:       getEnvAsInt("LOG_WORKERS", 4),
		DBPath:           getEnv("DB_PATH", "data/mockgate.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		AdminAPIKey:      os.Getenv("ADMIN_API_KEY"),
		AdminDomain:      os.Getenv("ADMIN_DOMAIN"),
		WSOrigins:        getEnvAsList("WS_ALLOWED_ORIGINS"),
		MaxBodyBytes:     int64(getEnvAsInt("MAX_BODY_BYTES", 10<<20)),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		Debug:            getEnvAsBool("DEBUG", false),
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

// Validate checks that the configuration can start a server
func (c *Config) Validate() error {
	if c.ConfigServiceURL == "" && c.ConfigFile == "" {
		return errors.New("one of CONFIG_SERVICE_URL or CONFIG_FILE is required")
	}
	switch c.LogSink {
	case SinkHTTP:
		if c.ConfigServiceURL == "" {
			return errors.New("LOG_SINK=http requires CONFIG_SERVICE_URL")
		}
	case SinkSQLite, SinkNone:
	default:
		return fmt.Errorf("unknown LOG_SINK %q", c.LogSink)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("CONFIG_REFRESH_INTERVAL must be positive, got %s", c.RefreshInterval)
	}
	if c.LogWorkers < 1 {
		return fmt.Errorf("LOG_WORKERS must be at least 1, got %d", c.LogWorkers)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("MAX_BODY_BYTES must not be negative, got %d", c.MaxBodyBytes)
	}
	if c.LogQueueSize < 1 {
		return fmt.Errorf("LOG_QUEUE_SIZE must be at least 1, got %d", c.LogQueueSize)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("30s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty entries
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
