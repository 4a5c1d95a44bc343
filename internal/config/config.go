// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion or pathological values.
const (
	maxWaitTimeout         = 120 * time.Second
	maxReadyStateTimeout   = 10 * time.Minute
	maxHTTPClientTimeout   = 10 * time.Minute
	maxBrowserIdleShutdown = 30 * time.Minute
	maxRateLimitRPM        = 10000
	minAPIKeyLength        = 16
)

// Config holds all application configuration, loaded from the environment at
// startup and treated as an injected value — never process-wide ambient
// state. It is passed explicitly to the BrowserPool, the dispatcher, and the
// HTTP server.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless        bool
	DisableSandbox  bool
	BrowserPath     string
	BrowserIdleWait time.Duration

	// Navigation wait settings
	ReadyStateTarget   string
	ReadyStateTimeout  time.Duration
	DefaultWaitTimeout time.Duration

	// Outbound plain-HTTP client
	HTTPClientTimeout time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Optional API key authentication
	APIKeyEnabled bool
	APIKey        string

	// Optional rate limiting
	RateLimitEnabled bool
	RateLimitRPM     int

	// Logging
	LogLevel string

	// Selectors hot-reload
	SelectorsPath string
}

// Load reads configuration from the environment, falling back to the
// service's documented defaults.
func Load() *Config {
	cfg := &Config{
		Host:               getEnvString("ALITA_HOST", "0.0.0.0"),
		Port:               getEnvInt("ALITA_PORT", 4000),
		Headless:           getEnvBool("ALITA_BROWSER_HEADLESS", false),
		DisableSandbox:     getEnvBool("ALITA_DISABLE_SANDBOX", false),
		BrowserPath:        getEnvString("ALITA_BROWSER_PATH", ""),
		BrowserIdleWait:    getEnvFloatSeconds("ALITA_BROWSER_IDLE_SECONDS", 10),
		ReadyStateTarget:   getEnvString("ALITA_READY_STATE_TARGET", "complete"),
		ReadyStateTimeout:  getEnvFloatSeconds("ALITA_READY_STATE_TIMEOUT", 20),
		DefaultWaitTimeout: getEnvFloatSeconds("ALITA_DEFAULT_WAIT_TIMEOUT", 10),
		HTTPClientTimeout:  getEnvFloatSeconds("ALITA_HTTP_TIMEOUT", 20),
		CORSAllowedOrigins: getEnvStringSlice("ALITA_CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:           getEnvString("ALITA_LOG_LEVEL", "info"),
		SelectorsPath:      getEnvString("ALITA_SELECTORS_PATH", ""),
	}

	cfg.APIKey = getEnvString("ALITA_API_KEY", "")
	cfg.APIKeyEnabled = cfg.APIKey != ""

	cfg.RateLimitRPM = getEnvInt("ALITA_RATE_LIMIT_RPM", 0)
	cfg.RateLimitEnabled = cfg.RateLimitRPM > 0

	return cfg
}

// Validate clamps out-of-range values and logs a warning for each, rather
// than failing startup outright.
func (c *Config) Validate() {
	if c.Port <= 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 4000")
		c.Port = 4000
	}
	if c.ReadyStateTarget == "" {
		log.Warn().Msg("Empty ready state target, using default 'complete'")
		c.ReadyStateTarget = "complete"
	}
	if c.DefaultWaitTimeout <= 0 || c.DefaultWaitTimeout > maxWaitTimeout {
		log.Warn().Dur("value", c.DefaultWaitTimeout).Msg("wait_timeout default out of range (0,120s], clamping to 10s")
		c.DefaultWaitTimeout = 10 * time.Second
	}
	if c.ReadyStateTimeout <= 0 || c.ReadyStateTimeout > maxReadyStateTimeout {
		log.Warn().Dur("value", c.ReadyStateTimeout).Msg("ready state timeout out of range, clamping to 20s")
		c.ReadyStateTimeout = 20 * time.Second
	}
	if c.HTTPClientTimeout <= 0 || c.HTTPClientTimeout > maxHTTPClientTimeout {
		log.Warn().Dur("value", c.HTTPClientTimeout).Msg("http client timeout out of range, clamping to 20s")
		c.HTTPClientTimeout = 20 * time.Second
	}
	if c.BrowserIdleWait <= 0 || c.BrowserIdleWait > maxBrowserIdleShutdown {
		log.Warn().Dur("value", c.BrowserIdleWait).Msg("browser idle shutdown out of range, clamping to 10s")
		c.BrowserIdleWait = 10 * time.Second
	}
	if c.RateLimitEnabled && c.RateLimitRPM > maxRateLimitRPM {
		log.Warn().Int("rpm", c.RateLimitRPM).Msg("rate limit above maximum, clamping")
		c.RateLimitRPM = maxRateLimitRPM
	}
	if c.APIKeyEnabled && len(c.APIKey) < minAPIKeyLength {
		log.Warn().Int("length", len(c.APIKey)).Msg("API key shorter than recommended minimum length")
	}
	if len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS defaults to '*' — restrict this in production")
	}
}

// Helper functions for environment variable parsing.

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// getEnvFloatSeconds parses a float number of seconds into a time.Duration.
func getEnvFloatSeconds(key string, defaultSeconds float64) time.Duration {
	if value := os.Getenv(key); value != "" {
		seconds, err := strconv.ParseFloat(value, 64)
		if err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
		log.Warn().Str("key", key).Str("value", value).Float64("default", defaultSeconds).
			Msg("Invalid duration in environment variable, using default")
	}
	return time.Duration(defaultSeconds * float64(time.Second))
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
