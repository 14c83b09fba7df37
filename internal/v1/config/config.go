package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Auth
	Auth0Domain   string
	Auth0Audience string
	SkipAuth      bool

	// CORS / WebSocket origins
	AllowedOrigins string

	// Redis history archive
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Static room definitions (JSON file, optional)
	RoomsFile string

	// Refuse client-created rooms with wildcard (empty) allow-lists
	ForbidWildcardRooms bool

	// History request limiter (per connection)
	HistoryRateMax    int
	HistoryRateWindow time.Duration

	// HTTP surface rate limits (ulule format, e.g. "100-M")
	RateLimitAPI  string
	RateLimitWsIP string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error listing every problem found.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.RoomsFile = os.Getenv("ROOMS_FILE")
	cfg.ForbidWildcardRooms = os.Getenv("FORBID_WILDCARD_ROOMS") == "true"

	// History request limiter: 20 requests per 60s per connection by default
	cfg.HistoryRateMax = 20
	if raw := os.Getenv("HISTORY_RATE_MAX"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors = append(errors, fmt.Sprintf("HISTORY_RATE_MAX must be a positive integer (got '%s')", raw))
		} else {
			cfg.HistoryRateMax = n
		}
	}
	cfg.HistoryRateWindow = 60 * time.Second
	if raw := os.Getenv("HISTORY_RATE_WINDOW_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors = append(errors, fmt.Sprintf("HISTORY_RATE_WINDOW_SECONDS must be a positive integer (got '%s')", raw))
		} else {
			cfg.HistoryRateWindow = time.Duration(n) * time.Second
		}
	}

	// HTTP rate limits (M = Minute, H = Hour)
	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "300-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"rooms_file", cfg.RoomsFile,
		"forbid_wildcard_rooms", cfg.ForbidWildcardRooms,
		"history_rate_max", cfg.HistoryRateMax,
		"history_rate_window", cfg.HistoryRateWindow.String(),
		"rate_limit_api", cfg.RateLimitAPI,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
