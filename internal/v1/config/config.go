package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the gateway process.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// Cookie handling
	CookieSecret string

	// Redis
	RedisMode         string // "single", "sentinel"
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisSentinelAddrs string
	RedisSentinelMaster string

	// CORS
	CorsOrigin string

	// Webhook ingress
	WebhookToken string

	// Web push (VAPID)
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	// Telegram relay
	TelegramBotToken string
	TelegramChatID   string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string

	InboxMax          int
	InboxTTLHours     int
	MaxPushDevices    int
	AuthGraceSeconds  int
	SweepIntervalSecs int

	// Rate limits (ulule/limiter formatted strings, e.g. "100-M")
	RateLimitWsIP      string
	RateLimitWebhook   string
	RateLimitApiGlobal string
}

// AuthGrace returns the unauthenticated connection grace period as a duration.
func (c *Config) AuthGrace() time.Duration {
	return time.Duration(c.AuthGraceSeconds) * time.Second
}

// SweepInterval returns the stale-connection sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// InboxTTL returns the notification inbox entry TTL as a duration.
func (c *Config) InboxTTL() time.Duration {
	return time.Duration(c.InboxTTLHours) * time.Hour
}

// RedisAddr returns the single-node Redis address in host:port form.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.CookieSecret = os.Getenv("COOKIE_SECRET")

	cfg.RedisMode = getEnvOrDefault("REDIS_MODE", "single")
	cfg.RedisHost = getEnvOrDefault("REDIS_HOST", "localhost")
	cfg.RedisPort = getEnvOrDefault("REDIS_PORT", "6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisSentinelAddrs = os.Getenv("REDIS_SENTINEL_ADDRS")
	cfg.RedisSentinelMaster = getEnvOrDefault("REDIS_SENTINEL_MASTER", "mymaster")
	if cfg.RedisMode == "sentinel" && cfg.RedisSentinelAddrs == "" {
		errs = append(errs, "REDIS_SENTINEL_ADDRS is required when REDIS_MODE=sentinel")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	cfg.CorsOrigin = os.Getenv("CORS_ORIGIN")
	if cfg.CorsOrigin == "" {
		if cfg.GoEnv == "production" {
			errs = append(errs, "CORS_ORIGIN is required in production")
		} else {
			cfg.CorsOrigin = "*"
		}
	}

	cfg.WebhookToken = os.Getenv("WEBHOOK_TOKEN")
	if cfg.WebhookToken == "" {
		errs = append(errs, "WEBHOOK_TOKEN is required")
	}

	cfg.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	cfg.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	cfg.VAPIDSubject = getEnvOrDefault("VAPID_SUBJECT", "mailto:ops@example.com")

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.InboxMax = getEnvIntOrDefault("INBOX_MAX", 50)
	cfg.InboxTTLHours = getEnvIntOrDefault("INBOX_TTL_HOURS", 24)
	cfg.MaxPushDevices = getEnvIntOrDefault("MAX_PUSH_DEVICES", 5)
	cfg.AuthGraceSeconds = getEnvIntOrDefault("AUTH_GRACE_SECONDS", 10)
	cfg.SweepIntervalSecs = getEnvIntOrDefault("SWEEP_INTERVAL_SECONDS", 300)

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWebhook = getEnvOrDefault("RATE_LIMIT_WEBHOOK", "600-M")
	cfg.RateLimitApiGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_mode", cfg.RedisMode,
		"redis_addr", cfg.RedisAddr(),
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"inbox_max", cfg.InboxMax,
		"auth_grace_seconds", cfg.AuthGraceSeconds,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
