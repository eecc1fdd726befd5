package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"JWT_SECRET", "PORT", "COOKIE_SECRET",
		"REDIS_MODE", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
		"REDIS_SENTINEL_ADDRS", "REDIS_SENTINEL_MASTER",
		"CORS_ORIGIN", "WEBHOOK_TOKEN",
		"VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUBJECT",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
		"GO_ENV", "LOG_LEVEL",
		"INBOX_MAX", "INBOX_TTL_HOURS", "MAX_PUSH_DEVICES",
		"AUTH_GRACE_SECONDS", "SWEEP_INTERVAL_SECONDS",
	}
	orig := map[string]string{}
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("WEBHOOK_TOKEN", "test-webhook-token")
	os.Setenv("CORS_ORIGIN", "https://app.example.com")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.JWTSecret != "this-is-a-very-long-secret-key-for-testing-purposes" {
		t.Errorf("expected JWT_SECRET to be set correctly")
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.RedisMode != "single" {
		t.Errorf("expected REDIS_MODE to default to 'single', got '%s'", cfg.RedisMode)
	}
	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("expected default redis addr 'localhost:6379', got '%s'", cfg.RedisAddr())
	}
}

func TestValidateEnv_MissingJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing JWT_SECRET, got nil")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Errorf("expected error message about JWT_SECRET, got: %v", err)
	}
}

func TestValidateEnv_ShortJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "short")
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for short JWT_SECRET, got nil")
	}
	if !strings.Contains(err.Error(), "must be at least 32 characters") {
		t.Errorf("expected error message about JWT_SECRET length, got: %v", err)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("expected error message about PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_MissingWebhookToken(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("CORS_ORIGIN", "https://app.example.com")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing WEBHOOK_TOKEN, got nil")
	}
	if !strings.Contains(err.Error(), "WEBHOOK_TOKEN is required") {
		t.Errorf("expected error message about WEBHOOK_TOKEN, got: %v", err)
	}
}

func TestValidateEnv_MissingCorsOriginInProduction(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("WEBHOOK_TOKEN", "test-webhook-token")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing CORS_ORIGIN in production, got nil")
	}
	if !strings.Contains(err.Error(), "CORS_ORIGIN is required in production") {
		t.Errorf("expected error message about CORS_ORIGIN, got: %v", err)
	}
}

func TestValidateEnv_CorsOriginDefaultsOutsideProduction(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("WEBHOOK_TOKEN", "test-webhook-token")
	os.Setenv("GO_ENV", "development")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.CorsOrigin != "*" {
		t.Errorf("expected CORS_ORIGIN to default to '*' outside production, got '%s'", cfg.CorsOrigin)
	}
}

func TestValidateEnv_SentinelRequiresAddrs(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_MODE", "sentinel")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing REDIS_SENTINEL_ADDRS, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_SENTINEL_ADDRS is required") {
		t.Errorf("expected error message about REDIS_SENTINEL_ADDRS, got: %v", err)
	}
}

func TestValidateEnv_OptionalDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("WEBHOOK_TOKEN", "test-webhook-token")
	os.Setenv("CORS_ORIGIN", "https://app.example.com")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.InboxMax != 50 {
		t.Errorf("expected INBOX_MAX to default to 50, got %d", cfg.InboxMax)
	}
	if cfg.InboxTTL() != 24*time.Hour {
		t.Errorf("expected INBOX_TTL_HOURS to default to 24h, got %v", cfg.InboxTTL())
	}
	if cfg.MaxPushDevices != 5 {
		t.Errorf("expected MAX_PUSH_DEVICES to default to 5, got %d", cfg.MaxPushDevices)
	}
	if cfg.AuthGrace() != 10*time.Second {
		t.Errorf("expected AUTH_GRACE_SECONDS to default to 10s, got %v", cfg.AuthGrace())
	}
	if cfg.SweepInterval() != 300*time.Second {
		t.Errorf("expected SWEEP_INTERVAL_SECONDS to default to 300s, got %v", cfg.SweepInterval())
	}
}

func TestValidateEnv_OverridesInboxSettings(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("WEBHOOK_TOKEN", "test-webhook-token")
	os.Setenv("CORS_ORIGIN", "https://app.example.com")
	os.Setenv("INBOX_MAX", "100")
	os.Setenv("INBOX_TTL_HOURS", "48")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.InboxMax != 100 {
		t.Errorf("expected INBOX_MAX override to 100, got %d", cfg.InboxMax)
	}
	if cfg.InboxTTLHours != 48 {
		t.Errorf("expected INBOX_TTL_HOURS override to 48, got %d", cfg.InboxTTLHours)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}
