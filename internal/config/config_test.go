package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"ALITA_HOST", "ALITA_PORT", "ALITA_BROWSER_HEADLESS", "ALITA_DISABLE_SANDBOX",
		"ALITA_BROWSER_PATH", "ALITA_BROWSER_IDLE_SECONDS", "ALITA_READY_STATE_TARGET",
		"ALITA_READY_STATE_TIMEOUT", "ALITA_DEFAULT_WAIT_TIMEOUT", "ALITA_HTTP_TIMEOUT",
		"ALITA_CORS_ALLOWED_ORIGINS", "ALITA_LOG_LEVEL", "ALITA_SELECTORS_PATH",
		"ALITA_API_KEY", "ALITA_RATE_LIMIT_RPM",
	} {
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("expected default host '0.0.0.0', got %q", cfg.Host)
	}
	if cfg.Port != 4000 {
		t.Errorf("expected default port 4000, got %d", cfg.Port)
	}
	if cfg.Headless {
		t.Error("expected Headless false by default")
	}
	if cfg.BrowserIdleWait != 10*time.Second {
		t.Errorf("expected default idle wait 10s, got %v", cfg.BrowserIdleWait)
	}
	if cfg.ReadyStateTarget != "complete" {
		t.Errorf("expected default ready state 'complete', got %q", cfg.ReadyStateTarget)
	}
	if cfg.ReadyStateTimeout != 20*time.Second {
		t.Errorf("expected default ready state timeout 20s, got %v", cfg.ReadyStateTimeout)
	}
	if cfg.HTTPClientTimeout != 20*time.Second {
		t.Errorf("expected default http timeout 20s, got %v", cfg.HTTPClientTimeout)
	}
	if cfg.APIKeyEnabled {
		t.Error("expected API key auth disabled by default")
	}
	if cfg.RateLimitEnabled {
		t.Error("expected rate limiting disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("ALITA_PORT", "9090")
	os.Setenv("ALITA_BROWSER_HEADLESS", "true")
	os.Setenv("ALITA_BROWSER_IDLE_SECONDS", "2.5")
	os.Setenv("ALITA_API_KEY", "a-very-long-secret-key")
	defer clearEnv(t)

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("expected headless true")
	}
	if cfg.BrowserIdleWait != 2500*time.Millisecond {
		t.Errorf("expected idle wait 2.5s, got %v", cfg.BrowserIdleWait)
	}
	if !cfg.APIKeyEnabled {
		t.Error("expected API key auth enabled when ALITA_API_KEY is set")
	}
}

func TestValidateClampsOutOfRange(t *testing.T) {
	cfg := &Config{
		Port:               0,
		ReadyStateTarget:   "complete",
		DefaultWaitTimeout: 500 * time.Second,
		ReadyStateTimeout:  20 * time.Second,
		HTTPClientTimeout:  20 * time.Second,
		BrowserIdleWait:    10 * time.Second,
		CORSAllowedOrigins: []string{"*"},
	}

	cfg.Validate()

	if cfg.Port != 4000 {
		t.Errorf("expected invalid port clamped to 4000, got %d", cfg.Port)
	}
	if cfg.DefaultWaitTimeout != 10*time.Second {
		t.Errorf("expected out-of-range wait timeout clamped to 10s, got %v", cfg.DefaultWaitTimeout)
	}
}
