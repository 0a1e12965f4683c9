package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PUSH_ENDPOINT", "https://push.example.com/v2/send")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxBatchSize != 100 {
		t.Errorf("MaxBatchSize = %d, want 100", cfg.MaxBatchSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.LogCapacity != 1000 {
		t.Errorf("LogCapacity = %d, want 1000", cfg.LogCapacity)
	}
	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.RateLimitPerSec != 100 {
		t.Errorf("RateLimitPerSec = %d, want 100", cfg.RateLimitPerSec)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_BATCH_SIZE", "50")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxBatchSize != 50 {
		t.Errorf("MaxBatchSize = %d, want 50", cfg.MaxBatchSize)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("PUSH_ENDPOINT", "https://push.example.com/v2/send")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
}

func TestLoad_RequiredFields(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PushEndpoint == "" {
		t.Error("PushEndpoint should not be empty")
	}
	if cfg.RedisURL == "" {
		t.Error("RedisURL should not be empty")
	}
}

func TestDurationHelpers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BASE_DELAY_MS", "1500")
	t.Setenv("MAX_DELAY_MS", "45000")
	t.Setenv("JITTER_MAX_MS", "250")
	t.Setenv("ATTEMPT_TIMEOUT_MS", "8000")
	t.Setenv("HEALTH_INTERVAL_SEC", "30")
	t.Setenv("PROBE_INTERVAL_SEC", "5")
	t.Setenv("DELIVERY_LOG_HORIZON_HOURS", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.BaseDelay() != 1500*time.Millisecond {
		t.Errorf("BaseDelay() = %s, want 1.5s", cfg.BaseDelay())
	}
	if cfg.MaxDelay() != 45*time.Second {
		t.Errorf("MaxDelay() = %s, want 45s", cfg.MaxDelay())
	}
	if cfg.JitterMax() != 250*time.Millisecond {
		t.Errorf("JitterMax() = %s, want 250ms", cfg.JitterMax())
	}
	if cfg.AttemptTimeout() != 8*time.Second {
		t.Errorf("AttemptTimeout() = %s, want 8s", cfg.AttemptTimeout())
	}
	if cfg.HealthInterval() != 30*time.Second {
		t.Errorf("HealthInterval() = %s, want 30s", cfg.HealthInterval())
	}
	if cfg.ProbeInterval() != 5*time.Second {
		t.Errorf("ProbeInterval() = %s, want 5s", cfg.ProbeInterval())
	}
	if cfg.LogHorizon() != 12*time.Hour {
		t.Errorf("LogHorizon() = %s, want 12h", cfg.LogHorizon())
	}
}
