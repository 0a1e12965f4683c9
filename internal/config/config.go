package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	PushEndpoint  string `env:"PUSH_ENDPOINT,required=true"`
	PushAuthToken string `env:"PUSH_AUTH_TOKEN"`
	RedisURL      string `env:"REDIS_URL,required=true"`

	MaxBatchSize int `env:"MAX_BATCH_SIZE,default=100"`

	MaxRetries           int     `env:"MAX_RETRIES,default=3"`
	BaseDelayMillis      int     `env:"BASE_DELAY_MS,default=1000"`
	MaxDelayMillis       int     `env:"MAX_DELAY_MS,default=30000"`
	BackoffMultiplier    float64 `env:"BACKOFF_MULTIPLIER,default=2"`
	JitterMaxMillis      int     `env:"JITTER_MAX_MS,default=1000"`
	AttemptTimeoutMillis int     `env:"ATTEMPT_TIMEOUT_MS,default=10000"`

	HealthIntervalSeconds int `env:"HEALTH_INTERVAL_SEC,default=60"`
	ProbeIntervalSeconds  int `env:"PROBE_INTERVAL_SEC,default=15"`
	LogCapacity           int `env:"DELIVERY_LOG_CAPACITY,default=1000"`
	LogHorizonHours       int `env:"DELIVERY_LOG_HORIZON_HOURS,default=24"`

	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	APIPort         int    `env:"API_PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMillis) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMillis) * time.Millisecond
}

func (c *Config) JitterMax() time.Duration {
	return time.Duration(c.JitterMaxMillis) * time.Millisecond
}

func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMillis) * time.Millisecond
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

func (c *Config) LogHorizon() time.Duration {
	return time.Duration(c.LogHorizonHours) * time.Hour
}
