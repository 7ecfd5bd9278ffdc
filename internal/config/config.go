package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	BreakerStoreRedis  = "redis"
	BreakerStoreMemory = "memory"

	// A Create holds its PENDING row across up to two upstream calls (add,
	// then lookup on duplicate). The sweeper must never see such a row.
	pendingTTLCallFactor = 4
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	HikCentralBaseURL            string `env:"HIKCENTRAL_BASE_URL,required=true"`
	HikCentralAppKey             string `env:"HIKCENTRAL_APP_KEY,required=true"`
	HikCentralAppSecret          string `env:"HIKCENTRAL_APP_SECRET,required=true"`
	HikCentralUserID             string `env:"HIKCENTRAL_USER_ID,default=admin"`
	HikCentralOrgIndexCode       string `env:"HIKCENTRAL_ORG_INDEX_CODE,default=1"`
	HikCentralPersonCodePrefix   string `env:"HIKCENTRAL_PERSON_CODE_PREFIX,default=LYVE_"`
	HikCentralInsecureSkipVerify bool   `env:"HIKCENTRAL_INSECURE_SKIP_VERIFY,default=false"`
	HikCentralDuplicateCodes     string `env:"HIKCENTRAL_DUPLICATE_CODES,default=1016"`
	HikCentralNotFoundCodes      string `env:"HIKCENTRAL_NOT_FOUND_CODES,default=1029"`

	APIKey string `env:"API_KEY,required=true"`

	BreakerFailureThreshold   int    `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerRecoveryTimeoutSec int    `env:"BREAKER_RECOVERY_TIMEOUT_SEC,default=60"`
	BreakerStore              string `env:"BREAKER_STORE,default=redis"`

	UpstreamTimeoutMs       int    `env:"UPSTREAM_TIMEOUT_MS,default=5000"`
	UpstreamRateLimitPerSec int    `env:"UPSTREAM_RATE_LIMIT_PER_SEC,default=20"`
	UpstreamRateLimitWaitMs int    `env:"UPSTREAM_RATE_LIMIT_WAIT_MS,default=2000"`
	MaxBatchSize            int    `env:"MAX_BATCH_SIZE,default=100"`
	BatchConcurrency        int    `env:"BATCH_CONCURRENCY,default=4"`
	MaxImageBytes           int    `env:"MAX_IMAGE_BYTES,default=2097152"`
	MinFaceQuality          int    `env:"MIN_FACE_QUALITY,default=60"`
	StaleScanIntervalSec    int    `env:"STALE_SCAN_INTERVAL_SEC,default=60"`
	PendingTTLSec           int    `env:"PENDING_TTL_SEC,default=600"`
	WorkerConcurrency       int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort                 int    `env:"API_PORT,default=8080"`
	LogLevel                string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the bridge cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.HikCentralBaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid config: HIKCENTRAL_BASE_URL must be an http(s) url")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("invalid config: API_KEY must not be blank")
	}

	switch c.BreakerStore {
	case BreakerStoreRedis, BreakerStoreMemory:
	default:
		return fmt.Errorf("invalid config: BREAKER_STORE must be %q or %q", BreakerStoreRedis, BreakerStoreMemory)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"BREAKER_FAILURE_THRESHOLD", c.BreakerFailureThreshold},
		{"BREAKER_RECOVERY_TIMEOUT_SEC", c.BreakerRecoveryTimeoutSec},
		{"UPSTREAM_TIMEOUT_MS", c.UpstreamTimeoutMs},
		{"UPSTREAM_RATE_LIMIT_PER_SEC", c.UpstreamRateLimitPerSec},
		{"UPSTREAM_RATE_LIMIT_WAIT_MS", c.UpstreamRateLimitWaitMs},
		{"MAX_BATCH_SIZE", c.MaxBatchSize},
		{"BATCH_CONCURRENCY", c.BatchConcurrency},
		{"MAX_IMAGE_BYTES", c.MaxImageBytes},
		{"STALE_SCAN_INTERVAL_SEC", c.StaleScanIntervalSec},
		{"PENDING_TTL_SEC", c.PendingTTLSec},
		{"WORKER_CONCURRENCY", c.WorkerConcurrency},
		{"API_PORT", c.APIPort},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", p.name)
		}
	}

	if c.MinFaceQuality < 0 || c.MinFaceQuality > 100 {
		return fmt.Errorf("invalid config: MIN_FACE_QUALITY must be between 0 and 100")
	}

	if minTTL := pendingTTLCallFactor * c.UpstreamCallBudget(); c.PendingTTL() < minTTL {
		return fmt.Errorf("invalid config: PENDING_TTL_SEC must be at least %s for the configured upstream timeout and rate limit wait", minTTL)
	}

	return nil
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutMs) * time.Millisecond
}

func (c *Config) UpstreamRateLimitWait() time.Duration {
	return time.Duration(c.UpstreamRateLimitWaitMs) * time.Millisecond
}

// UpstreamCallBudget is the longest one upstream call may take: the rate
// limiter queue, the request and its audit write, each bounded separately.
func (c *Config) UpstreamCallBudget() time.Duration {
	return c.UpstreamRateLimitWait() + 2*c.UpstreamTimeout()
}

// BreakerTrialLease outlasts any single call so a live trial is never
// overtaken by a second one.
func (c *Config) BreakerTrialLease() time.Duration {
	return 2 * c.UpstreamCallBudget()
}

func (c *Config) BreakerRecoveryTimeout() time.Duration {
	return time.Duration(c.BreakerRecoveryTimeoutSec) * time.Second
}

func (c *Config) StaleScanInterval() time.Duration {
	return time.Duration(c.StaleScanIntervalSec) * time.Second
}

func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLSec) * time.Second
}

func (c *Config) DuplicateCodes() []string {
	return splitCodes(c.HikCentralDuplicateCodes)
}

func (c *Config) NotFoundCodes() []string {
	return splitCodes(c.HikCentralNotFoundCodes)
}

func splitCodes(raw string) []string {
	var codes []string
	for _, part := range strings.Split(raw, ",") {
		if code := strings.TrimSpace(part); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}
