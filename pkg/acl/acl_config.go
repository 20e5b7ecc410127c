package acl

import (
	"time"

	"aegis/pkg/config"
)

// Config is immutable per adapter instance. Zero values are normalized
// by withDefaults at adapter construction.
type Config struct {
	Timeout          time.Duration
	ConnectTimeout   time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryExpBase     float64
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	RatePerSecond    float64
	RateBurst        int
	CacheEnabled     bool
	CacheTTL         time.Duration
	CacheMaxEntries  int
	FallbackEnabled  bool
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.RetryExpBase <= 1 {
		c.RetryExpBase = 2
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 50
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 100
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = 1024
	}
	return c
}

// DefaultConfig is the baseline every adapter starts from.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		CacheEnabled:    true,
		FallbackEnabled: true,
	}.withDefaults()
}

// SolverDefaults suits deterministic, potentially long-running solver
// calls: generous timeout, hour-long cache.
func SolverDefaults() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.CacheTTL = time.Hour
	cfg.MaxRetries = 2
	return cfg
}

// PolicyDefaults suits authorization decisions: tight timeout, short
// cache since authorization state changes.
func PolicyDefaults() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 3 * time.Second
	cfg.CacheTTL = 60 * time.Second
	cfg.MaxRetries = 2
	return cfg
}

// ConfigFromEnv layers environment overrides onto a base config using
// a per-adapter prefix, e.g. AEGIS_SOLVER_TIMEOUT_MS.
func ConfigFromEnv(prefix string, base Config) Config {
	cfg := base.withDefaults()
	cfg.Timeout = config.EnvDurationMS(prefix+"_TIMEOUT_MS", cfg.Timeout)
	cfg.ConnectTimeout = config.EnvDurationMS(prefix+"_CONNECT_TIMEOUT_MS", cfg.ConnectTimeout)
	cfg.MaxRetries = config.EnvInt(prefix+"_MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryBaseDelay = config.EnvDurationMS(prefix+"_RETRY_BASE_DELAY_MS", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = config.EnvDurationMS(prefix+"_RETRY_MAX_DELAY_MS", cfg.RetryMaxDelay)
	cfg.RetryExpBase = config.EnvFloat(prefix+"_RETRY_EXP_BASE", cfg.RetryExpBase)
	cfg.FailureThreshold = config.EnvInt(prefix+"_CIRCUIT_FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.RecoveryTimeout = time.Second * time.Duration(config.EnvInt(prefix+"_CIRCUIT_RECOVERY_SEC", int(cfg.RecoveryTimeout/time.Second)))
	cfg.HalfOpenMaxCalls = config.EnvInt(prefix+"_CIRCUIT_HALF_OPEN_MAX_CALLS", cfg.HalfOpenMaxCalls)
	cfg.RatePerSecond = config.EnvFloat(prefix+"_RATE_LIMIT_PER_SECOND", cfg.RatePerSecond)
	cfg.RateBurst = config.EnvInt(prefix+"_RATE_LIMIT_BURST", cfg.RateBurst)
	cfg.CacheEnabled = config.EnvBool(prefix+"_CACHE_ENABLED", cfg.CacheEnabled)
	cfg.CacheTTL = time.Second * time.Duration(config.EnvInt(prefix+"_CACHE_TTL_SEC", int(cfg.CacheTTL/time.Second)))
	cfg.CacheMaxEntries = config.EnvInt(prefix+"_CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.FallbackEnabled = config.EnvBool(prefix+"_FALLBACK_ENABLED", cfg.FallbackEnabled)
	return cfg.withDefaults()
}
