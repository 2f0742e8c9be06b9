package resilience

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds retry and circuit breaker settings for one call site.
// Named presets cover the common profiles; per-deployment tuning goes
// through FromEnv or direct field overrides.
type Config struct {
	// MaxAttempts is the total number of attempts per Execute call,
	// including the first one.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts. The delay grows as
	// RetryBackoff * 2^attempt.
	RetryBackoff time.Duration
	// Jitter randomizes each retry delay over [0, computed delay).
	Jitter bool
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before allowing a trial call.
	Cooldown time.Duration
	// HalfOpenMaxCalls bounds concurrent trial calls while half-open.
	HalfOpenMaxCalls uint32
	// FailureRatio optionally opens the breaker when the failure ratio over
	// a closed-state window reaches this value. Zero disables ratio tripping.
	FailureRatio float64
	// MinRequests is the minimum sample size before FailureRatio applies.
	MinRequests uint32
}

// DefaultConfig provides balanced settings for most endpoints.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		RetryBackoff:     500 * time.Millisecond,
		Jitter:           true,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		HalfOpenMaxCalls: 1,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// CriticalConfig retries aggressively for endpoints the relay cannot
// make progress without.
func CriticalConfig() Config {
	return Config{
		MaxAttempts:      5,
		RetryBackoff:     time.Second,
		Jitter:           true,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// BestEffortConfig gives up quickly for endpoints whose results are optional.
func BestEffortConfig() Config {
	return Config{
		MaxAttempts:      2,
		RetryBackoff:     2 * time.Second,
		Jitter:           false,
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
		HalfOpenMaxCalls: 1,
		FailureRatio:     0,
		MinRequests:      0,
	}
}

// DatabaseConfig tolerates longer blips before tripping so a transient
// network issue does not take the store offline.
func DatabaseConfig() Config {
	return Config{
		MaxAttempts:      3,
		RetryBackoff:     time.Second,
		Jitter:           true,
		FailureThreshold: 5,
		Cooldown:         2 * time.Minute,
		HalfOpenMaxCalls: 1,
		FailureRatio:     0.6,
		MinRequests:      15,
	}
}

// PublisherConfig is tuned for broker publishes: short backoff so a batch
// is not stalled, fast breaker so a down broker fails whole cycles quickly.
func PublisherConfig() Config {
	return Config{
		MaxAttempts:      3,
		RetryBackoff:     200 * time.Millisecond,
		Jitter:           true,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

func (cfg *Config) normalize() {
	defaults := DefaultConfig()

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}

	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}

	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = defaults.HalfOpenMaxCalls
	}
}

// Preset resolves a named preset. Unknown names fall back to DefaultConfig.
func Preset(name string) Config {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "critical":
		return CriticalConfig()
	case "besteffort", "best-effort", "lenient":
		return BestEffortConfig()
	case "database", "db":
		return DatabaseConfig()
	case "publisher", "broker":
		return PublisherConfig()
	default:
		return DefaultConfig()
	}
}

// FromEnv loads a config starting from the named preset and applies
// environment overrides. Variables are read as <prefix>_MAX_ATTEMPTS,
// <prefix>_RETRY_BACKOFF, <prefix>_FAILURE_THRESHOLD, <prefix>_COOLDOWN,
// and <prefix>_PRESET.
func FromEnv(prefix string) Config {
	cfg := Preset(os.Getenv(prefix + "_PRESET"))

	if raw := os.Getenv(prefix + "_MAX_ATTEMPTS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.MaxAttempts = value
		}
	}

	if raw := os.Getenv(prefix + "_RETRY_BACKOFF"); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			cfg.RetryBackoff = value
		}
	}

	if raw := os.Getenv(prefix + "_FAILURE_THRESHOLD"); raw != "" {
		if value, err := strconv.ParseUint(raw, 10, 32); err == nil && value > 0 {
			cfg.FailureThreshold = uint32(value)
		}
	}

	if raw := os.Getenv(prefix + "_COOLDOWN"); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			cfg.Cooldown = value
		}
	}

	return cfg
}
