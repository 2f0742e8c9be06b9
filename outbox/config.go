package outbox

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultBatchSize    = 100
	defaultMaxRetries   = 5
	defaultBackoffBase  = time.Minute
	defaultErrorBackoff = time.Minute
	defaultCommitGrace  = 30 * time.Second
)

// RelayConfig controls polling, batching, and retry scheduling.
type RelayConfig struct {
	// PollInterval is the period between dispatch cycles.
	PollInterval time.Duration
	// BatchSize is the maximum number of records claimed per cycle.
	BatchSize int
	// MaxRetries is the dead-letter ceiling: records failing this many
	// times stop being scheduled automatically.
	MaxRetries int
	// BackoffBase is the base for the per-record reschedule delay,
	// BackoffBase * 2^retryCount.
	BackoffBase time.Duration
	// BackoffJitter randomizes each reschedule delay over [0, computed delay).
	BackoffJitter bool
	// ErrorBackoff is how long the loop sleeps after a cycle-level failure
	// before polling again.
	ErrorBackoff time.Duration
	// CommitGrace bounds how long a shutdown waits for the in-flight
	// batch commit.
	CommitGrace time.Duration
}

// DefaultRelayConfig returns the baseline relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxRetries:   defaultMaxRetries,
		BackoffBase:  defaultBackoffBase,
		ErrorBackoff: defaultErrorBackoff,
		CommitGrace:  defaultCommitGrace,
	}
}

func (cfg *RelayConfig) normalize() {
	defaults := DefaultRelayConfig()

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}

	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}

	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaults.ErrorBackoff
	}

	if cfg.CommitGrace <= 0 {
		cfg.CommitGrace = defaults.CommitGrace
	}
}

// RelayConfigFromEnv loads the relay configuration from OUTBOX_* variables,
// falling back to defaults for missing or invalid values. Recognized
// variables: OUTBOX_POLL_INTERVAL, OUTBOX_BATCH_SIZE, OUTBOX_MAX_RETRIES,
// OUTBOX_BACKOFF_BASE, OUTBOX_BACKOFF_JITTER, OUTBOX_ERROR_BACKOFF.
func RelayConfigFromEnv() RelayConfig {
	cfg := DefaultRelayConfig()

	if raw := os.Getenv("OUTBOX_POLL_INTERVAL"); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			cfg.PollInterval = value
		}
	}

	if raw := os.Getenv("OUTBOX_BATCH_SIZE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.BatchSize = value
		}
	}

	if raw := os.Getenv("OUTBOX_MAX_RETRIES"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.MaxRetries = value
		}
	}

	if raw := os.Getenv("OUTBOX_BACKOFF_BASE"); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			cfg.BackoffBase = value
		}
	}

	if raw := os.Getenv("OUTBOX_BACKOFF_JITTER"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.BackoffJitter = value
		}
	}

	if raw := os.Getenv("OUTBOX_ERROR_BACKOFF"); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			cfg.ErrorBackoff = value
		}
	}

	return cfg
}
