//go:build unit

package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelayConfigNormalize(t *testing.T) {
	cfg := RelayConfig{}
	cfg.normalize()

	require.Equal(t, DefaultRelayConfig(), cfg)

	cfg = RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    25,
		MaxRetries:   10,
		BackoffBase:  2 * time.Second,
		ErrorBackoff: 10 * time.Second,
		CommitGrace:  time.Second,
	}
	cfg.normalize()

	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 25, cfg.BatchSize)
	require.Equal(t, 10, cfg.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.BackoffBase)
	require.Equal(t, 10*time.Second, cfg.ErrorBackoff)
	require.Equal(t, time.Second, cfg.CommitGrace)
}

func TestRelayConfigDefaults(t *testing.T) {
	cfg := DefaultRelayConfig()

	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, time.Minute, cfg.BackoffBase)
	require.Equal(t, time.Minute, cfg.ErrorBackoff)
	require.False(t, cfg.BackoffJitter)
}

func TestRelayConfigFromEnv(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "10s")
	t.Setenv("OUTBOX_BATCH_SIZE", "50")
	t.Setenv("OUTBOX_MAX_RETRIES", "7")
	t.Setenv("OUTBOX_BACKOFF_BASE", "30s")
	t.Setenv("OUTBOX_BACKOFF_JITTER", "true")
	t.Setenv("OUTBOX_ERROR_BACKOFF", "20s")

	cfg := RelayConfigFromEnv()

	require.Equal(t, 10*time.Second, cfg.PollInterval)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, 7, cfg.MaxRetries)
	require.Equal(t, 30*time.Second, cfg.BackoffBase)
	require.True(t, cfg.BackoffJitter)
	require.Equal(t, 20*time.Second, cfg.ErrorBackoff)
}

func TestRelayConfigFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")
	t.Setenv("OUTBOX_BATCH_SIZE", "-1")
	t.Setenv("OUTBOX_MAX_RETRIES", "many")

	require.Equal(t, DefaultRelayConfig(), RelayConfigFromEnv())
}
