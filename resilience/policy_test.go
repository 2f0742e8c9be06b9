//go:build unit

package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:      3,
		RetryBackoff:     time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         25 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}
}

func TestNewPolicyRequiresName(t *testing.T) {
	_, err := NewPolicy("  ", fastConfig())
	require.ErrorIs(t, err, ErrPolicyNameRequired)
}

func TestExecuteReturnsOperationResult(t *testing.T) {
	policy, err := NewPolicy("payments", fastConfig())
	require.NoError(t, err)

	result, err := policy.Execute(context.Background(), func(context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestExecuteRequiresOperation(t *testing.T) {
	policy, err := NewPolicy("payments", fastConfig())
	require.NoError(t, err)

	_, err = policy.Execute(context.Background(), nil)
	require.ErrorIs(t, err, ErrOperationRequired)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	policy, err := NewPolicy("payments", fastConfig())
	require.NoError(t, err)

	var attempts int32

	result, err := policy.Execute(context.Background(), func(context.Context) (any, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, MarkTransient(errors.New("connection dropped"))
		}

		return "recovered", nil
	})
	require.NoError(t, err)
	require.Equal(t, "recovered", result)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestExecuteDoesNotRetryPermanentFailures(t *testing.T) {
	policy, err := NewPolicy("payments", fastConfig())
	require.NoError(t, err)

	var attempts int32

	cause := errors.New("invalid payload")

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)

		return nil, cause
	})
	require.ErrorIs(t, err, cause)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestExecuteStopsWhenAttemptsExhaust(t *testing.T) {
	policy, err := NewPolicy("payments", Config{
		MaxAttempts:      2,
		RetryBackoff:     time.Millisecond,
		FailureThreshold: 10,
		Cooldown:         time.Minute,
		HalfOpenMaxCalls: 1,
	})
	require.NoError(t, err)

	var attempts int32

	cause := MarkTransient(errors.New("still down"))

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)

		return nil, cause
	})
	require.ErrorIs(t, err, cause)
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.Cooldown = time.Minute

	policy, err := NewPolicy("payments", cfg)
	require.NoError(t, err)

	cause := errors.New("boom")

	for i := 0; i < int(cfg.FailureThreshold); i++ {
		_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
			return nil, cause
		})
		require.Error(t, err)
	}

	require.Equal(t, StateOpen, policy.State())

	var called bool

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		called = true

		return nil, nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called, "open circuit must fast-fail without invoking the operation")
}

func TestOpenCircuitSkipsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureThreshold = 1
	cfg.MaxAttempts = 5
	cfg.Cooldown = time.Minute

	policy, err := NewPolicy("payments", cfg)
	require.NoError(t, err)

	var attempts int32

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)

		return nil, errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, policy.State())

	start := time.Now()

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)

		return nil, nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	require.Less(t, time.Since(start), 100*time.Millisecond, "rejection must not wait out retry backoff")
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1

	policy, err := NewPolicy("payments", cfg)
	require.NoError(t, err)

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, policy.State())

	time.Sleep(cfg.Cooldown + 10*time.Millisecond)

	result, err := policy.Execute(context.Background(), func(context.Context) (any, error) {
		return "back", nil
	})
	require.NoError(t, err)
	require.Equal(t, "back", result)
	require.Equal(t, StateClosed, policy.State())
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1

	policy, err := NewPolicy("payments", cfg)
	require.NoError(t, err)

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	time.Sleep(cfg.Cooldown + 10*time.Millisecond)

	_, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("still down")
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, policy.State())
}

func TestFallbackSubstitutesResult(t *testing.T) {
	var fallbackCause error

	policy, err := NewPolicy("payments", fastConfig(),
		WithFallback(func(_ context.Context, cause error) (any, error) {
			fallbackCause = cause

			return "cached", nil
		}))
	require.NoError(t, err)

	result, err := policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	require.Equal(t, "cached", result)
	require.Error(t, fallbackCause)
}

func TestFallbackRunsOnOpenCircuit(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1
	cfg.Cooldown = time.Minute

	var causes []error

	policy, err := NewPolicy("payments", cfg,
		WithFallback(func(_ context.Context, cause error) (any, error) {
			causes = append(causes, cause)

			return "degraded", nil
		}))
	require.NoError(t, err)

	// The failure that trips the breaker goes through the fallback too.
	result, err := policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	require.Equal(t, "degraded", result)

	result, err = policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, "degraded", result)

	require.Len(t, causes, 2)
	require.NotErrorIs(t, causes[0], ErrCircuitOpen)
	require.ErrorIs(t, causes[1], ErrCircuitOpen)
}

func TestResetClosesBreaker(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1
	cfg.Cooldown = time.Minute

	policy, err := NewPolicy("payments", cfg)
	require.NoError(t, err)

	_, _ = policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Equal(t, StateOpen, policy.State())

	policy.Reset()
	require.Equal(t, StateClosed, policy.State())

	result, err := policy.Execute(context.Background(), func(context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestStateChangeHookObservesTransitions(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []State
	)

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1
	cfg.Cooldown = time.Minute

	policy, err := NewPolicy("payments", cfg,
		WithStateChangeHook(func(endpoint string, _, to State) {
			require.Equal(t, "payments", endpoint)

			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		}))
	require.NoError(t, err)

	_, _ = policy.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []State{StateOpen}, transitions)
}

func TestExecuteCancelledContextStopsRetrying(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryBackoff = 50 * time.Millisecond

	policy, err := NewPolicy("payments", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	var attempts int32

	_, err = policy.Execute(ctx, func(context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)
		cancel()

		return nil, MarkTransient(errors.New("boom"))
	})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
