//go:build unit

package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialGrowth(t *testing.T) {
	base := time.Minute

	require.Equal(t, time.Minute, Exponential(base, 0))
	require.Equal(t, 2*time.Minute, Exponential(base, 1))
	require.Equal(t, 4*time.Minute, Exponential(base, 2))
	require.Equal(t, 8*time.Minute, Exponential(base, 3))
	require.Equal(t, 16*time.Minute, Exponential(base, 4))
}

func TestExponentialMonotoneNonDecreasing(t *testing.T) {
	base := 500 * time.Millisecond

	previous := time.Duration(0)
	for attempt := 0; attempt < 70; attempt++ {
		delay := Exponential(base, attempt)
		require.GreaterOrEqual(t, delay, previous, "attempt %d", attempt)
		previous = delay
	}
}

func TestExponentialEdgeCases(t *testing.T) {
	require.Equal(t, time.Duration(0), Exponential(0, 3))
	require.Equal(t, time.Duration(0), Exponential(-time.Second, 3))
	require.Equal(t, time.Second, Exponential(time.Second, -1))
	require.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Hour, 62))
}

func TestFullJitterBounds(t *testing.T) {
	delay := time.Minute

	for i := 0; i < 100; i++ {
		jittered := FullJitter(delay)
		require.GreaterOrEqual(t, jittered, time.Duration(0))
		require.Less(t, jittered, delay)
	}

	require.Equal(t, time.Duration(0), FullJitter(0))
	require.Equal(t, time.Duration(0), FullJitter(-time.Second))
}

func TestExponentialWithJitterBounds(t *testing.T) {
	base := 200 * time.Millisecond

	for attempt := 0; attempt < 5; attempt++ {
		ceiling := Exponential(base, attempt)
		for i := 0; i < 20; i++ {
			require.Less(t, ExponentialWithJitter(base, attempt), ceiling)
		}
	}
}

func TestSleepElapses(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 10*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSleepZeroReturnsImmediately(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), -time.Second))
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}
