//go:build unit

package librelay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func blockUntilCancelled(ctx context.Context) error {
	<-ctx.Done()

	return ctx.Err()
}

func TestLauncherAddValidation(t *testing.T) {
	launcher := NewLauncher()

	require.ErrorIs(t, launcher.Add("  ", AppFunc(blockUntilCancelled)), ErrEmptyApp)
	require.ErrorIs(t, launcher.Add("relay", nil), ErrNilApp)

	require.NoError(t, launcher.Add("relay", AppFunc(blockUntilCancelled)))
	require.Error(t, launcher.Add("relay", AppFunc(blockUntilCancelled)))
}

func TestNilLauncher(t *testing.T) {
	var launcher *Launcher

	require.ErrorIs(t, launcher.Add("relay", AppFunc(blockUntilCancelled)), ErrNilLauncher)
	require.ErrorIs(t, launcher.Run(context.Background()), ErrNilLauncher)
}

func TestLauncherRunWithNoApps(t *testing.T) {
	require.NoError(t, NewLauncher().Run(context.Background()))
}

func TestLauncherCancellationIsCleanShutdown(t *testing.T) {
	launcher := NewLauncher()
	require.NoError(t, launcher.Add("relay", AppFunc(blockUntilCancelled)))
	require.NoError(t, launcher.Add("observer", AppFunc(blockUntilCancelled)))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- launcher.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("launcher did not stop on cancellation")
	}
}

func TestLauncherFirstFailureStopsAll(t *testing.T) {
	launcher := NewLauncher()

	cause := errors.New("relay exploded")

	var observerStopped atomic.Bool

	require.NoError(t, launcher.Add("relay", AppFunc(func(context.Context) error {
		return cause
	})))
	require.NoError(t, launcher.Add("observer", AppFunc(func(ctx context.Context) error {
		<-ctx.Done()
		observerStopped.Store(true)

		return ctx.Err()
	})))

	err := launcher.Run(context.Background())
	require.ErrorIs(t, err, cause)
	require.True(t, observerStopped.Load(), "sibling app must be cancelled on failure")
}

func TestLauncherRecoversPanickingApp(t *testing.T) {
	launcher := NewLauncher()

	require.NoError(t, launcher.Add("relay", AppFunc(func(context.Context) error {
		panic("boom")
	})))
	require.NoError(t, launcher.Add("observer", AppFunc(blockUntilCancelled)))

	err := launcher.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")
}
