//go:build unit

package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightframe/lib-relay/log"
)

type fakeSource struct {
	mu     sync.Mutex
	states map[string]State
}

func (source *fakeSource) Snapshot() map[string]State {
	source.mu.Lock()
	defer source.mu.Unlock()

	snapshot := make(map[string]State, len(source.states))
	for endpoint, state := range source.states {
		snapshot[endpoint] = state
	}

	return snapshot
}

func (source *fakeSource) set(endpoint string, state State) {
	source.mu.Lock()
	source.states[endpoint] = state
	source.mu.Unlock()
}

type loggedEntry struct {
	level log.Level
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []loggedEntry
}

func (logger *recordingLogger) Log(_ context.Context, level log.Level, msg string, _ ...log.Field) {
	logger.mu.Lock()
	logger.entries = append(logger.entries, loggedEntry{level: level, msg: msg})
	logger.mu.Unlock()
}

func (logger *recordingLogger) With(...log.Field) log.Logger { return logger }
func (logger *recordingLogger) Enabled(log.Level) bool       { return true }
func (logger *recordingLogger) Sync(context.Context) error   { return nil }

func (logger *recordingLogger) find(msg string) (loggedEntry, bool) {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	for _, entry := range logger.entries {
		if entry.msg == msg {
			return entry, true
		}
	}

	return loggedEntry{}, false
}

func TestNewObserverRequiresSource(t *testing.T) {
	_, err := NewObserver(nil)
	require.ErrorIs(t, err, ErrManagerRequired)
}

func TestObserveTracksHealth(t *testing.T) {
	source := &fakeSource{states: map[string]State{"payments": StateClosed}}
	checkedAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	observer, err := NewObserver(source,
		WithObserverNowFunc(func() time.Time { return checkedAt }))
	require.NoError(t, err)

	observer.Observe(context.Background())

	status := observer.HealthStatus()
	require.Len(t, status, 1)
	require.Equal(t, StateClosed, status["payments"].State)
	require.True(t, status["payments"].IsHealthy)
	require.Equal(t, checkedAt, status["payments"].LastChecked)
}

func TestObserveLogsDegradationAndRecovery(t *testing.T) {
	source := &fakeSource{states: map[string]State{"payments": StateClosed}}
	logger := &recordingLogger{}

	observer, err := NewObserver(source, WithObserverLogger(logger))
	require.NoError(t, err)

	ctx := context.Background()

	observer.Observe(ctx)

	_, found := logger.find("circuit breaker opened, service degraded")
	require.False(t, found, "first sample must not log a transition")

	source.set("payments", StateOpen)
	observer.Observe(ctx)

	entry, found := logger.find("circuit breaker opened, service degraded")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.level)
	require.False(t, observer.HealthStatus()["payments"].IsHealthy)

	source.set("payments", StateClosed)
	observer.Observe(ctx)

	entry, found = logger.find("circuit breaker closed, service recovered")
	require.True(t, found)
	require.Equal(t, log.LevelInfo, entry.level)
	require.True(t, observer.HealthStatus()["payments"].IsHealthy)
}

func TestObserveLogsIntermediateTransitions(t *testing.T) {
	source := &fakeSource{states: map[string]State{"payments": StateOpen}}
	logger := &recordingLogger{}

	observer, err := NewObserver(source, WithObserverLogger(logger))
	require.NoError(t, err)

	ctx := context.Background()

	observer.Observe(ctx)

	source.set("payments", StateHalfOpen)
	observer.Observe(ctx)

	entry, found := logger.find("circuit breaker state changed")
	require.True(t, found)
	require.Equal(t, log.LevelInfo, entry.level)
}

func TestObserverRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{states: map[string]State{"payments": StateClosed}}

	observer, err := NewObserver(source, WithObserveInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- observer.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("observer did not stop on cancellation")
	}

	require.NotEmpty(t, observer.HealthStatus())
}

func TestObserverIntegratesWithManager(t *testing.T) {
	manager := NewManager(nil)

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1
	cfg.Cooldown = time.Minute

	_, err := manager.GetOrCreate("payments", cfg)
	require.NoError(t, err)

	observer, err := NewObserver(manager)
	require.NoError(t, err)

	ctx := context.Background()

	observer.Observe(ctx)
	require.True(t, observer.HealthStatus()["payments"].IsHealthy)

	_, _ = manager.Execute(ctx, "payments", func(context.Context) (any, error) {
		return nil, context.DeadlineExceeded
	})

	observer.Observe(ctx)
	require.False(t, observer.HealthStatus()["payments"].IsHealthy)
}
