//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	logpkg "github.com/lightframe/lib-relay/log"
)

func observedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)

	return FromZap(zap.New(core)), logs
}

func TestLogDispatchesToMatchingLevel(t *testing.T) {
	logger, logs := observedLogger(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "d")
	logger.Log(ctx, logpkg.LevelInfo, "i")
	logger.Log(ctx, logpkg.LevelWarn, "w")
	logger.Log(ctx, logpkg.LevelError, "e")

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLogTranslatesFields(t *testing.T) {
	logger, logs := observedLogger(zapcore.DebugLevel)

	cause := errors.New("boom")

	logger.Log(context.Background(), logpkg.LevelError, "dispatch failed",
		logpkg.String("event_type", "order.created"),
		logpkg.Int("retry_count", 2),
		logpkg.Err(cause))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	require.Equal(t, "order.created", fields["event_type"])
	require.EqualValues(t, 2, fields["retry_count"])
	require.Equal(t, "boom", fields["error"])
}

func TestWithAttachesPersistentFields(t *testing.T) {
	logger, logs := observedLogger(zapcore.InfoLevel)

	child := logger.With(logpkg.String("component", "relay"))
	child.Log(context.Background(), logpkg.LevelInfo, "started")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "relay", entries[0].ContextMap()["component"])
}

func TestEnabledRespectsLevel(t *testing.T) {
	logger, _ := observedLogger(zapcore.WarnLevel)

	require.True(t, logger.Enabled(logpkg.LevelError))
	require.True(t, logger.Enabled(logpkg.LevelWarn))
	require.False(t, logger.Enabled(logpkg.LevelInfo))
	require.False(t, logger.Enabled(logpkg.LevelDebug))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger

	require.NotPanics(t, func() {
		logger.Log(context.Background(), logpkg.LevelInfo, "ignored")
	})
}

func TestSyncRespectsCancelledContext(t *testing.T) {
	logger, _ := observedLogger(zapcore.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, logger.Sync(ctx))
}

func TestNewBuildsWorkingLogger(t *testing.T) {
	logger := New(Config{Level: logpkg.LevelWarn})

	require.True(t, logger.Enabled(logpkg.LevelError))
	require.False(t, logger.Enabled(logpkg.LevelInfo))
}
