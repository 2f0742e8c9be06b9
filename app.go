// Package librelay wires the library's background components into a single
// process lifecycle. The outbox relay and the circuit state observer both
// implement App and are typically run together under one Launcher.
package librelay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/lightframe/lib-relay/log"
)

var (
	// ErrNilLauncher is returned when a launcher method is called on a nil receiver.
	ErrNilLauncher = errors.New("launcher is nil")
	// ErrEmptyApp is returned when an app name is empty or whitespace.
	ErrEmptyApp = errors.New("app name is empty")
	// ErrNilApp is returned when a nil app instance is provided.
	ErrNilApp = errors.New("app is nil")
)

// App is a long-lived background component. Run must block until ctx is
// cancelled or the component fails, and must return promptly on cancellation.
type App interface {
	Run(ctx context.Context) error
}

// AppFunc adapts a function to the App interface.
type AppFunc func(ctx context.Context) error

// Run implements App.
func (fn AppFunc) Run(ctx context.Context) error { return fn(ctx) }

// Launcher runs registered apps concurrently and stops all of them when any
// one fails or the parent context is cancelled.
type Launcher struct {
	Logger log.Logger

	mu   sync.Mutex
	apps map[string]App
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLogger sets the launcher logger.
func WithLogger(logger log.Logger) LauncherOption {
	return func(l *Launcher) {
		l.Logger = logger
	}
}

// NewLauncher creates a launcher with the given options.
func NewLauncher(opts ...LauncherOption) *Launcher {
	launcher := &Launcher{apps: make(map[string]App)}

	for _, opt := range opts {
		if opt != nil {
			opt(launcher)
		}
	}

	if launcher.Logger == nil {
		launcher.Logger = log.NewNop()
	}

	return launcher
}

// Add registers an app under a unique name.
func (l *Launcher) Add(name string, app App) error {
	if l == nil {
		return ErrNilLauncher
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyApp
	}

	if app == nil {
		return ErrNilApp
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.apps == nil {
		l.apps = make(map[string]App)
	}

	if _, exists := l.apps[name]; exists {
		return fmt.Errorf("app %q already registered", name)
	}

	l.apps[name] = app

	return nil
}

// Run starts every registered app and blocks until all have returned.
// The first app failure cancels the rest. Context cancellation is a normal
// shutdown and is not reported as an error.
func (l *Launcher) Run(ctx context.Context) error {
	if l == nil {
		return ErrNilLauncher
	}

	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	apps := make(map[string]App, len(l.apps))
	for name, app := range l.apps {
		apps[name] = app
	}
	l.mu.Unlock()

	if len(apps) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for name, app := range apps {
		wg.Add(1)

		go func(name string, app App) {
			defer wg.Done()
			defer func() {
				if recovered := recover(); recovered != nil {
					errOnce.Do(func() {
						firstErr = fmt.Errorf("app %q panicked: %v", name, recovered)
					})
					l.Logger.Log(runCtx, log.LevelError, "app panicked",
						log.String("app", name), log.Any("panic", recovered))
					cancel()
				}
			}()

			l.Logger.Log(runCtx, log.LevelInfo, "app started", log.String("app", name))

			if err := app.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("app %q: %w", name, err)
				})
				l.Logger.Log(runCtx, log.LevelError, "app failed",
					log.String("app", name), log.Err(err))
				cancel()
			}

			l.Logger.Log(runCtx, log.LevelInfo, "app stopped", log.String("app", name))
		}(name, app)
	}

	wg.Wait()

	return firstErr
}

// RunUntilSignal runs the apps until SIGINT or SIGTERM is received.
func (l *Launcher) RunUntilSignal(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return l.Run(signalCtx)
}
