package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/lightframe/lib-relay/backoff"
	"github.com/lightframe/lib-relay/log"
)

const (
	defaultObserveInterval      = 30 * time.Second
	defaultObserverErrorBackoff = time.Minute
)

// StateSource exposes the breaker state of every tracked endpoint.
// *Manager satisfies it.
type StateSource interface {
	Snapshot() map[string]State
}

// EndpointHealth is one entry of the observer's queryable health map.
type EndpointHealth struct {
	State       State
	IsHealthy   bool
	LastChecked time.Time
}

// Observer passively samples breaker states on a timer and logs every
// transition. Closed to open is a degraded-service alert, a return to
// closed is a recovery notice. It never mutates breaker state.
type Observer struct {
	source       StateSource
	logger       log.Logger
	interval     time.Duration
	errorBackoff time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	previous map[string]State
	health   map[string]EndpointHealth
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithObserveInterval sets the sampling interval.
func WithObserveInterval(interval time.Duration) ObserverOption {
	return func(observer *Observer) {
		if interval > 0 {
			observer.interval = interval
		}
	}
}

// WithObserverLogger sets the observer logger.
func WithObserverLogger(logger log.Logger) ObserverOption {
	return func(observer *Observer) {
		if logger != nil {
			observer.logger = logger
		}
	}
}

// WithObserverNowFunc overrides the time source, for tests.
func WithObserverNowFunc(now func() time.Time) ObserverOption {
	return func(observer *Observer) {
		if now != nil {
			observer.now = now
		}
	}
}

// NewObserver creates an observer over the given state source.
func NewObserver(source StateSource, opts ...ObserverOption) (*Observer, error) {
	if source == nil {
		return nil, ErrManagerRequired
	}

	observer := &Observer{
		source:       source,
		logger:       log.NewNop(),
		interval:     defaultObserveInterval,
		errorBackoff: defaultObserverErrorBackoff,
		now:          func() time.Time { return time.Now().UTC() },
		previous:     make(map[string]State),
		health:       make(map[string]EndpointHealth),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(observer)
		}
	}

	return observer, nil
}

// Run samples breaker states until ctx is cancelled. A panicking sample
// cycle is logged and the loop sleeps the error backoff before resuming.
func (observer *Observer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	observer.logger.Log(ctx, log.LevelInfo, "circuit state observer started",
		log.Duration("interval", observer.interval))
	defer observer.logger.Log(ctx, log.LevelInfo, "circuit state observer stopped")

	observer.safeObserve(ctx)

	ticker := time.NewTicker(observer.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !observer.safeObserve(ctx) {
				if err := backoff.Sleep(ctx, observer.errorBackoff); err != nil {
					return nil
				}
			}
		}
	}
}

func (observer *Observer) safeObserve(ctx context.Context) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			observer.logger.Log(ctx, log.LevelError, "observer cycle panicked",
				log.Any("panic", recovered))

			ok = false
		}
	}()

	observer.Observe(ctx)

	return true
}

// Observe performs one sampling pass. Exposed for deterministic tests.
func (observer *Observer) Observe(ctx context.Context) {
	states := observer.source.Snapshot()
	checkedAt := observer.now()

	observer.mu.Lock()
	defer observer.mu.Unlock()

	for endpoint, state := range states {
		previous, seen := observer.previous[endpoint]
		if seen && previous != state {
			observer.logTransition(ctx, endpoint, previous, state)
		}

		observer.previous[endpoint] = state
		observer.health[endpoint] = EndpointHealth{
			State:       state,
			IsHealthy:   state == StateClosed,
			LastChecked: checkedAt,
		}
	}
}

func (observer *Observer) logTransition(ctx context.Context, endpoint string, from, to State) {
	fields := []log.Field{
		log.String("endpoint", endpoint),
		log.String("from", string(from)),
		log.String("to", string(to)),
	}

	switch {
	case to == StateOpen:
		observer.logger.Log(ctx, log.LevelWarn, "circuit breaker opened, service degraded", fields...)
	case to == StateClosed && from != StateClosed:
		observer.logger.Log(ctx, log.LevelInfo, "circuit breaker closed, service recovered", fields...)
	default:
		observer.logger.Log(ctx, log.LevelInfo, "circuit breaker state changed", fields...)
	}
}

// HealthStatus returns a copy of the health map keyed by endpoint.
func (observer *Observer) HealthStatus() map[string]EndpointHealth {
	observer.mu.RLock()
	defer observer.mu.RUnlock()

	status := make(map[string]EndpointHealth, len(observer.health))
	for endpoint, health := range observer.health {
		status[endpoint] = health
	}

	return status
}
