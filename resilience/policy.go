package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/lightframe/lib-relay/backoff"
	"github.com/lightframe/lib-relay/log"
)

// Operation is a fallible call against an external dependency.
type Operation func(ctx context.Context) (any, error)

// Fallback produces a substitute result when the guarded operation fails
// or the circuit is open. cause carries the original failure.
type Fallback func(ctx context.Context, cause error) (any, error)

// Policy guards one logical endpoint with retry, a circuit breaker, and an
// optional fallback. The composition is fixed: every retry attempt passes
// through the breaker, so each attempt counts toward its failure accounting;
// the fallback wraps the whole composition.
type Policy struct {
	name       string
	cfg        Config
	classifier Classifier
	fallback   Fallback
	logger     log.Logger
	onChange   func(endpoint string, from, to State)

	mu      sync.RWMutex
	breaker *gobreaker.CircuitBreaker
}

// PolicyOption configures a Policy at construction.
type PolicyOption func(*Policy)

// WithClassifier overrides the transient-failure classifier.
func WithClassifier(classifier Classifier) PolicyOption {
	return func(policy *Policy) {
		if classifier != nil {
			policy.classifier = classifier
		}
	}
}

// WithFallback sets a fallback executed when retries exhaust or the
// circuit is open.
func WithFallback(fallback Fallback) PolicyOption {
	return func(policy *Policy) {
		policy.fallback = fallback
	}
}

// WithLogger sets the policy logger.
func WithLogger(logger log.Logger) PolicyOption {
	return func(policy *Policy) {
		if logger != nil {
			policy.logger = logger
		}
	}
}

// WithStateChangeHook registers a hook invoked on breaker state transitions.
func WithStateChangeHook(hook func(endpoint string, from, to State)) PolicyOption {
	return func(policy *Policy) {
		policy.onChange = hook
	}
}

// NewPolicy creates a policy for the named endpoint.
func NewPolicy(name string, cfg Config, opts ...PolicyOption) (*Policy, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrPolicyNameRequired
	}

	cfg.normalize()

	policy := &Policy{
		name:       name,
		cfg:        cfg,
		classifier: DefaultClassifier(),
		logger:     log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(policy)
		}
	}

	policy.breaker = policy.newBreaker()

	return policy, nil
}

// Name returns the endpoint name.
func (policy *Policy) Name() string { return policy.name }

func (policy *Policy) newBreaker() *gobreaker.CircuitBreaker {
	cfg := policy.cfg

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        policy.name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}

			if cfg.FailureRatio <= 0 || counts.Requests < cfg.MinRequests {
				return false
			}

			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			policy.handleStateChange(stateFromGobreaker(from), stateFromGobreaker(to))
		},
	})
}

func (policy *Policy) handleStateChange(from, to State) {
	ctx := context.Background()

	switch to {
	case StateOpen:
		policy.logger.Log(ctx, log.LevelError, "circuit breaker opened, requests will fast-fail",
			log.String("endpoint", policy.name), log.String("from", string(from)))
	case StateHalfOpen:
		policy.logger.Log(ctx, log.LevelInfo, "circuit breaker half-open, testing recovery",
			log.String("endpoint", policy.name))
	case StateClosed:
		policy.logger.Log(ctx, log.LevelInfo, "circuit breaker closed",
			log.String("endpoint", policy.name), log.String("from", string(from)))
	}

	if policy.onChange != nil {
		policy.onChange(policy.name, from, to)
	}
}

// State returns the current breaker state.
func (policy *Policy) State() State {
	policy.mu.RLock()
	defer policy.mu.RUnlock()

	return stateFromGobreaker(policy.breaker.State())
}

// Counts returns the current breaker statistics.
func (policy *Policy) Counts() Counts {
	policy.mu.RLock()
	defer policy.mu.RUnlock()

	return countsFromGobreaker(policy.breaker.Counts())
}

// Reset replaces the breaker with a fresh closed one, clearing all counters.
func (policy *Policy) Reset() {
	policy.mu.Lock()
	policy.breaker = policy.newBreaker()
	policy.mu.Unlock()

	policy.logger.Log(context.Background(), log.LevelInfo, "circuit breaker reset",
		log.String("endpoint", policy.name))
}

func (policy *Policy) currentBreaker() *gobreaker.CircuitBreaker {
	policy.mu.RLock()
	defer policy.mu.RUnlock()

	return policy.breaker
}

// Execute runs op under the policy. It returns the operation result, the
// fallback result when one is configured and the composition failed, or an
// error wrapping ErrCircuitOpen when the breaker rejected the call.
func (policy *Policy) Execute(ctx context.Context, op Operation) (any, error) {
	if op == nil {
		return nil, ErrOperationRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := policy.executeWithRetry(ctx, op)
	if err == nil {
		return result, nil
	}

	if policy.fallback != nil {
		policy.logger.Log(ctx, log.LevelWarn, "executing fallback",
			log.String("endpoint", policy.name), log.Err(err))

		return policy.fallback(ctx, err)
	}

	return nil, err
}

func (policy *Policy) executeWithRetry(ctx context.Context, op Operation) (any, error) {
	var lastErr error

	for attempt := 0; attempt < policy.cfg.MaxAttempts; attempt++ {
		result, err := policy.currentBreaker().Execute(func() (any, error) {
			return op(ctx)
		})
		if err == nil {
			return result, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("endpoint %s: %w", policy.name, ErrCircuitOpen)
		}

		lastErr = fmt.Errorf("attempt %d/%d failed: %w", attempt+1, policy.cfg.MaxAttempts, err)

		if ctx.Err() != nil {
			return nil, lastErr
		}

		if !policy.classifier.IsTransient(err) || attempt == policy.cfg.MaxAttempts-1 {
			return nil, lastErr
		}

		delay := backoff.Exponential(policy.cfg.RetryBackoff, attempt)
		if policy.cfg.Jitter {
			delay = backoff.FullJitter(delay)
		}

		policy.logger.Log(ctx, log.LevelWarn, "retrying after transient failure",
			log.String("endpoint", policy.name),
			log.Int("attempt", attempt+1),
			log.Duration("delay", delay),
			log.Err(err))

		if waitErr := backoff.Sleep(ctx, delay); waitErr != nil {
			return nil, fmt.Errorf("retry wait interrupted: %w", waitErr)
		}
	}

	return nil, lastErr
}
