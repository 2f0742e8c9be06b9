package resilience

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightframe/lib-relay/log"
)

// Manager keeps one Policy per logical endpoint so all callers of the same
// dependency share failure accounting.
type Manager struct {
	logger log.Logger

	mu        sync.RWMutex
	policies  map[string]*Policy
	listeners []StateChangeListener
}

// NewManager creates an empty policy registry.
func NewManager(logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Manager{
		logger:   logger,
		policies: make(map[string]*Policy),
	}
}

// GetOrCreate returns the existing policy for endpoint or creates one with
// the given config. The config of an existing policy is not changed.
func (manager *Manager) GetOrCreate(endpoint string, cfg Config, opts ...PolicyOption) (*Policy, error) {
	manager.mu.RLock()
	policy, exists := manager.policies[endpoint]
	manager.mu.RUnlock()

	if exists {
		return policy, nil
	}

	manager.mu.Lock()
	defer manager.mu.Unlock()

	if policy, exists = manager.policies[endpoint]; exists {
		return policy, nil
	}

	policyOpts := make([]PolicyOption, 0, len(opts)+2)
	policyOpts = append(policyOpts, WithLogger(manager.logger))
	policyOpts = append(policyOpts, opts...)
	policyOpts = append(policyOpts, WithStateChangeHook(manager.notifyStateChange))

	policy, err := NewPolicy(endpoint, cfg, policyOpts...)
	if err != nil {
		return nil, fmt.Errorf("create policy for %q: %w", endpoint, err)
	}

	manager.policies[endpoint] = policy

	manager.logger.Log(context.Background(), log.LevelInfo, "policy registered",
		log.String("endpoint", endpoint))

	return policy, nil
}

// Execute runs op through the policy registered for endpoint.
func (manager *Manager) Execute(ctx context.Context, endpoint string, op Operation) (any, error) {
	manager.mu.RLock()
	policy, exists := manager.policies[endpoint]
	manager.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEndpointUnknown, endpoint)
	}

	return policy.Execute(ctx, op)
}

// GetState returns the breaker state for endpoint, StateUnknown when the
// endpoint was never registered.
func (manager *Manager) GetState(endpoint string) State {
	manager.mu.RLock()
	policy, exists := manager.policies[endpoint]
	manager.mu.RUnlock()

	if !exists {
		return StateUnknown
	}

	return policy.State()
}

// GetCounts returns the breaker statistics for endpoint.
func (manager *Manager) GetCounts(endpoint string) Counts {
	manager.mu.RLock()
	policy, exists := manager.policies[endpoint]
	manager.mu.RUnlock()

	if !exists {
		return Counts{}
	}

	return policy.Counts()
}

// IsHealthy reports whether the endpoint's breaker is closed. Open and
// half-open both count as unhealthy.
func (manager *Manager) IsHealthy(endpoint string) bool {
	return manager.GetState(endpoint) == StateClosed
}

// Reset returns the endpoint's breaker to closed with cleared counters.
func (manager *Manager) Reset(endpoint string) {
	manager.mu.RLock()
	policy, exists := manager.policies[endpoint]
	manager.mu.RUnlock()

	if exists {
		policy.Reset()
	}
}

// Snapshot returns the current state of every registered endpoint.
func (manager *Manager) Snapshot() map[string]State {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	snapshot := make(map[string]State, len(manager.policies))
	for endpoint, policy := range manager.policies {
		snapshot[endpoint] = policy.State()
	}

	return snapshot
}

// RegisterStateChangeListener adds a listener notified on every breaker
// state transition across all endpoints.
func (manager *Manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		return
	}

	manager.mu.Lock()
	manager.listeners = append(manager.listeners, listener)
	manager.mu.Unlock()
}

func (manager *Manager) notifyStateChange(endpoint string, from, to State) {
	manager.mu.RLock()
	listeners := make([]StateChangeListener, len(manager.listeners))
	copy(listeners, manager.listeners)
	manager.mu.RUnlock()

	for _, listener := range listeners {
		// Listeners run detached so a slow listener cannot block breaker
		// state transitions.
		go func(listener StateChangeListener) {
			defer func() {
				if recovered := recover(); recovered != nil {
					manager.logger.Log(context.Background(), log.LevelError,
						"state change listener panicked",
						log.String("endpoint", endpoint), log.Any("panic", recovered))
				}
			}()

			listener.OnStateChange(endpoint, from, to)
		}(listener)
	}
}
