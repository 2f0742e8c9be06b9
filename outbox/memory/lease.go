package memory

import (
	"context"
	"sync"

	"github.com/lightframe/lib-relay/outbox"
)

// Leaser is an in-process dispatch lease, enough to keep relays inside one
// process mutually exclusive. Multi-process deployments need the
// store-backed lease from outbox/postgres.
type Leaser struct {
	mu   sync.Mutex
	held bool
}

// NewLeaser creates an unheld lease source.
func NewLeaser() *Leaser {
	return &Leaser{}
}

// Acquire implements outbox.Leaser.
func (leaser *Leaser) Acquire(_ context.Context) (outbox.Lease, error) {
	leaser.mu.Lock()
	defer leaser.mu.Unlock()

	if leaser.held {
		return nil, outbox.ErrLeaseUnavailable
	}

	leaser.held = true

	return &lease{leaser: leaser}, nil
}

type lease struct {
	leaser *Leaser
	once   sync.Once
}

func (l *lease) Release(_ context.Context) error {
	l.once.Do(func() {
		l.leaser.mu.Lock()
		l.leaser.held = false
		l.leaser.mu.Unlock()
	})

	return nil
}
