package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/lightframe/lib-relay/outbox"
)

// DefaultLeaseName keys the relay's advisory lock.
const DefaultLeaseName = "librelay.outbox.relay"

// Leaser grants the dispatch lease through a session-scoped advisory lock.
// The lock lives on a dedicated connection, so it releases automatically
// if the holding process dies.
type Leaser struct {
	db  *sql.DB
	key int64
}

// NewLeaser creates a leaser keyed by name. Relays sharing a database and
// name exclude each other.
func NewLeaser(db *sql.DB, name string) (*Leaser, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}

	if name == "" {
		name = DefaultLeaseName
	}

	return &Leaser{db: db, key: leaseKey(name)}, nil
}

func leaseKey(name string) int64 {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(name))

	return int64(hash.Sum64())
}

// Acquire implements outbox.Leaser. It pins a connection and attempts the
// advisory lock once, returning ErrLeaseUnavailable when another session
// holds it.
func (leaser *Leaser) Acquire(ctx context.Context) (outbox.Lease, error) {
	conn, err := leaser.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open lease connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", leaser.key).Scan(&acquired); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	if !acquired {
		_ = conn.Close()

		return nil, outbox.ErrLeaseUnavailable
	}

	return &lease{conn: conn, key: leaser.key}, nil
}

type lease struct {
	conn *sql.Conn
	key  int64
}

// Release unlocks and returns the pinned connection to the pool.
func (l *lease) Release(ctx context.Context) error {
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.key)

	if closeErr := l.conn.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}

	return nil
}
