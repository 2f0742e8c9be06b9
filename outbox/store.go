package outbox

import (
	"context"
	"database/sql"
	"time"
)

// Execer is the transactional handle supplied by the host persistence layer.
// *sql.Tx and *sql.DB satisfy it. Appends execute against whatever commit
// boundary the caller opened, so the writer has no independent durability:
// if the host transaction aborts, the record does not persist.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ClaimOptions bounds one relay claim.
type ClaimOptions struct {
	// Limit is the maximum number of records claimed.
	Limit int
	// Now is the eligibility cutoff for ScheduledAt.
	Now time.Time
	// MaxRetries excludes records at or past the dead-letter ceiling.
	MaxRetries int
}

// Store persists outbox records.
//
// Claim must return due records ordered by SequenceNumber ascending and must
// hold them exclusively until the batch is committed or closed, so two relay
// workers can never double-claim the same record.
type Store interface {
	// Append stores a new record inside the caller's transaction and
	// returns it with its store-assigned sequence number.
	Append(ctx context.Context, exec Execer, record *Record) (*Record, error)

	// Claim selects up to opts.Limit unprocessed records under the retry
	// ceiling whose ScheduledAt is unset or due, ordered by sequence.
	// Returns ErrNoRecords when nothing is due.
	Claim(ctx context.Context, opts ClaimOptions) (Batch, error)

	// ListDead returns unprocessed records at or past the retry ceiling,
	// the operator surface for dead-lettered events.
	ListDead(ctx context.Context, limit, maxRetries int) ([]*Record, error)
}

// Batch is one claimed set of records. Outcome mutations made on the
// returned records become durable only on Commit, in a single atomic unit.
// Close releases the claim without persisting anything.
type Batch interface {
	Records() []*Record
	Commit(ctx context.Context) error
	Close(ctx context.Context) error
}

// Leaser grants the exclusive right to run dispatch cycles. With multiple
// relay replicas, a store-backed lease keeps a single relay active so the
// per-partition ordering guarantee holds across the deployment.
type Leaser interface {
	// Acquire returns ErrLeaseUnavailable while another holder owns the lease.
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held dispatch lease.
type Lease interface {
	Release(ctx context.Context) error
}
