// Package memory provides an in-process outbox store for tests and
// single-node development setups. It mirrors the transactional semantics
// of the postgres adapter: appends stage inside a Tx and become visible on
// commit, claims hold records exclusively until the batch resolves, and
// sequence numbers are assigned at append time and never reused.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lightframe/lib-relay/outbox"
)

// ErrForeignTx is returned when an Execer from another store or driver is
// passed to Append.
var ErrForeignTx = errors.New("execer does not belong to this store")

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// Store is an in-memory outbox.Store.
type Store struct {
	mu      sync.Mutex
	records []*outbox.Record
	claimed map[uuid.UUID]bool
	nextSeq int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		claimed: make(map[uuid.UUID]bool),
		nextSeq: 1,
	}
}

// Tx stages appends until Commit. It satisfies outbox.Execer so it can
// stand in for a *sql.Tx in writer call sites; the SQL methods themselves
// are inert because the store keeps no relational state.
type Tx struct {
	store  *Store
	staged []*outbox.Record
	done   bool
}

// Begin opens a staging transaction.
func (store *Store) Begin() *Tx {
	return &Tx{store: store}
}

// ExecContext implements outbox.Execer. Host-side SQL is a no-op here.
func (tx *Tx) ExecContext(_ context.Context, _ string, _ ...any) (sql.Result, error) {
	if tx.done {
		return nil, ErrTxDone
	}

	return driverResult{}, nil
}

// QueryRowContext implements outbox.Execer.
func (tx *Tx) QueryRowContext(_ context.Context, _ string, _ ...any) *sql.Row {
	return nil
}

// Commit publishes the staged records to the store.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}

	tx.done = true

	tx.store.mu.Lock()
	tx.store.records = append(tx.store.records, tx.staged...)
	tx.store.mu.Unlock()

	tx.staged = nil

	return nil
}

// Rollback discards the staged records. Sequence numbers consumed by the
// discarded appends are burned, matching serial-column behavior.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}

	tx.done = true
	tx.staged = nil

	return nil
}

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 0, nil }

// Append stages the record in the given transaction and assigns its
// sequence number immediately, so callers observe the final ordering key
// before commit.
func (store *Store) Append(_ context.Context, exec outbox.Execer, record *outbox.Record) (*outbox.Record, error) {
	if exec == nil {
		return nil, outbox.ErrExecerRequired
	}

	if record == nil {
		return nil, outbox.ErrRecordRequired
	}

	tx, ok := exec.(*Tx)
	if !ok || tx.store != store {
		return nil, ErrForeignTx
	}

	if tx.done {
		return nil, ErrTxDone
	}

	store.mu.Lock()
	record.SequenceNumber = store.nextSeq
	store.nextSeq++
	store.mu.Unlock()

	tx.staged = append(tx.staged, record.Clone())

	return record, nil
}

// Claim selects due records in sequence order and holds them until the
// batch commits or closes.
func (store *Store) Claim(_ context.Context, opts outbox.ClaimOptions) (outbox.Batch, error) {
	if opts.Limit <= 0 {
		return nil, outbox.ErrLimitMustBePositive
	}

	if opts.MaxRetries <= 0 {
		return nil, outbox.ErrRetriesMustBePositive
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	var eligible []*outbox.Record

	for _, record := range store.records {
		if store.claimed[record.ID] || record.Processed {
			continue
		}

		if record.RetryCount >= opts.MaxRetries || !record.Due(opts.Now) {
			continue
		}

		eligible = append(eligible, record)
	}

	if len(eligible) == 0 {
		return nil, outbox.ErrNoRecords
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].SequenceNumber < eligible[j].SequenceNumber
	})

	if len(eligible) > opts.Limit {
		eligible = eligible[:opts.Limit]
	}

	clones := make([]*outbox.Record, len(eligible))
	for i, record := range eligible {
		store.claimed[record.ID] = true
		clones[i] = record.Clone()
	}

	return &batch{store: store, records: clones}, nil
}

// ListDead returns unprocessed records at or past the retry ceiling in
// sequence order.
func (store *Store) ListDead(_ context.Context, limit, maxRetries int) ([]*outbox.Record, error) {
	if limit <= 0 {
		return nil, outbox.ErrLimitMustBePositive
	}

	if maxRetries <= 0 {
		return nil, outbox.ErrRetriesMustBePositive
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	var dead []*outbox.Record

	for _, record := range store.records {
		if record.Dead(maxRetries) {
			dead = append(dead, record.Clone())
		}
	}

	sort.Slice(dead, func(i, j int) bool {
		return dead[i].SequenceNumber < dead[j].SequenceNumber
	})

	if len(dead) > limit {
		dead = dead[:limit]
	}

	return dead, nil
}

// Pending returns the number of unprocessed records, a test convenience.
func (store *Store) Pending() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	count := 0

	for _, record := range store.records {
		if !record.Processed {
			count++
		}
	}

	return count
}

// Get returns a copy of the record with the given ID, or nil.
func (store *Store) Get(id uuid.UUID) *outbox.Record {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, record := range store.records {
		if record.ID == id {
			return record.Clone()
		}
	}

	return nil
}

type batch struct {
	store   *Store
	records []*outbox.Record
	done    bool
}

func (b *batch) Records() []*outbox.Record { return b.records }

// Commit copies the dispatch outcomes back onto the stored records and
// releases the claim, all under one lock acquisition.
func (b *batch) Commit(_ context.Context) error {
	if b.done {
		return outbox.ErrBatchCommitted
	}

	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	byID := make(map[uuid.UUID]*outbox.Record, len(b.records))
	for _, record := range b.records {
		byID[record.ID] = record
	}

	for _, stored := range b.store.records {
		updated, ok := byID[stored.ID]
		if !ok {
			continue
		}

		stored.RetryCount = updated.RetryCount
		stored.ErrorMessage = updated.ErrorMessage
		stored.Processed = updated.Processed
		stored.ScheduledAt = updated.ScheduledAt
		stored.ProcessedAt = updated.ProcessedAt

		delete(b.store.claimed, stored.ID)
	}

	return nil
}

// Close releases the claim without persisting outcomes.
func (b *batch) Close(_ context.Context) error {
	if b.done {
		return nil
	}

	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for _, record := range b.records {
		delete(b.store.claimed, record.ID)
	}

	return nil
}
