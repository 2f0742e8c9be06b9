// Package postgres implements the outbox store on PostgreSQL. Claims take
// row locks with FOR UPDATE SKIP LOCKED and hold the claiming transaction
// open until the batch commits, so concurrent relays never double-dispatch
// and a crashed relay's claim releases automatically.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lightframe/lib-relay/outbox"
)

// Store is a PostgreSQL-backed outbox.Store. Open the database through the
// pgx stdlib driver or any driver speaking $n placeholders.
type Store struct {
	db    *sql.DB
	table string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTable overrides the outbox table name.
func WithTable(table string) StoreOption {
	return func(store *Store) {
		if table != "" {
			store.table = table
		}
	}
}

// NewStore creates a store over the given database handle.
func NewStore(db *sql.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}

	store := &Store{db: db, table: DefaultTable}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if err := validateTable(store.table); err != nil {
		return nil, err
	}

	return store, nil
}

// Append inserts the record through the caller's executor and fills in the
// store-assigned sequence number.
func (store *Store) Append(ctx context.Context, exec outbox.Execer, record *outbox.Record) (*outbox.Record, error) {
	if exec == nil {
		return nil, outbox.ErrExecerRequired
	}

	if record == nil {
		return nil, outbox.ErrRecordRequired
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_type, payload, partition_key, created_at, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING sequence_number`, store.table)

	row := exec.QueryRowContext(ctx, query,
		record.ID, record.EventType, record.Payload, record.PartitionKey,
		record.CreatedAt, record.ScheduledAt)

	if err := row.Scan(&record.SequenceNumber); err != nil {
		return nil, fmt.Errorf("insert outbox record: %w", err)
	}

	return record, nil
}

// Claim opens a transaction, locks up to opts.Limit due records in sequence
// order, and returns a batch holding that transaction. Locked rows stay
// invisible to other claimers until Commit or Close.
func (store *Store) Claim(ctx context.Context, opts outbox.ClaimOptions) (outbox.Batch, error) {
	if opts.Limit <= 0 {
		return nil, outbox.ErrLimitMustBePositive
	}

	if opts.MaxRetries <= 0 {
		return nil, outbox.ErrRetriesMustBePositive
	}

	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, payload, partition_key, sequence_number,
		       retry_count, error_message, processed, created_at, scheduled_at, processed_at
		FROM %s
		WHERE NOT processed
		  AND retry_count < $1
		  AND (scheduled_at IS NULL OR scheduled_at <= $2)
		ORDER BY sequence_number ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, store.table)

	rows, err := tx.QueryContext(ctx, query, opts.MaxRetries, opts.Now.UTC(), opts.Limit)
	if err != nil {
		_ = tx.Rollback()

		return nil, fmt.Errorf("select due records: %w", err)
	}

	records, err := scanRecords(rows)
	if err != nil {
		_ = tx.Rollback()

		return nil, err
	}

	if len(records) == 0 {
		_ = tx.Rollback()

		return nil, outbox.ErrNoRecords
	}

	return &batch{tx: tx, table: store.table, records: records}, nil
}

// ListDead returns unprocessed records at or past the retry ceiling.
func (store *Store) ListDead(ctx context.Context, limit, maxRetries int) ([]*outbox.Record, error) {
	if limit <= 0 {
		return nil, outbox.ErrLimitMustBePositive
	}

	if maxRetries <= 0 {
		return nil, outbox.ErrRetriesMustBePositive
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, payload, partition_key, sequence_number,
		       retry_count, error_message, processed, created_at, scheduled_at, processed_at
		FROM %s
		WHERE NOT processed AND retry_count >= $1
		ORDER BY sequence_number ASC
		LIMIT $2`, store.table)

	rows, err := store.db.QueryContext(ctx, query, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("select dead records: %w", err)
	}

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*outbox.Record, error) {
	defer rows.Close()

	var records []*outbox.Record

	for rows.Next() {
		record := &outbox.Record{}

		var scheduledAt, processedAt sql.NullTime

		if err := rows.Scan(
			&record.ID, &record.EventType, &record.Payload, &record.PartitionKey,
			&record.SequenceNumber, &record.RetryCount, &record.ErrorMessage,
			&record.Processed, &record.CreatedAt, &scheduledAt, &processedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}

		if scheduledAt.Valid {
			at := scheduledAt.Time
			record.ScheduledAt = &at
		}

		if processedAt.Valid {
			at := processedAt.Time
			record.ProcessedAt = &at
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}

	return records, nil
}

type batch struct {
	tx      *sql.Tx
	table   string
	records []*outbox.Record

	mu   sync.Mutex
	done bool
}

func (b *batch) Records() []*outbox.Record { return b.records }

// Commit writes every record's outcome inside the claiming transaction and
// commits it, making all cycle outcomes durable as one atomic unit.
func (b *batch) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return outbox.ErrBatchCommitted
	}

	b.done = true

	query := fmt.Sprintf(`
		UPDATE %s
		SET retry_count = $2, error_message = $3, processed = $4,
		    scheduled_at = $5, processed_at = $6
		WHERE id = $1`, b.table)

	for _, record := range b.records {
		if _, err := b.tx.ExecContext(ctx, query,
			record.ID, record.RetryCount, record.ErrorMessage, record.Processed,
			record.ScheduledAt, record.ProcessedAt,
		); err != nil {
			_ = b.tx.Rollback()

			return fmt.Errorf("update outbox record %s: %w", record.ID, err)
		}
	}

	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox batch: %w", err)
	}

	return nil
}

// Close rolls the claiming transaction back, releasing the row locks
// without persisting anything.
func (b *batch) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return nil
	}

	b.done = true

	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("release outbox claim: %w", err)
	}

	return nil
}
