package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "outbox_records"

// identifierPattern accepts plain or schema-qualified identifiers. Table
// names are interpolated into SQL text, so anything else is rejected.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

func validateTable(table string) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("invalid outbox table name %q", table)
	}

	return nil
}

// sequence_number is a BIGSERIAL so ordering is assigned by the store and
// survives restarts. The partial index covers exactly the relay's claim
// predicate.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id              UUID PRIMARY KEY,
	event_type      TEXT NOT NULL,
	payload         BYTEA NOT NULL,
	partition_key   TEXT NOT NULL DEFAULT '',
	sequence_number BIGSERIAL NOT NULL UNIQUE,
	retry_count     INT NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	processed       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	scheduled_at    TIMESTAMPTZ,
	processed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS %[2]s_pending_idx
	ON %[1]s (sequence_number)
	WHERE NOT processed;
`

// EnsureSchema creates the outbox table and its pending index if missing.
func EnsureSchema(ctx context.Context, db *sql.DB, table string) error {
	if table == "" {
		table = DefaultTable
	}

	if err := validateTable(table); err != nil {
		return err
	}

	ddl := fmt.Sprintf(schemaTemplate, table, indexPrefix(table))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure outbox schema: %w", err)
	}

	return nil
}

// indexPrefix flattens a qualified table name into a legal index name.
func indexPrefix(table string) string {
	out := make([]byte, len(table))
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = table[i]
		}
	}

	return string(out)
}
