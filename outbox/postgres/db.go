package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver

	"github.com/lightframe/lib-relay/log"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

var dsnCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)

// Connection opens and tunes the database handle shared by the store and
// the leaser.
type Connection struct {
	// DSN is the postgres connection string.
	DSN string
	// MaxOpenConns bounds the pool size. The relay itself needs few
	// connections; size the pool for the host application.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Logger          log.Logger
}

func (conn *Connection) initDefaults() {
	if conn.MaxOpenConns <= 0 {
		conn.MaxOpenConns = defaultMaxOpenConns
	}

	if conn.MaxIdleConns <= 0 {
		conn.MaxIdleConns = defaultMaxIdleConns
	}

	if conn.ConnMaxLifetime <= 0 {
		conn.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if conn.ConnMaxIdleTime <= 0 {
		conn.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	if conn.Logger == nil {
		conn.Logger = log.NewNop()
	}
}

// Open connects through the pgx stdlib driver and verifies the connection
// with a bounded ping.
func (conn *Connection) Open(ctx context.Context) (*sql.DB, error) {
	conn.initDefaults()

	if conn.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("pgx", conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(conn.MaxOpenConns)
	db.SetMaxIdleConns(conn.MaxIdleConns)
	db.SetConnMaxLifetime(conn.ConnMaxLifetime)
	db.SetConnMaxIdleTime(conn.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	conn.Logger.Log(ctx, log.LevelInfo, "connected to postgres",
		log.String("dsn", sanitizeDSN(conn.DSN)),
		log.Int("max_open_conns", conn.MaxOpenConns))

	return db, nil
}

// sanitizeDSN strips embedded credentials before the DSN reaches a log line.
func sanitizeDSN(dsn string) string {
	return dsnCredentialsPattern.ReplaceAllString(dsn, "://[REDACTED]@")
}
