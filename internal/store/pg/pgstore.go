// Package pg is the PostgreSQL persistence of the API and the batch
// synchronizer. It talks to the database through database/sql with the pgx
// stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"aldar.app/internal/apiconfig"
	"aldar.app/internal/batchsync"
	"aldar.app/internal/errlog"
	"aldar.app/internal/lms"
	"aldar.app/internal/session"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ session.Store   = (*Store)(nil)
	_ apiconfig.Store = (*Store)(nil)
	_ errlog.Recorder = (*Store)(nil)
	_ lms.AuditStore  = (*Store)(nil)
	_ batchsync.Store = (*Store)(nil)
)

// Pool tunes the connection pool. Zero values keep the defaults.
type Pool struct {
	MaxOpenConns int
	MaxIdleConns int
}

func Open(dsn string, pool Pool) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle; tests pass a sqlmock connection.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
