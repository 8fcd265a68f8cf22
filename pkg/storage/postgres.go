package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/log"
)

// Config holds connection pool settings
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore implements Store on PostgreSQL through the pgx stdlib
// driver wrapped in sqlx.
type PostgresStore struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// New opens a connection pool against the configured DSN
func New(cfg Config) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PostgresStore{
		db:     sqlx.NewDb(db, "pgx"),
		logger: log.WithComponent("storage"),
	}, nil
}

// NewWithDB wraps an existing database handle. Used by tests to plug in
// sqlmock.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     sqlx.NewDb(db, "pgx"),
		logger: log.WithComponent("storage"),
	}
}

// Ping verifies connectivity with a live round trip
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return mapError("ping database", err)
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Tx is one open serializable transaction. Methods on Tx compose into a
// single atomic unit; they are not safe for use after WithTx returns.
type Tx struct {
	q *sqlx.Tx
}

// WithTx runs fn in a serializable transaction. Serialization failures
// and deadlocks retry with jittered exponential backoff, bounded so
// callers fail fast when the database is struggling.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	attempt := func() error {
		txx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return mapError("begin transaction", err)
		}
		tx := &Tx{q: txx}
		if err := fn(ctx, tx); err != nil {
			if rbErr := txx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn().Err(rbErr).Msg("Rollback failed")
			}
			return err
		}
		if err := txx.Commit(); err != nil {
			return mapError("commit transaction", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	var attempts int
	err := backoff.Retry(func() error {
		attempts++
		err := attempt()
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			s.logger.Debug().Err(err).Int("attempt", attempts).Msg("Retrying serializable transaction")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return err
	}
	return nil
}
