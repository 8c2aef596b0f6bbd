// Package datastore implements AVES persistence on PostgreSQL with pgx.
package datastore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/logger"
)

const (
	defaultMaxConns       = 10
	defaultConnectTimeout = 10 * time.Second

	// PostgreSQL error codes mapped to error categories.
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgInvalidTextRep      = "22P02"
)

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Store is the PostgreSQL implementation of Interface.
type Store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// Open connects a pool using the database settings and verifies it with a ping.
func Open(ctx context.Context, cfg *conf.DatabaseSettings) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_database_url").
			Build()
	}

	poolConfig.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, dbError(err, "connect", errors.PriorityCritical)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, dbError(err, "ping", errors.PriorityCritical,
			"host", poolConfig.ConnConfig.Host,
			"database", poolConfig.ConnConfig.Database)
	}

	log := logger.Global().Module("datastore")
	log.Info("connected to database",
		logger.String("host", poolConfig.ConnConfig.Host),
		logger.String("database", poolConfig.ConnConfig.Database),
		logger.Int("max_conns", int(poolConfig.MaxConns)))

	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		log:  logger.Global().Module("datastore"),
	}
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	return nil
}

// Close releases all connections.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise.
func (s *Store) withTx(ctx context.Context, operation string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbError(err, operation+"_begin", errors.PriorityHigh)
	}

	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Warn("transaction rollback failed",
				logger.String("operation", operation),
				logger.Error(rbErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbError(err, operation+"_commit", errors.PriorityHigh)
	}
	return nil
}

// dbError categorises a database failure. Constraint violations become conflict,
// not-found or validation errors whose message is safe to show to clients; the
// PostgreSQL detail moves into the error context. A missing row becomes not-found.
func dbError(err error, operation, priority string, kv ...any) error {
	category := errors.CategoryDatabase
	public := ""

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		category = errors.CategoryNotFound
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case pgUniqueViolation:
			category = errors.CategoryConflict
			public = "record already exists"
		case pgForeignKeyViolation:
			category = errors.CategoryNotFound
			public = "referenced record does not exist"
		case pgCheckViolation:
			category = errors.CategoryValidation
			public = "value is out of the allowed range"
		case pgInvalidTextRep:
			category = errors.CategoryValidation
			public = "value has an invalid format"
		}
	}

	cause := err
	if public != "" {
		cause = &constraintError{msg: public, cause: err}
	}

	builder := errors.New(cause).
		Component("datastore").
		Category(category).
		Context("operation", operation)

	if priority != "" && category == errors.CategoryDatabase {
		builder = builder.Priority(priority)
	}
	if pgErr != nil {
		builder = builder.Context("pg_code", pgErr.Code)
		if pgErr.ConstraintName != "" {
			builder = builder.Context("constraint", pgErr.ConstraintName)
		}
		if pgErr.Detail != "" {
			builder = builder.Context("pg_detail", pgErr.Detail)
		}
	}

	for i := 0; i < len(kv)-1; i += 2 {
		if key, ok := kv[i].(string); ok {
			builder = builder.Context(key, kv[i+1])
		}
	}

	return builder.Build()
}

// constraintError hides the driver message behind a fixed text while keeping the
// driver error reachable with errors.As.
type constraintError struct {
	msg   string
	cause error
}

func (e *constraintError) Error() string { return e.msg }
func (e *constraintError) Unwrap() error { return e.cause }

// notFound returns a not-found error for a resource id.
func notFound(resource, id string) error {
	return errors.NotFound("datastore", resource, id)
}

// conflict reports a state conflict such as reviewing an item twice.
func conflict(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("datastore").
		Category(errors.CategoryConflict).
		Build()
}

// scanAll collects rows with scan, closing rows.
func scanAll[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
