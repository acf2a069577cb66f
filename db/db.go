// Package db is the SQL layer of the registry. It wraps database/sql with
// context-aware helpers, hook dispatch, per-dialect placeholder rebinding and
// unified error mapping. It is NOT an ORM: every statement is written by hand
// in the repository that issues it.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds all options for opening and managing the connection pool.
type Config struct {
	// DSN is the driver-specific data-source name.
	DSN string

	// DriverName is "postgres", "mysql" or "sqlite3".
	DriverName string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Default statement timeout applied when the context carries no deadline.
	// Zero means no default timeout.
	DefaultTimeout time.Duration

	// Hooks executed around every statement (logging, metrics).
	// nil entries are skipped.
	Hooks []Hook
}

// ─────────────────────────────────────────────────────────────────────────────
// DB
// ─────────────────────────────────────────────────────────────────────────────

// DB is a concurrency-safe wrapper around *sql.DB.
//
// Statements are written with PostgreSQL-style "$N" placeholders and rebound
// for the connected dialect before they reach the driver.
type DB struct {
	executor
	sqldb *sql.DB
	cfg   Config
}

// Open opens the database described by cfg and verifies connectivity with Ping.
// When cfg.DriverName names a registered Driver its error mapper and dialect
// are installed; otherwise the default mapper and PostgreSQL dialect are used.
func Open(cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("registry/db: DSN must not be empty")
	}
	if cfg.DriverName == "" {
		return nil, fmt.Errorf("registry/db: DriverName must not be empty")
	}

	sqldb, err := sql.Open(cfg.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("registry/db: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	d := &DB{
		executor: executor{
			run:     sqldb,
			hooks:   newHookChain(cfg.Hooks),
			errMap:  DefaultErrorMapper(),
			dialect: DialectFor(cfg.DriverName),
		},
		sqldb: sqldb,
		cfg:   cfg,
	}
	if drv, err := LookupDriver(cfg.DriverName); err == nil {
		d.errMap = ChainMapper(drv.ErrorMapper(), DefaultErrorMapper())
		d.dialect = drv.Dialect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("registry/db: ping: %w", err)
	}

	return d, nil
}

// Raw returns the underlying *sql.DB.
func (d *DB) Raw() *sql.DB { return d.sqldb }

// SetErrorMapper replaces the installed error mapper.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

// Close closes all pooled connections. Safe to call multiple times.
func (d *DB) Close() error { return d.sqldb.Close() }

// Ping verifies that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.withDefaultTimeout(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

// Stats returns pool statistics for monitoring.
func (d *DB) Stats() sql.DBStats { return d.sqldb.Stats() }

// ─────────────────────────────────────────────────────────────────────────────
// Statement execution
// ─────────────────────────────────────────────────────────────────────────────

// runner is the statement surface shared by *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// executor rebinds, runs, maps and reports every statement. DB and Tx embed
// one over their pool or transaction.
type executor struct {
	run     runner
	hooks   hookChain
	errMap  ErrorMapper
	dialect Dialect
}

// Dialect reports the SQL dialect statements are rebound for.
func (e *executor) Dialect() Dialect { return e.dialect }

// Query executes a query that returns rows. The caller MUST close the
// returned *sql.Rows. No default timeout applies: it would cancel the rows
// before they are read.
func (e *executor) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := e.observe(ctx, query, args, func(q string) (err error) {
		rows, err = e.run.QueryContext(ctx, q, args...)
		return err
	})
	return rows, err
}

// QueryRow executes a query expected to return at most one row.
// Scan on the returned *Row reports ErrNotFound when no row matched.
func (e *executor) QueryRow(ctx context.Context, query string, args ...any) *Row {
	var raw *sql.Row
	_ = e.observe(ctx, query, args, func(q string) error {
		raw = e.run.QueryRowContext(ctx, q, args...)
		return raw.Err()
	})
	return &Row{raw: raw, errMap: e.errMap}
}

func (e *executor) exec(ctx context.Context, query string, args []any) (sql.Result, error) {
	var res sql.Result
	err := e.observe(ctx, query, args, func(q string) (err error) {
		res, err = e.run.ExecContext(ctx, q, args...)
		return err
	})
	return res, err
}

// observe runs fn with the rebound statement between the hooks. Hooks see
// the mapped error.
func (e *executor) observe(ctx context.Context, query string, args []any, fn func(string) error) error {
	query = e.dialect.Rebind(query)
	start := time.Now()
	e.hooks.Before(ctx, query, args)
	err := e.mapErr(fn(query))
	e.hooks.After(ctx, query, args, time.Since(start), err)
	return err
}

func (e *executor) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return e.errMap.Map(err)
}

// Exec executes a statement that returns no rows (INSERT, UPDATE, DELETE,
// DDL) under the default timeout.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := d.withDefaultTimeout(ctx)
	defer cancel()
	return d.exec(ctx, query, args)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (d *DB) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.DefaultTimeout == 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.cfg.DefaultTimeout)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row
// ─────────────────────────────────────────────────────────────────────────────

// Row wraps *sql.Row and maps errors through the installed error mapper.
type Row struct {
	raw    *sql.Row
	errMap ErrorMapper
}

// Scan copies columns from the matched row into dest values.
// ErrNotFound is returned when no row was found.
func (r *Row) Scan(dest ...any) error {
	err := r.raw.Scan(dest...)
	if err == nil {
		return nil
	}
	return r.errMap.Map(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// WithRetry
// ─────────────────────────────────────────────────────────────────────────────

// RetryConfig controls retry behaviour for transient errors.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	// RetryOn decides whether an error triggers another attempt.
	// Defaults to retrying on ErrDeadlock only.
	RetryOn func(error) bool
}

// WithRetry executes fn, retrying on transient errors per cfg. fn must be
// safe to run again after a failed attempt.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	retryOn := cfg.RetryOn
	if retryOn == nil {
		retryOn = IsDeadlock
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryOn(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("registry/db: all %d attempts failed, last error: %w", attempts, lastErr)
}
