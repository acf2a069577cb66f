package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sentinel errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a query matches no rows.
	ErrNotFound = errors.New("registry/db: record not found")

	// ErrDuplicateKey is returned on unique constraint violations.
	ErrDuplicateKey = errors.New("registry/db: duplicate key")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated.
	ErrForeignKeyViolation = errors.New("registry/db: foreign key violation")

	// ErrDeadlock is returned when the database detects a deadlock or the
	// database file is locked by another writer.
	ErrDeadlock = errors.New("registry/db: deadlock detected")

	// ErrTimeout is returned when a statement exceeds its deadline.
	ErrTimeout = errors.New("registry/db: query timeout")

	// ErrCheckViolation is returned when a CHECK or NOT NULL constraint is violated.
	ErrCheckViolation = errors.New("registry/db: check constraint violation")

	// ErrConnectionFailed is returned when the driver cannot reach the server.
	ErrConnectionFailed = errors.New("registry/db: connection failed")
)

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsDuplicateKey(err error) bool        { return errors.Is(err, ErrDuplicateKey) }
func IsForeignKeyViolation(err error) bool { return errors.Is(err, ErrForeignKeyViolation) }
func IsDeadlock(err error) bool            { return errors.Is(err, ErrDeadlock) }
func IsTimeout(err error) bool             { return errors.Is(err, ErrTimeout) }
func IsCheckViolation(err error) bool      { return errors.Is(err, ErrCheckViolation) }

// ─────────────────────────────────────────────────────────────────────────────
// DBError
// ─────────────────────────────────────────────────────────────────────────────

// DBError wraps a sentinel error with the original driver error. Callers use
// errors.Is(err, ErrDuplicateKey) for simple checks and Constraint to learn
// which index or column was violated.
type DBError struct {
	// Sentinel is one of the package-level Err* variables.
	Sentinel error
	// Cause is the original driver error.
	Cause error
	// Constraint names the violated constraint, index or column when the
	// driver reports it. Empty otherwise.
	Constraint string
}

func (e *DBError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s on %s (cause: %v)", e.Sentinel, e.Constraint, e.Cause)
	}
	return fmt.Sprintf("%s (cause: %v)", e.Sentinel, e.Cause)
}

func (e *DBError) Is(target error) bool { return errors.Is(e.Sentinel, target) }
func (e *DBError) Unwrap() error        { return e.Cause }

// ─────────────────────────────────────────────────────────────────────────────
// ErrorMapper
// ─────────────────────────────────────────────────────────────────────────────

// ErrorMapper translates raw driver errors into the package sentinels.
// A mapper returns err unchanged when it does not recognise it.
type ErrorMapper interface {
	Map(err error) error
}

// ErrorMapperFunc adapts a function to ErrorMapper.
type ErrorMapperFunc func(error) error

func (f ErrorMapperFunc) Map(err error) error { return f(err) }

// DefaultErrorMapper handles database/sql and context errors and falls back
// to every built-in driver mapping.
func DefaultErrorMapper() ErrorMapper {
	return ErrorMapperFunc(defaultMap)
}

func defaultMap(err error) error {
	if err == nil {
		return nil
	}

	var dbe *DBError
	if errors.As(err, &dbe) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &DBError{Sentinel: ErrNotFound, Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &DBError{Sentinel: ErrTimeout, Cause: err}
	}

	for _, m := range []func(error) error{mapPQError, mapMySQLError, mapSQLiteError} {
		if mapped := m(err); mapped != nil {
			return mapped
		}
	}
	return err
}

// ChainMapper tries each mapper in order and returns the first result that
// differs from the input.
func ChainMapper(mappers ...ErrorMapper) ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if err == nil {
			return nil
		}
		for _, m := range mappers {
			if mapped := m.Map(err); mapped != err {
				return mapped
			}
		}
		return err
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL (lib/pq)
// ─────────────────────────────────────────────────────────────────────────────

func pqErrorMapper() ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if mapped := mapPQError(err); mapped != nil {
			return mapped
		}
		return err
	})
}

// SQLSTATE codes: https://www.postgresql.org/docs/current/errcodes-appendix.html
func mapPQError(err error) error {
	var pqe *pq.Error
	if !errors.As(err, &pqe) {
		return nil
	}
	constraint := pqe.Constraint
	if constraint == "" {
		constraint = pqe.Column
	}
	wrap := func(sentinel error) error {
		return &DBError{Sentinel: sentinel, Cause: err, Constraint: constraint}
	}
	switch pqe.Code {
	case "23505": // unique_violation
		return wrap(ErrDuplicateKey)
	case "23503": // foreign_key_violation
		return wrap(ErrForeignKeyViolation)
	case "23514", "23502": // check_violation, not_null_violation
		return wrap(ErrCheckViolation)
	case "40P01", "40001": // deadlock_detected, serialization_failure
		return wrap(ErrDeadlock)
	case "57014": // query_canceled
		return wrap(ErrTimeout)
	}
	if pqe.Code.Class() == "08" {
		return wrap(ErrConnectionFailed)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL (go-sql-driver/mysql)
// ─────────────────────────────────────────────────────────────────────────────

func mysqlErrorMapper() ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if mapped := mapMySQLError(err); mapped != nil {
			return mapped
		}
		return err
	})
}

func mapMySQLError(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	wrap := func(sentinel error, constraint string) error {
		return &DBError{Sentinel: sentinel, Cause: err, Constraint: constraint}
	}
	switch me.Number {
	case 1062: // ER_DUP_ENTRY: "Duplicate entry 'x' for key 'users.uq_users_email'"
		return wrap(ErrDuplicateKey, quotedAfter(me.Message, "for key "))
	case 1452, 1216, 1217:
		return wrap(ErrForeignKeyViolation, "")
	case 3819, 1048: // ER_CHECK_CONSTRAINT_VIOLATED, ER_BAD_NULL_ERROR
		return wrap(ErrCheckViolation, "")
	case 1213, 1205: // ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
		return wrap(ErrDeadlock, "")
	case 3024: // ER_QUERY_TIMEOUT
		return wrap(ErrTimeout, "")
	case 1045, 2002, 2003, 2006, 2013:
		return wrap(ErrConnectionFailed, "")
	}
	return nil
}

// quotedAfter returns the single-quoted token that follows marker in s.
func quotedAfter(s, marker string) string {
	idx := strings.LastIndex(s, marker)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimPrefix(s[idx+len(marker):], "'")
	if end := strings.Index(rest, "'"); end >= 0 {
		return rest[:end]
	}
	return rest
}

// ─────────────────────────────────────────────────────────────────────────────
// SQLite (mattn/go-sqlite3)
// ─────────────────────────────────────────────────────────────────────────────

func sqliteErrorMapper() ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if mapped := mapSQLiteError(err); mapped != nil {
			return mapped
		}
		return err
	})
}

func mapSQLiteError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return nil
	}
	// Messages look like "UNIQUE constraint failed: users.email".
	constraint := ""
	if _, after, ok := strings.Cut(se.Error(), "constraint failed: "); ok {
		constraint = after
	}
	wrap := func(sentinel error) error {
		return &DBError{Sentinel: sentinel, Cause: err, Constraint: constraint}
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return wrap(ErrDuplicateKey)
	case sqlite3.ErrConstraintForeignKey:
		return wrap(ErrForeignKeyViolation)
	case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
		return wrap(ErrCheckViolation)
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return wrap(ErrDeadlock)
	case sqlite3.ErrInterrupt:
		return wrap(ErrTimeout)
	}
	return nil
}
