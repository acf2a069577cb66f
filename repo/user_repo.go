package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skryldev/entity-registry/db"
	"github.com/Skryldev/entity-registry/models"
	"github.com/Skryldev/entity-registry/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// UserRepository interface
// ─────────────────────────────────────────────────────────────────────────────

// UserRepository is the SQL-backed users store. Uniqueness of email and
// phone_number is enforced by the uq_users_* indexes of the schema.
type UserRepository interface {
	store.Store[int64, models.User]
}

// ─────────────────────────────────────────────────────────────────────────────
// userRepo
// ─────────────────────────────────────────────────────────────────────────────

// userRepo is the production implementation backed by a db.Querier.
type userRepo struct {
	q     db.Querier
	retry db.RetryConfig
}

// Option configures a user repository.
type Option func(*userRepo)

// WithRetry overrides the retry policy applied to mutations that fail with a
// deadlock or a locked database.
func WithRetry(cfg db.RetryConfig) Option {
	return func(r *userRepo) { r.retry = cfg }
}

// NewUserRepo returns a UserRepository backed by q.
// q can be a *db.DB or a *db.Tx.
func NewUserRepo(q db.Querier, opts ...Option) UserRepository {
	r := &userRepo{
		q:     q,
		retry: db.RetryConfig{MaxAttempts: 3, Delay: 50 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL
// Placeholders are rebound per dialect by the db package.
// ─────────────────────────────────────────────────────────────────────────────

const userColumns = `id, full_name, email, phone_number, password`

const (
	sqlInsertUser = `
		INSERT INTO users (full_name, email, phone_number, password)
		VALUES ($1, $2, $3, $4)`

	sqlGetUser = `
		SELECT ` + userColumns + `
		FROM   users
		WHERE  id = $1`

	sqlListUsers = `
		SELECT ` + userColumns + `
		FROM   users
		ORDER  BY id`

	sqlUpdateUser = `
		UPDATE users
		SET    full_name = $1, email = $2, phone_number = $3, password = $4
		WHERE  id = $5`

	sqlUpdatePassword = `
		UPDATE users
		SET    password = $1
		WHERE  id = $2`

	sqlDeleteUser = `
		DELETE FROM users WHERE id = $1`

	returningUser = `
		RETURNING ` + userColumns
)

// ─────────────────────────────────────────────────────────────────────────────
// Create
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a user and returns the persisted record including the
// database-assigned id. The id of u is ignored.
func (r *userRepo) Create(ctx context.Context, u models.User) (models.User, error) {
	var out models.User
	args := []any{u.FullName, u.Email, u.PhoneNumber, u.Password}

	err := db.WithRetry(ctx, r.retry, func() error {
		if r.q.Dialect().Returning {
			created, err := scanUser(r.q.QueryRow(ctx, sqlInsertUser+returningUser, args...))
			out = created
			return err
		}
		res, err := r.q.Exec(ctx, sqlInsertUser, args...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("repo/user: last insert id: %w", err)
		}
		out = u.WithKey(id)
		return nil
	})
	if err != nil {
		return models.User{}, translate(err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// List
// ─────────────────────────────────────────────────────────────────────────────

// List returns every user ordered by id, which is insertion order.
func (r *userRepo) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.q.Query(ctx, sqlListUsers)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.Password); err != nil {
			return nil, fmt.Errorf("repo/user: scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return users, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Get
// ─────────────────────────────────────────────────────────────────────────────

// Get returns a single user by primary key.
// Returns store.ErrNotFound when no record matches.
func (r *userRepo) Get(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, sqlGetUser, id))
	if err != nil {
		return models.User{}, translate(err)
	}
	return u, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Update
// ─────────────────────────────────────────────────────────────────────────────

// Update overwrites every column of the user with the given id. The id of u
// is ignored.
func (r *userRepo) Update(ctx context.Context, id int64, u models.User) (models.User, error) {
	u = u.WithKey(id)
	args := []any{u.FullName, u.Email, u.PhoneNumber, u.Password, id}

	var out models.User
	err := db.WithRetry(ctx, r.retry, func() error {
		if r.q.Dialect().Returning {
			updated, err := scanUser(r.q.QueryRow(ctx, sqlUpdateUser+returningUser, args...))
			out = updated
			return err
		}
		if err := r.execOne(ctx, sqlUpdateUser, args...); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return models.User{}, translate(err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// UpdatePassword
// ─────────────────────────────────────────────────────────────────────────────

// UpdatePassword changes only the password column.
func (r *userRepo) UpdatePassword(ctx context.Context, id int64, password string) (models.User, error) {
	var out models.User
	err := db.WithRetry(ctx, r.retry, func() error {
		if r.q.Dialect().Returning {
			updated, err := scanUser(r.q.QueryRow(ctx, sqlUpdatePassword+returningUser, password, id))
			out = updated
			return err
		}
		// Without RETURNING the row is read back in the same transaction.
		return r.inTx(ctx, func(q db.Querier) error {
			if _, err := q.Exec(ctx, sqlUpdatePassword, password, id); err != nil {
				return err
			}
			updated, err := scanUser(q.QueryRow(ctx, sqlGetUser, id))
			out = updated
			return err
		})
	})
	if err != nil {
		return models.User{}, translate(err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete
// ─────────────────────────────────────────────────────────────────────────────

// Delete removes a user by id.
// Returns store.ErrNotFound if no row was deleted.
func (r *userRepo) Delete(ctx context.Context, id int64) error {
	err := db.WithRetry(ctx, r.retry, func() error {
		return r.execOne(ctx, sqlDeleteUser, id)
	})
	return translate(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// execOne runs a statement that must touch exactly one row. MySQL connections
// are opened with clientFoundRows so an UPDATE writing identical values still
// reports the matched row.
func (r *userRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo/user: rows affected: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// inTx runs fn in a new transaction when the repository holds a *db.DB. A
// repository built on a *db.Tx is already inside one and runs fn directly.
func (r *userRepo) inTx(ctx context.Context, fn func(db.Querier) error) error {
	database, ok := r.q.(*db.DB)
	if !ok {
		return fn(r.q)
	}
	return database.ExecTx(ctx, func(tx *db.Tx) error { return fn(tx) })
}

// scanUser scans a row selected with userColumns.
func scanUser(row *db.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.Password)
	return u, err
}

// translate maps db sentinels onto the store error taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err):
		return fmt.Errorf("repo/user: %w", store.ErrNotFound)
	case db.IsDuplicateKey(err):
		return &store.ConflictError{Field: conflictField(err), Cause: err}
	default:
		return fmt.Errorf("repo/user: %w", err)
	}
}

// conflictField derives the violated column from the constraint reported by
// the driver: "uq_users_email" (PostgreSQL), "users.uq_users_phone_number"
// (MySQL) or "users.email" (SQLite).
func conflictField(err error) string {
	hint := err.Error()
	var dbErr *db.DBError
	if errors.As(err, &dbErr) && dbErr.Constraint != "" {
		hint = dbErr.Constraint
	}
	switch {
	case strings.Contains(hint, "phone_number"):
		return "phone_number"
	case strings.Contains(hint, "email"):
		return "email"
	default:
		return ""
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Compile-time interface assertion
// ─────────────────────────────────────────────────────────────────────────────

var _ UserRepository = (*userRepo)(nil)
