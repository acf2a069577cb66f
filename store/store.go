// Package store defines the entity-store contract shared by every backend of
// the registry and provides the process-local and Redis implementations.
//
// # Entity Interfaces
//
// Stored types implement [Entity]:
//
//	type Entity[K comparable, E any] interface {
//	    EntityKey() K
//	    WithKey(K) E
//	    UniqueFields() map[string]string
//	}
//
// Entities with a password field also implement [Passworder] to support
// UpdatePassword.
//
// # Identity
//
// A [Schema] decides how keys are assigned. With KeyGen set the store assigns
// monotonically increasing keys that are never reused, even after deletes.
// Without it the key travels in the entity and a duplicate key is reported as
// a conflict on Schema.KeyField.
//
// # Errors
//
//   - [ErrNotFound] - no entity under the key
//   - [ErrConflict] - a uniqueness-constrained field collided ([ConflictError])
//   - [ErrUnsupported] - UpdatePassword on an entity without a password
package store

import (
	"context"
	"slices"
)

// Entity is the interface every stored type implements. E is the concrete
// type itself, so WithKey can return a modified copy.
type Entity[K comparable, E any] interface {
	// EntityKey returns the identity of the entity.
	EntityKey() K

	// WithKey returns a copy of the entity whose identity is forced to k.
	WithKey(k K) E

	// UniqueFields returns field name to value mappings for every field that
	// may be uniqueness-constrained. The Schema decides which are enforced.
	UniqueFields() map[string]string
}

// Passworder is implemented by entities with a password field.
type Passworder[E any] interface {
	// WithPassword returns a copy of the entity with only the password changed.
	WithPassword(password string) E
}

// Store is the entity-store contract. Every mutation performs its uniqueness
// checks and its write atomically.
type Store[K comparable, E any] interface {
	// Create persists e, assigning its key when the store owns identity.
	Create(ctx context.Context, e E) (E, error)

	// List returns all entities in insertion order. An empty store yields an
	// empty, non-nil slice.
	List(ctx context.Context) ([]E, error)

	// Get returns the entity stored under key.
	Get(ctx context.Context, key K) (E, error)

	// Update replaces the entity stored under key with e. The result always
	// carries key as its identity. Uniqueness is checked against other
	// entities only.
	Update(ctx context.Context, key K, e E) (E, error)

	// UpdatePassword changes only the password of the entity under key. No
	// uniqueness checks run.
	UpdatePassword(ctx context.Context, key K, password string) (E, error)

	// Delete removes the entity stored under key.
	Delete(ctx context.Context, key K) error
}

// Schema configures identity and uniqueness for a store instance.
type Schema[K comparable] struct {
	// KeyField is the external name of the identity field, used as the
	// conflict field for duplicate client-supplied keys. Default: "id".
	KeyField string

	// KeyGen builds a key from the next value of the store sequence. nil
	// means keys are supplied by the client.
	KeyGen func(seq int64) K

	// Unique lists the fields of Entity.UniqueFields that are enforced.
	Unique []string
}

// SequentialKeys is the KeyGen of stores with server-assigned int64 keys.
func SequentialKeys(seq int64) int64 { return seq }

func (s *Schema[K]) validate() {
	if s.KeyField == "" {
		s.KeyField = "id"
	}
	s.Unique = slices.Clone(s.Unique)
}

// serverKeys reports whether the store assigns keys.
func (s Schema[K]) serverKeys() bool { return s.KeyGen != nil }
