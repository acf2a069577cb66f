package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is a process-local Store. A single RWMutex serializes mutations;
// reads run concurrently and observe whole entities only.
type Memory[K comparable, E Entity[K, E]] struct {
	mu     sync.RWMutex
	schema Schema[K]
	seq    int64
	items  map[K]E
	order  []K
	// index maps field -> value -> owning key for every enforced field.
	index map[string]map[string]K
}

// NewMemory creates an empty Memory store.
func NewMemory[K comparable, E Entity[K, E]](schema Schema[K]) *Memory[K, E] {
	schema.validate()
	index := make(map[string]map[string]K, len(schema.Unique))
	for _, f := range schema.Unique {
		index[f] = make(map[string]K)
	}
	return &Memory[K, E]{
		schema: schema,
		items:  make(map[K]E),
		index:  index,
	}
}

// Create persists e. Server-assigned keys advance the sequence only when the
// entity is stored.
func (m *Memory[K, E]) Create(_ context.Context, e E) (E, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero E
	key := e.EntityKey()
	if m.schema.serverKeys() {
		key = m.schema.KeyGen(m.seq + 1)
		e = e.WithKey(key)
	} else if _, ok := m.items[key]; ok {
		return zero, &ConflictError{Field: m.schema.KeyField, Value: fmt.Sprint(key)}
	}

	if err := m.checkUnique(key, e); err != nil {
		return zero, err
	}

	if m.schema.serverKeys() {
		m.seq++
	}
	m.items[key] = e
	m.order = append(m.order, key)
	m.addIndex(key, e)
	return e, nil
}

// List returns every entity in insertion order.
func (m *Memory[K, E]) List(_ context.Context) ([]E, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]E, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.items[k])
	}
	return out, nil
}

// Get returns the entity stored under key.
func (m *Memory[K, E]) Get(_ context.Context, key K) (E, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[key]
	if !ok {
		var zero E
		return zero, ErrNotFound
	}
	return e, nil
}

// Update overwrites the entity stored under key.
func (m *Memory[K, E]) Update(_ context.Context, key K, e E) (E, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero E
	old, ok := m.items[key]
	if !ok {
		return zero, ErrNotFound
	}
	e = e.WithKey(key)
	if err := m.checkUnique(key, e); err != nil {
		return zero, err
	}

	m.removeIndex(key, old)
	m.items[key] = e
	m.addIndex(key, e)
	return e, nil
}

// UpdatePassword replaces the password of the entity stored under key.
func (m *Memory[K, E]) UpdatePassword(_ context.Context, key K, password string) (E, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero E
	old, ok := m.items[key]
	if !ok {
		return zero, ErrNotFound
	}
	p, ok := any(old).(Passworder[E])
	if !ok {
		return zero, ErrUnsupported
	}
	e := p.WithPassword(password)
	m.items[key] = e
	return e, nil
}

// Delete removes the entity stored under key. The sequence is not rewound.
func (m *Memory[K, E]) Delete(_ context.Context, key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.items[key]
	if !ok {
		return ErrNotFound
	}
	m.removeIndex(key, old)
	delete(m.items, key)
	if i := slices.Index(m.order, key); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	return nil
}

// Len returns the number of stored entities.
func (m *Memory[K, E]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// ─────────────────────────────────────────────────────────────────────────────
// Index maintenance. Callers hold mu.
// ─────────────────────────────────────────────────────────────────────────────

func (m *Memory[K, E]) checkUnique(key K, e E) error {
	fields := e.UniqueFields()
	for _, f := range m.schema.Unique {
		v, ok := fields[f]
		if !ok {
			continue
		}
		if owner, taken := m.index[f][v]; taken && owner != key {
			return &ConflictError{Field: f, Value: v}
		}
	}
	return nil
}

func (m *Memory[K, E]) addIndex(key K, e E) {
	fields := e.UniqueFields()
	for _, f := range m.schema.Unique {
		if v, ok := fields[f]; ok {
			m.index[f][v] = key
		}
	}
}

func (m *Memory[K, E]) removeIndex(key K, e E) {
	fields := e.UniqueFields()
	for _, f := range m.schema.Unique {
		v, ok := fields[f]
		if !ok {
			continue
		}
		if owner, taken := m.index[f][v]; taken && owner == key {
			delete(m.index[f], v)
		}
	}
}
