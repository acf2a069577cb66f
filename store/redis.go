package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Key layout under a store prefix p:
//
//	p:seq            INCR counter for keys and insertion order
//	p:order          sorted set of entity keys scored by insertion sequence
//	p:e:<key>        JSON document of the entity
//	p:u:<field>      hash of enforced field value -> owning key

// RedisConfig configures a Redis store.
type RedisConfig[K comparable] struct {
	// Prefix namespaces every key of the store, e.g. "registry:users".
	Prefix string

	Schema Schema[K]

	// MaxRetries bounds optimistic transaction retries after a watched key
	// changed. Default: 50.
	MaxRetries int
}

// Redis is a Store backed by Redis. Mutations are optimistic WATCH/MULTI
// transactions over the entity document and the index hashes they touch.
// Entities are stored as JSON, so E must round-trip through encoding/json.
type Redis[K comparable, E Entity[K, E]] struct {
	client     redis.UniversalClient
	prefix     string
	schema     Schema[K]
	maxRetries int
}

// NewRedis creates a Redis store using client.
func NewRedis[K comparable, E Entity[K, E]](client redis.UniversalClient, cfg RedisConfig[K]) *Redis[K, E] {
	cfg.Schema.validate()
	if cfg.Prefix == "" {
		cfg.Prefix = "registry"
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 50
	}
	return &Redis[K, E]{
		client:     client,
		prefix:     cfg.Prefix,
		schema:     cfg.Schema,
		maxRetries: cfg.MaxRetries,
	}
}

func (r *Redis[K, E]) seqKey() string            { return r.prefix + ":seq" }
func (r *Redis[K, E]) orderKey() string          { return r.prefix + ":order" }
func (r *Redis[K, E]) entityKey(k string) string { return r.prefix + ":e:" + k }
func (r *Redis[K, E]) uniqueKey(f string) string { return r.prefix + ":u:" + f }

func keyString[K comparable](k K) string { return fmt.Sprint(k) }

// watchKeys returns the entity key followed by every index hash.
func (r *Redis[K, E]) watchKeys(k string) []string {
	keys := make([]string, 0, len(r.schema.Unique)+1)
	keys = append(keys, r.entityKey(k))
	for _, f := range r.schema.Unique {
		keys = append(keys, r.uniqueKey(f))
	}
	return keys
}

// Create persists e. The sequence is consumed before the transaction, so a
// rejected create leaves a gap but keys are never reused.
func (r *Redis[K, E]) Create(ctx context.Context, e E) (E, error) {
	var zero E
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return zero, fmt.Errorf("registry/redis: sequence: %w", err)
	}
	key := e.EntityKey()
	if r.schema.serverKeys() {
		key = r.schema.KeyGen(seq)
		e = e.WithKey(key)
	}
	ks := keyString(key)
	data, err := json.Marshal(e)
	if err != nil {
		return zero, fmt.Errorf("registry/redis: encode: %w", err)
	}
	fields := e.UniqueFields()

	err = r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, r.entityKey(ks)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConflictError{Field: r.schema.KeyField, Value: ks}
		}
		if err := r.checkUnique(ctx, tx, ks, fields); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.entityKey(ks), data, 0)
			p.ZAdd(ctx, r.orderKey(), redis.Z{Score: float64(seq), Member: ks})
			r.setIndex(ctx, p, ks, fields)
			return nil
		})
		return err
	}, r.watchKeys(ks)...)
	if err != nil {
		return zero, err
	}
	return e, nil
}

// List returns every entity in insertion order.
func (r *Redis[K, E]) List(ctx context.Context) ([]E, error) {
	keys, err := r.client.ZRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("registry/redis: list: %w", err)
	}
	out := make([]E, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	docKeys := make([]string, len(keys))
	for i, k := range keys {
		docKeys[i] = r.entityKey(k)
	}
	docs, err := r.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("registry/redis: list: %w", err)
	}
	for _, d := range docs {
		s, ok := d.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		e, err := decode[E](s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Get returns the entity stored under key.
func (r *Redis[K, E]) Get(ctx context.Context, key K) (E, error) {
	var zero E
	s, err := r.client.Get(ctx, r.entityKey(keyString(key))).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("registry/redis: get: %w", err)
	}
	return decode[E](s)
}

// Update overwrites the entity stored under key.
func (r *Redis[K, E]) Update(ctx context.Context, key K, e E) (E, error) {
	var zero E
	ks := keyString(key)
	e = e.WithKey(key)
	data, err := json.Marshal(e)
	if err != nil {
		return zero, fmt.Errorf("registry/redis: encode: %w", err)
	}
	fields := e.UniqueFields()

	err = r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.load(ctx, tx, ks)
		if err != nil {
			return err
		}
		if err := r.checkUnique(ctx, tx, ks, fields); err != nil {
			return err
		}
		oldFields := old.UniqueFields()
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.entityKey(ks), data, 0)
			for _, f := range r.schema.Unique {
				if ov, ok := oldFields[f]; ok && ov != fields[f] {
					p.HDel(ctx, r.uniqueKey(f), ov)
				}
			}
			r.setIndex(ctx, p, ks, fields)
			return nil
		})
		return err
	}, r.watchKeys(ks)...)
	if err != nil {
		return zero, err
	}
	return e, nil
}

// UpdatePassword replaces the password of the entity stored under key.
func (r *Redis[K, E]) UpdatePassword(ctx context.Context, key K, password string) (E, error) {
	var out E
	ks := keyString(key)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.load(ctx, tx, ks)
		if err != nil {
			return err
		}
		p, ok := any(old).(Passworder[E])
		if !ok {
			return ErrUnsupported
		}
		e := p.WithPassword(password)
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("registry/redis: encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.entityKey(ks), data, 0)
			return nil
		})
		if err == nil {
			out = e
		}
		return err
	}, r.entityKey(ks))
	if err != nil {
		var zero E
		return zero, err
	}
	return out, nil
}

// Delete removes the entity stored under key with its index entries.
func (r *Redis[K, E]) Delete(ctx context.Context, key K) error {
	ks := keyString(key)
	return r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.load(ctx, tx, ks)
		if err != nil {
			return err
		}
		oldFields := old.UniqueFields()
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.entityKey(ks))
			p.ZRem(ctx, r.orderKey(), ks)
			for _, f := range r.schema.Unique {
				if v, ok := oldFields[f]; ok {
					p.HDel(ctx, r.uniqueKey(f), v)
				}
			}
			return nil
		})
		return err
	}, r.watchKeys(ks)...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// watch runs fn in an optimistic transaction, retrying when a watched key
// changed before EXEC.
func (r *Redis[K, E]) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("registry/redis: transaction retries exhausted: %w", err)
}

func (r *Redis[K, E]) load(ctx context.Context, tx *redis.Tx, ks string) (E, error) {
	var zero E
	s, err := tx.Get(ctx, r.entityKey(ks)).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	return decode[E](s)
}

func (r *Redis[K, E]) checkUnique(ctx context.Context, tx *redis.Tx, ks string, fields map[string]string) error {
	for _, f := range r.schema.Unique {
		v, ok := fields[f]
		if !ok {
			continue
		}
		owner, err := tx.HGet(ctx, r.uniqueKey(f), v).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if owner != ks {
			return &ConflictError{Field: f, Value: v}
		}
	}
	return nil
}

func (r *Redis[K, E]) setIndex(ctx context.Context, p redis.Pipeliner, ks string, fields map[string]string) {
	for _, f := range r.schema.Unique {
		if v, ok := fields[f]; ok {
			p.HSet(ctx, r.uniqueKey(f), v, ks)
		}
	}
}

func decode[E any](s string) (E, error) {
	var e E
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return e, fmt.Errorf("registry/redis: decode: %w", err)
	}
	return e, nil
}
