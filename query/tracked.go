package query

import (
	"go.trai.ch/zerr"
)

// Tracked is a memoized derived function registered with a database.
//
// The compute function must be deterministic given what it reads through the
// Runtime it receives. Its result is reused until one of those reads changes;
// when a re-execution yields an equal value, readers further up are not
// re-executed either.
type Tracked[K comparable, V any] struct {
	name  string
	id    FunctionID
	db    *Database
	table *memoTable[K, V]
}

// NewTracked registers compute under name. It panics if name is already taken.
func NewTracked[K comparable, V any](
	db *Database,
	name string,
	compute func(rt *Runtime, key K) (V, error),
	opts ...TrackedOption,
) *Tracked[K, V] {
	var cfg trackedConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	equal := defaultEqual[V]()
	if cfg.equal != nil {
		custom, ok := cfg.equal.(func(a, b V) bool)
		if !ok {
			panic(zerr.With(zerr.New("equality function does not match value type"), "function", name))
		}
		equal = custom
	}

	t := &Tracked[K, V]{
		name:  name,
		id:    functionID(name),
		db:    db,
		table: newMemoTable(db, name, compute, equal, cfg.lru),
	}
	db.register(t)
	return t
}

func (t *Tracked[K, V]) Name() string {
	return t.name
}

func (t *Tracked[K, V]) ID() FunctionID {
	return t.id
}

// Get returns the function's value at key, reusing the memoized value when
// it is still valid.
func (t *Tracked[K, V]) Get(r Reader, key K) (V, error) {
	rt, done := r.runtime()
	defer done()
	return t.get(rt, key)
}

func (t *Tracked[K, V]) get(rt *Runtime, key K) (V, error) {
	if rt.db != t.db {
		var zero V
		return zero, foreignHandleError(t.name)
	}
	value, changedAt, err := t.table.fetch(rt, key)
	if err != nil {
		// the failed read still counts, so the caller re-runs once it can succeed
		changedAt = rt.revision
	}
	rt.report(dependency{source: t.table, key: key, changedAt: changedAt})
	return value, err
}

func (t *Tracked[K, V]) invoke(rt *Runtime, key any) (any, error) {
	k, ok := key.(K)
	if !ok {
		return nil, keyTypeError(t.name, key)
	}
	v, err := t.get(rt, k)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SetLRUCapacity bounds the number of memoized values. Zero removes the bound.
func (t *Tracked[K, V]) SetLRUCapacity(capacity int) {
	t.table.setCapacity(capacity)
}

// Len reports the number of memoized values currently held.
func (t *Tracked[K, V]) Len() int {
	return t.table.len()
}
