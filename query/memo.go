package query

import (
	"errors"
	"sync"
	"time"

	"github.com/on-the-ground/query_ive_go/query/internal/lru"
	"github.com/rickb777/date/v2/timespan"
	"go.uber.org/zap"
)

type memo[V any] struct {
	value      V
	verifiedAt Revision
	changedAt  Revision
	deps       []dependency
}

// memoTable stores one tracked function's results by key.
//
// A key being brought up to date is claimed by exactly one runtime; other
// runtimes wait on the claim. Claimed keys are taken out of the LRU ledger
// so an entry is never evicted while it is being verified or recomputed.
type memoTable[K comparable, V any] struct {
	db       *Database
	function string
	compute  func(*Runtime, K) (V, error)
	equal    func(a, b V) bool

	mu     sync.Mutex
	memos  map[K]*memo[V]
	claims map[K]*claim
	ledger *lru.Ledger[K] // nil when unbounded
}

func newMemoTable[K comparable, V any](
	db *Database,
	function string,
	compute func(*Runtime, K) (V, error),
	equal func(a, b V) bool,
	capacity int,
) *memoTable[K, V] {
	t := &memoTable[K, V]{
		db:       db,
		function: function,
		compute:  compute,
		equal:    equal,
		memos:    make(map[K]*memo[V]),
		claims:   make(map[K]*claim),
	}
	if capacity > 0 {
		t.ledger = lru.New[K](capacity)
	}
	return t
}

func (t *memoTable[K, V]) ingredientName() string {
	return t.function
}

func (t *memoTable[K, V]) changedSince(rt *Runtime, key any, since Revision) (bool, error) {
	_, changedAt, err := t.fetch(rt, key.(K))
	if err != nil {
		return true, err
	}
	return changedAt > since, nil
}

// fetch returns the value for key at rt's revision along with the revision
// it last changed at.
func (t *memoTable[K, V]) fetch(rt *Runtime, key K) (V, Revision, error) {
	for {
		t.mu.Lock()
		m, ok := t.memos[key]
		if ok && m.verifiedAt == rt.revision {
			evicted := t.touch(key)
			t.mu.Unlock()

			t.emit(EventHit, key, rt.revision)
			t.dropped(evicted)
			return m.value, m.changedAt, nil
		}
		if c, busy := t.claims[key]; busy {
			t.mu.Unlock()
			if err := rt.await(c, t.function, key); err != nil {
				var zero V
				return zero, 0, err
			}
			continue
		}

		c := newClaim(rt)
		t.claims[key] = c
		if t.ledger != nil {
			t.ledger.Remove(key)
		}
		t.mu.Unlock()
		return t.refresh(rt, key, m, c)
	}
}

// refresh brings a claimed key up to date: reuse old when every dependency
// is unchanged, run the function otherwise.
func (t *memoTable[K, V]) refresh(rt *Runtime, key K, old *memo[V], c *claim) (value V, changedAt Revision, err error) {
	var stored *memo[V]
	defer func() {
		t.release(key, c, stored)
	}()

	if old != nil {
		clean, verr := t.verify(rt, old)
		if verr != nil {
			return value, 0, verr
		}
		if clean {
			stored = &memo[V]{
				value:      old.value,
				verifiedAt: rt.revision,
				changedAt:  old.changedAt,
				deps:       old.deps,
			}
			t.emit(EventVerified, key, rt.revision)
			return old.value, old.changedAt, nil
		}
	}

	fresh, err := t.execute(rt, key, old)
	if err != nil {
		return value, 0, err
	}
	stored = fresh
	return fresh.value, fresh.changedAt, nil
}

// verify reports whether none of old's dependencies changed after they were read.
func (t *memoTable[K, V]) verify(rt *Runtime, old *memo[V]) (bool, error) {
	for _, dep := range old.deps {
		changed, err := dep.source.changedSince(rt, dep.key, dep.changedAt)
		if err != nil {
			if errors.Is(err, ErrCycle) {
				return false, err
			}
			// the function body will meet the same error and decide what to do with it
			return false, nil
		}
		if changed {
			return false, nil
		}
	}
	return true, nil
}

func (t *memoTable[K, V]) execute(rt *Runtime, key K, old *memo[V]) (*memo[V], error) {
	f := rt.push(t.function, key)
	start := time.Now()
	value, err := t.call(rt, key, f)
	span := timespan.BetweenTimes(start, time.Now())
	if err != nil {
		return nil, err
	}

	fresh := &memo[V]{
		value:      value,
		verifiedAt: rt.revision,
		changedAt:  rt.revision,
		deps:       f.deps,
	}
	backdated := old != nil && t.equal(old.value, value)
	if backdated {
		fresh.changedAt = old.changedAt
	}
	t.db.emit(Event{
		Kind:      EventExecuted,
		Function:  t.function,
		Key:       key,
		Revision:  rt.revision,
		Span:      span,
		Backdated: backdated,
	})
	return fresh, nil
}

func (t *memoTable[K, V]) call(rt *Runtime, key K, f *frame) (V, error) {
	defer rt.pop(f)
	return t.compute(rt, key)
}

// release stores the outcome of a refresh and wakes the waiters. A failed
// refresh drops the previous entry so the next read cannot backdate to it.
func (t *memoTable[K, V]) release(key K, c *claim, stored *memo[V]) {
	t.mu.Lock()
	delete(t.claims, key)
	var evicted []K
	if stored != nil {
		t.memos[key] = stored
		evicted = t.touch(key)
	} else {
		delete(t.memos, key)
	}
	t.mu.Unlock()

	close(c.done)
	t.dropped(evicted)
}

// touch must be called with t.mu held.
func (t *memoTable[K, V]) touch(key K) []K {
	if t.ledger == nil {
		return nil
	}
	evicted := t.ledger.Touch(key)
	for _, k := range evicted {
		delete(t.memos, k)
	}
	if t.ledger.Len() > len(t.memos) {
		panic("query: lru ledger tracks keys without memos in " + t.function)
	}
	return evicted
}

func (t *memoTable[K, V]) dropped(keys []K) {
	if len(keys) == 0 {
		return
	}
	rev := t.db.clock.now()
	for _, k := range keys {
		t.db.logger.Debug("evicted memo", zap.String("function", t.function), zap.Any("key", k))
		t.emit(EventEvicted, k, rev)
	}
}

func (t *memoTable[K, V]) emit(kind EventKind, key K, rev Revision) {
	t.db.emit(Event{Kind: kind, Function: t.function, Key: key, Revision: rev})
}

func (t *memoTable[K, V]) setCapacity(capacity int) {
	t.mu.Lock()
	var evicted []K
	switch {
	case capacity <= 0:
		t.ledger = nil
	case t.ledger == nil:
		t.ledger = lru.New[K](capacity)
		for k := range t.memos {
			if _, busy := t.claims[k]; busy {
				continue
			}
			evicted = append(evicted, t.touch(k)...)
		}
	default:
		evicted = t.ledger.Resize(capacity)
		for _, k := range evicted {
			delete(t.memos, k)
		}
	}
	t.mu.Unlock()
	t.dropped(evicted)
}

func (t *memoTable[K, V]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.memos)
}
