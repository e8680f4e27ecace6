// Package lru keeps the recency order of memoized keys for a bounded memo table.
//
// The ledger only tracks keys. The owner drops the memoized values for the
// keys a call reports as evicted. A Ledger is not safe for concurrent use; the
// owning table guards it with its own mutex.
package lru

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type Ledger[K comparable] struct {
	order   *simplelru.LRU[K, struct{}]
	evicted []K
}

// New returns a ledger holding at most capacity keys. capacity must be positive.
func New[K comparable](capacity int) *Ledger[K] {
	l := &Ledger[K]{}
	order, err := simplelru.NewLRU[K, struct{}](capacity, func(key K, _ struct{}) {
		l.evicted = append(l.evicted, key)
	})
	if err != nil {
		panic(err)
	}
	l.order = order
	return l
}

// Touch marks key as most recently used and returns the keys pushed out.
func (l *Ledger[K]) Touch(key K) []K {
	l.order.Add(key, struct{}{})
	return l.drain()
}

// Remove forgets key without reporting it as evicted.
func (l *Ledger[K]) Remove(key K) {
	l.order.Remove(key)
	l.evicted = l.evicted[:0]
}

// Resize changes the capacity and returns the keys that no longer fit.
func (l *Ledger[K]) Resize(capacity int) []K {
	l.order.Resize(capacity)
	return l.drain()
}

func (l *Ledger[K]) Len() int {
	return l.order.Len()
}

func (l *Ledger[K]) drain() []K {
	if len(l.evicted) == 0 {
		return nil
	}
	out := l.evicted
	l.evicted = nil
	return out
}
