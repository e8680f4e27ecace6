package query

import (
	"go.uber.org/zap"
)

type Option func(*Database)

func WithLogger(logger *zap.Logger) Option {
	return func(db *Database) {
		db.logger = logger
	}
}

// WithObserver adds an event observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(db *Database) {
		if existing, ok := db.observer.(Observers); ok {
			db.observer = append(existing, o)
			return
		}
		if _, ok := db.observer.(nopObserver); ok {
			db.observer = o
			return
		}
		db.observer = Observers{db.observer, o}
	}
}

type trackedConfig struct {
	lru   int
	equal any
}

type TrackedOption func(*trackedConfig)

// WithLRU bounds the number of memoized values kept for the function.
// Zero means unbounded.
func WithLRU(capacity int) TrackedOption {
	return func(c *trackedConfig) {
		c.lru = capacity
	}
}

// WithEquality sets the comparison used to decide whether a recomputed value
// is unchanged. V must match the function's value type.
func WithEquality[V any](equal func(a, b V) bool) TrackedOption {
	return func(c *trackedConfig) {
		c.equal = equal
	}
}
