package purefn

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/on-the-ground/query_ive_go/query"
)

type ComparableOrStringer any
type ComparableOrString any

func TableizeI1O1[I1 ComparableOrStringer, O1 any](
	pureFn func(I1) O1,
	maxTableSize uint32,
) func(I1) O1 {
	tableized := tableize(
		func(args ...ComparableOrStringer) O1 {
			return pureFn(args[0].(I1))
		},
		maxTableSize,
	)
	return func(i1 I1) O1 {
		return tableized(i1)
	}
}

func TableizeI2O1[I1, I2 ComparableOrStringer, O1 any](
	pureFn func(I1, I2) O1,
	maxTableSize uint32,
) func(I1, I2) O1 {
	tableized := tableize(
		func(args ...ComparableOrStringer) O1 {
			return pureFn(args[0].(I1), args[1].(I2))
		},
		maxTableSize,
	)
	return func(i1 I1, i2 I2) O1 {
		return tableized(i1, i2)
	}
}

func TableizeI3O1[I1, I2, I3 ComparableOrStringer, O1 any](
	pureFn func(I1, I2, I3) O1,
	maxTableSize uint32,
) func(I1, I2, I3) O1 {
	tableized := tableize(
		func(args ...ComparableOrStringer) O1 {
			return pureFn(args[0].(I1), args[1].(I2), args[2].(I3))
		},
		maxTableSize,
	)
	return func(i1 I1, i2 I2, i3 I3) O1 {
		return tableized(i1, i2, i3)
	}
}

func TableizeI4O1[I1, I2, I3, I4 ComparableOrStringer, O1 any](
	pureFn func(I1, I2, I3, I4) O1,
	maxTableSize uint32,
) func(I1, I2, I3, I4) O1 {
	tableized := tableize(
		func(args ...ComparableOrStringer) O1 {
			return pureFn(args[0].(I1), args[1].(I2), args[2].(I3), args[3].(I4))
		},
		maxTableSize,
	)
	return func(i1 I1, i2 I2, i3 I3, i4 I4) O1 {
		return tableized(i1, i2, i3, i4)
	}
}

// tableKeys holds up to four argument keys; unused slots stay nil.
type tableKeys [4]ComparableOrString

func tableKey(i ComparableOrStringer) ComparableOrString {
	if stringer, ok := i.(fmt.Stringer); ok {
		return stringer.String()
	}
	if i != nil && !reflect.ValueOf(i).Comparable() {
		panic(fmt.Sprintf("tableize: %T is neither comparable nor a fmt.Stringer", i))
	}
	return i
}

func keysOf(args []ComparableOrStringer) tableKeys {
	var keys tableKeys
	for i, arg := range args {
		keys[i] = tableKey(arg)
	}
	return keys
}

// inflight maps table keys to the arguments of the calls currently asking for
// them, so the tracked function can run the pure function on real arguments.
type inflight struct {
	mu    sync.Mutex
	calls map[tableKeys]*pendingCall
}

type pendingCall struct {
	args []ComparableOrStringer
	refs int
}

func (f *inflight) hold(keys tableKeys, args []ComparableOrStringer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.calls[keys]; ok {
		p.refs++
		return
	}
	f.calls[keys] = &pendingCall{args: args, refs: 1}
}

func (f *inflight) drop(keys tableKeys) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.calls[keys]; p != nil {
		p.refs--
		if p.refs == 0 {
			delete(f.calls, keys)
		}
	}
}

func (f *inflight) args(keys tableKeys) []ComparableOrStringer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[keys].args
}

// tableize runs pureFn as a constant tracked function on a private database.
// Constant functions never need re-verification, so the table behaves like a
// plain LRU-bounded memo of pureFn.
func tableize[O any](
	pureFn func(...ComparableOrStringer) O,
	maxTableSize uint32,
) func(...ComparableOrStringer) O {
	if maxTableSize == 0 {
		panic("tableize: maxTableSize must be greater than zero")
	}

	db := query.New()
	calls := &inflight{calls: make(map[tableKeys]*pendingCall)}
	table := query.NewTracked(db, "tableize", func(_ *query.Runtime, keys tableKeys) (O, error) {
		return pureFn(calls.args(keys)...), nil
	}, query.WithLRU(int(maxTableSize)))

	// nothing ever writes to db, so the snapshot is never closed
	snap := db.Snapshot()

	return func(args ...ComparableOrStringer) O {
		keys := keysOf(args)
		calls.hold(keys, args)
		defer calls.drop(keys)

		view := snap.Fork()
		defer view.Close()
		v, err := table.Get(view, keys)
		if err != nil {
			panic(err)
		}
		return v
	}
}
