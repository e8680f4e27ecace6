package query

import (
	"fmt"
)

// Reader is anything queries can be read through: a *Database, a *Snapshot
// or the *Runtime handed to a compute function.
type Reader interface {
	runtime() (*Runtime, func())
}

// ingredient is a source of values a query can depend on.
type ingredient interface {
	ingredientName() string
	// changedSince brings key up to date at rt's revision and reports whether
	// its value changed after since.
	changedSince(rt *Runtime, key any, since Revision) (bool, error)
}

type dependency struct {
	source    ingredient
	key       any
	changedAt Revision
}

type frameRef struct {
	function string
	key      any
}

func (f frameRef) String() string {
	return fmt.Sprintf("%s(%v)", f.function, f.key)
}

type frame struct {
	frameRef
	deps []dependency
}

// Runtime is one chain of query execution at a fixed revision. Compute
// functions receive it and must pass it to every nested read so the reads are
// recorded as dependencies. It offers no way to write inputs.
//
// A Runtime belongs to the goroutine running the chain; do not share it.
type Runtime struct {
	db       *Database
	revision Revision
	stack    []*frame
}

func newRuntime(db *Database) *Runtime {
	return &Runtime{
		db:       db,
		revision: db.clock.now(),
	}
}

func (rt *Runtime) runtime() (*Runtime, func()) {
	return rt, func() {}
}

// Revision is the revision every read in this chain observes.
func (rt *Runtime) Revision() Revision {
	return rt.revision
}

func (rt *Runtime) push(function string, key any) *frame {
	f := &frame{frameRef: frameRef{function: function, key: key}}
	rt.stack = append(rt.stack, f)
	return f
}

// pop removes f and anything pushed above it.
func (rt *Runtime) pop(f *frame) {
	for i := len(rt.stack) - 1; i >= 0; i-- {
		if rt.stack[i] == f {
			rt.stack = rt.stack[:i]
			return
		}
	}
}

func (rt *Runtime) report(dep dependency) {
	if n := len(rt.stack); n > 0 {
		top := rt.stack[n-1]
		top.deps = append(top.deps, dep)
	}
}

func (rt *Runtime) path() []frameRef {
	refs := make([]frameRef, len(rt.stack))
	for i, f := range rt.stack {
		refs[i] = f.frameRef
	}
	return refs
}

type claim struct {
	owner *Runtime
	done  chan struct{}
}

func newClaim(owner *Runtime) *claim {
	return &claim{owner: owner, done: make(chan struct{})}
}

// await blocks until c is released. It fails with ErrCycle instead of waiting
// when the wait could never end: the claim is ours, or its owner is itself
// (transitively) waiting on us.
func (rt *Runtime) await(c *claim, function string, key any) error {
	if c.owner == rt {
		return rt.cycle(function, key)
	}

	db := rt.db
	db.waitMu.Lock()
	for o := c.owner; o != nil; o = db.blockedOn[o] {
		if o == rt {
			db.waitMu.Unlock()
			return rt.cycle(function, key)
		}
	}
	db.blockedOn[rt] = c.owner
	db.waitMu.Unlock()

	<-c.done

	db.waitMu.Lock()
	delete(db.blockedOn, rt)
	db.waitMu.Unlock()
	return nil
}

func (rt *Runtime) cycle(function string, key any) error {
	err := cycleError(function, key, rt.path())
	rt.db.emit(Event{Kind: EventCycle, Function: function, Key: key, Revision: rt.revision})
	return err
}
