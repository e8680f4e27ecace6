package query

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/on-the-ground/query_ive_go/shared/helper"
	"go.trai.ch/zerr"
	"go.uber.org/zap"
)

// FunctionID identifies a tracked function inside a database. It is derived
// from the function's registered name.
type FunctionID uint64

func functionID(name string) FunctionID {
	return FunctionID(xxhash.Sum64String(name))
}

// function is the type-erased view of a Tracked the registry dispatches through.
type function interface {
	Name() string
	ID() FunctionID
	Len() int
	SetLRUCapacity(capacity int)
	invoke(rt *Runtime, key any) (any, error)
}

// Database owns the revision clock, the input cells and every tracked
// function registered against it.
//
// A Database is read by one goroutine at a time. A read issued through the
// Database while another read on it is executing, typically from inside a
// compute function, joins that read's Runtime. Goroutines that read
// concurrently each take a Snapshot or a Fork of one.
//
// An input write waits for open snapshots to close and panics with
// ErrReentrantWrite while any read, direct or through a snapshot, is still
// executing.
type Database struct {
	id       uuid.UUID
	logger   *zap.Logger
	observer Observer
	clock    *clock
	inputs   *inputStore

	rw      sync.RWMutex
	active  atomic.Int64
	current atomic.Pointer[Runtime]

	regMu     sync.RWMutex
	functions map[FunctionID]function

	waitMu    sync.Mutex
	blockedOn map[*Runtime]*Runtime
}

func New(opts ...Option) *Database {
	db := &Database{
		id:        uuid.New(),
		logger:    zap.NewNop(),
		observer:  nopObserver{},
		clock:     newClock(),
		inputs:    &inputStore{},
		functions: make(map[FunctionID]function),
		blockedOn: make(map[*Runtime]*Runtime),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = db.logger.With(zap.Stringer("db", db.id))
	return db
}

func (db *Database) ID() uuid.UUID {
	return db.id
}

// Revision returns the current revision.
func (db *Database) Revision() Revision {
	return db.clock.now()
}

func (db *Database) runtime() (*Runtime, func()) {
	if rt := db.current.Load(); rt != nil {
		return rt, func() {}
	}
	db.active.Add(1)
	db.rw.RLock()
	rt := newRuntime(db)
	db.current.Store(rt)
	return rt, func() {
		db.current.Store(nil)
		db.rw.RUnlock()
		db.active.Add(-1)
	}
}

// write runs fn under the write lock after advancing the clock.
func (db *Database) write(fn func(rev Revision)) {
	if db.active.Load() > 0 {
		panic(zerr.With(zerr.Wrap(ErrReentrantWrite, "write rejected"), "db", db.id.String()))
	}
	db.rw.Lock()
	defer db.rw.Unlock()
	fn(db.clock.tick())
}

// Snapshot opens a read handle pinned to the current revision. Writers block
// until every snapshot is closed, so a goroutine holding one must never write.
// It must not read through the Database either: once a writer is queued, the
// direct read waits behind it. Read through the snapshot instead.
func (db *Database) Snapshot() *Snapshot {
	db.rw.RLock()
	p := &pin{db: db, revision: db.clock.now()}
	p.refs.Store(1)
	return &Snapshot{pin: p}
}

func (db *Database) register(f function) {
	db.regMu.Lock()
	defer db.regMu.Unlock()

	if existing, ok := db.functions[f.ID()]; ok {
		err := zerr.Wrap(ErrDuplicateFunction, "register failed")
		err = zerr.With(err, "function", f.Name())
		panic(zerr.With(err, "registered", existing.Name()))
	}
	db.functions[f.ID()] = f
	db.logger.Debug("registered tracked function",
		zap.String("function", f.Name()),
		zap.Uint64("function_id", uint64(f.ID())),
	)
}

func (db *Database) lookup(name string) (function, error) {
	db.regMu.RLock()
	defer db.regMu.RUnlock()

	f, ok := db.functions[functionID(name)]
	if !ok || f.Name() != name {
		return nil, zerr.With(zerr.Wrap(ErrUnknownFunction, "lookup failed"), "function", name)
	}
	return f, nil
}

// Functions lists the registered function names in sorted order.
func (db *Database) Functions() []string {
	db.regMu.RLock()
	defer db.regMu.RUnlock()

	names := make([]string, 0, len(db.functions))
	for _, f := range db.functions {
		names = append(names, f.Name())
	}
	slices.Sort(names)
	return names
}

// Stats reports the number of live memoized values per function.
func (db *Database) Stats() map[string]int {
	db.regMu.RLock()
	fns := slices.Collect(maps.Values(db.functions))
	db.regMu.RUnlock()

	stats := make(map[string]int, len(fns))
	for _, f := range fns {
		stats[f.Name()] = f.Len()
	}
	return stats
}

// SetLRUCapacity rebounds the named function's memo table. Zero removes the bound.
func (db *Database) SetLRUCapacity(name string, capacity int) error {
	f, err := db.lookup(name)
	if err != nil {
		return err
	}
	f.SetLRUCapacity(capacity)
	return nil
}

// Invoke reads the named function at key through the database.
func (db *Database) Invoke(name string, key any) (any, error) {
	return Invoke(db, name, key)
}

// Invoke reads a tracked function by name with a type-erased key.
func Invoke(r Reader, name string, key any) (any, error) {
	rt, done := r.runtime()
	defer done()

	f, err := rt.db.lookup(name)
	if err != nil {
		return nil, err
	}
	return f.invoke(rt, key)
}

// InvokeAs is Invoke with the result asserted to V.
func InvokeAs[V any](r Reader, name string, key any) (V, error) {
	return helper.GetTypedValueOf[V](func() (any, error) {
		return Invoke(r, name, key)
	})
}

// MustInvokeAs is InvokeAs that panics on failure.
func MustInvokeAs[V any](r Reader, name string, key any) V {
	return helper.MustGetTypedValue[V](func() (any, error) {
		return Invoke(r, name, key)
	})
}

func (db *Database) emit(e Event) {
	db.observer.OnEvent(e)
}

// pin holds the database read lock for a snapshot and all of its forks.
type pin struct {
	db       *Database
	revision Revision
	refs     atomic.Int32
}

// Snapshot is a read handle fixed at the revision it was opened at.
//
// Like the Database, a Snapshot is read by one goroutine at a time, and reads
// nested inside one of its computations join the running Runtime. Fork hands
// another goroutine its own handle at the same revision.
type Snapshot struct {
	*pin
	current atomic.Pointer[Runtime]
	once    sync.Once
}

func (s *Snapshot) runtime() (*Runtime, func()) {
	if rt := s.current.Load(); rt != nil {
		return rt, func() {}
	}
	s.db.active.Add(1)
	rt := &Runtime{db: s.db, revision: s.revision}
	s.current.Store(rt)
	return rt, func() {
		s.current.Store(nil)
		s.db.active.Add(-1)
	}
}

func (s *Snapshot) Revision() Revision {
	return s.revision
}

func (s *Snapshot) Invoke(name string, key any) (any, error) {
	return Invoke(s, name, key)
}

// Fork returns a new handle at the same revision, for use by another
// goroutine. The database stays pinned until the snapshot and every fork are
// closed. Forking once all of them are closed panics.
func (s *Snapshot) Fork() *Snapshot {
	for {
		n := s.refs.Load()
		if n == 0 {
			panic(zerr.With(zerr.New("fork of a closed snapshot"), "db", s.db.id.String()))
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return &Snapshot{pin: s.pin}
		}
	}
}

// Close releases the snapshot. Closing twice is a no-op.
func (s *Snapshot) Close() {
	s.once.Do(func() {
		if s.refs.Add(-1) == 0 {
			s.db.rw.RUnlock()
		}
	})
}
