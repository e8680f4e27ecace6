package query

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InputID indexes an input cell inside its database.
type InputID uint32

type inputCell struct {
	value     any
	changedAt Revision
}

type inputStore struct {
	mu    sync.RWMutex
	cells []inputCell
}

func (s *inputStore) ingredientName() string {
	return "input"
}

func (s *inputStore) create(value any, rev Revision) InputID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells = append(s.cells, inputCell{value: value, changedAt: rev})
	return InputID(len(s.cells) - 1)
}

func (s *inputStore) set(id InputID, value any, rev Revision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[id] = inputCell{value: value, changedAt: rev}
}

func (s *inputStore) read(id InputID) inputCell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells[id]
}

func (s *inputStore) changedSince(_ *Runtime, key any, since Revision) (bool, error) {
	return s.read(key.(InputID)).changedAt > since, nil
}

// Input is a handle to a base value set from outside the engine.
// Handles are small values; copy them freely.
type Input[T any] struct {
	id InputID
	db uuid.UUID
}

// NewInput creates a cell holding initial. Creating a cell does not advance
// the clock.
func NewInput[T any](db *Database, initial T) Input[T] {
	id := db.inputs.create(initial, db.clock.now())
	return Input[T]{id: id, db: db.id}
}

func (in Input[T]) ID() InputID {
	return in.id
}

// Set replaces the cell's value and advances the revision by one.
func (in Input[T]) Set(db *Database, value T) {
	if in.db != db.id {
		panic(foreignHandleError("input"))
	}
	db.write(func(rev Revision) {
		db.inputs.set(in.id, value, rev)
		db.logger.Debug("input set",
			zap.Uint32("input", uint32(in.id)),
			zap.Stringer("revision", rev),
		)
		db.emit(Event{Kind: EventInputSet, Function: db.inputs.ingredientName(), Key: in.id, Revision: rev})
	})
}

// Get returns the cell's current value, recording the read when it happens
// inside a computation.
func (in Input[T]) Get(r Reader) T {
	rt, done := r.runtime()
	defer done()

	if in.db != rt.db.id {
		panic(foreignHandleError("input"))
	}
	cell := rt.db.inputs.read(in.id)
	rt.report(dependency{source: rt.db.inputs, key: in.id, changedAt: cell.changedAt})
	return cell.value.(T)
}
