// Package intern maps structured values to small, copyable IDs.
//
// Interning the same value twice yields the same ID while the value is live.
// Each Intern call takes a reference; Release drops one. When the last
// reference is released the slot is recycled and every ID that pointed at it
// goes stale: Lookup on a stale ID fails with ErrStaleID instead of silently
// returning the value that reused the slot.
package intern

import (
	"fmt"
	"sync"

	"go.trai.ch/zerr"
)

var ErrStaleID = zerr.New("stale or unknown interned id")

// ID identifies an interned value. The zero ID is never issued.
type ID struct {
	index      uint32
	generation uint32
}

func (id ID) IsZero() bool {
	return id.generation == 0
}

func (id ID) String() string {
	return fmt.Sprintf("intern#%d.%d", id.index, id.generation)
}

type slot[T comparable] struct {
	value      T
	refs       int
	generation uint32
}

type Interner[T comparable] struct {
	mu    sync.RWMutex
	ids   map[T]uint32
	slots []slot[T]
	free  []uint32
}

func New[T comparable]() *Interner[T] {
	return &Interner[T]{
		ids: make(map[T]uint32),
	}
}

// Intern returns the ID for v, allocating one on first sight.
func (in *Interner[T]) Intern(v T) ID {
	in.mu.Lock()
	defer in.mu.Unlock()

	if idx, ok := in.ids[v]; ok {
		s := &in.slots[idx]
		s.refs++
		return ID{index: idx, generation: s.generation}
	}

	var idx uint32
	if n := len(in.free); n > 0 {
		idx = in.free[n-1]
		in.free = in.free[:n-1]
	} else {
		idx = uint32(len(in.slots))
		in.slots = append(in.slots, slot[T]{})
	}
	s := &in.slots[idx]
	s.value = v
	s.refs = 1
	s.generation++
	if s.generation == 0 {
		// zero is reserved for the zero ID
		s.generation = 1
	}
	in.ids[v] = idx
	return ID{index: idx, generation: s.generation}
}

// Lookup returns the value behind id.
func (in *Interner[T]) Lookup(id ID) (T, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()

	s, err := in.slotOf(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// MustLookup is Lookup for callers holding a reference they know is live.
func (in *Interner[T]) MustLookup(id ID) T {
	v, err := in.Lookup(id)
	if err != nil {
		panic(err)
	}
	return v
}

// Release drops one reference taken by Intern.
func (in *Interner[T]) Release(id ID) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	s, err := in.slotOf(id)
	if err != nil {
		return err
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(in.ids, s.value)
	var zero T
	s.value = zero
	in.free = append(in.free, id.index)
	return nil
}

// Len reports the number of live values.
func (in *Interner[T]) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.ids)
}

func (in *Interner[T]) slotOf(id ID) (*slot[T], error) {
	if id.IsZero() || int(id.index) >= len(in.slots) {
		return nil, zerr.With(zerr.Wrap(ErrStaleID, "lookup failed"), "id", id.String())
	}
	s := &in.slots[id.index]
	if s.generation != id.generation || s.refs == 0 {
		return nil, zerr.With(zerr.Wrap(ErrStaleID, "slot was recycled"), "id", id.String())
	}
	return s, nil
}
