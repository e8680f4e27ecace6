package scenario

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/on-the-ground/query_ive_go/query"
	"github.com/on-the-ground/query_ive_go/query/intern"
)

const DefaultPotatoLRU = 32

// HotPotato is an expensive value whose live instances are counted.
type HotPotato struct {
	ID    uint32
	Label string
}

// Potatoes builds hot potatoes from inputs and from interned IDs, with and
// without an LRU bound. Live counts every potato the garbage collector has not
// reclaimed yet, so after a Collect it is the number still referenced by the
// memo tables or by callers.
type Potatoes struct {
	DB     *query.Database
	Fields *intern.Interner[uint32]

	FromInput         *query.Tracked[query.Input[uint32], *HotPotato]
	FromInputNoLRU    *query.Tracked[query.Input[uint32], *HotPotato]
	FromInterned      *query.Tracked[intern.ID, *HotPotato]
	FromInternedNoLRU *query.Tracked[intern.ID, *HotPotato]

	live atomic.Int64
}

func NewPotatoes(capacity int, opts ...query.Option) *Potatoes {
	p := &Potatoes{Fields: intern.New[uint32]()}
	p.DB = query.New(opts...)

	fromInput := func(rt *query.Runtime, in query.Input[uint32]) (*HotPotato, error) {
		return p.bake(in.Get(rt)), nil
	}
	fromInterned := func(_ *query.Runtime, id intern.ID) (*HotPotato, error) {
		field, err := p.Fields.Lookup(id)
		if err != nil {
			return nil, err
		}
		return p.bake(field), nil
	}

	p.FromInput = query.NewTracked(p.DB, "get_hot_potato", fromInput, query.WithLRU(capacity))
	p.FromInputNoLRU = query.NewTracked(p.DB, "get_hot_potato_no_lru", fromInput)
	p.FromInterned = query.NewTracked(p.DB, "get_hot_potato_interned", fromInterned, query.WithLRU(capacity))
	p.FromInternedNoLRU = query.NewTracked(p.DB, "get_hot_potato_interned_no_lru", fromInterned)
	return p
}

func (p *Potatoes) bake(id uint32) *HotPotato {
	potato := &HotPotato{ID: id, Label: fmt.Sprintf("potato-%d", id)}
	p.live.Add(1)
	runtime.AddCleanup(potato, func(live *atomic.Int64) {
		live.Add(-1)
	}, &p.live)
	return potato
}

// Live reports how many potatoes have not been reclaimed yet.
func (p *Potatoes) Live() int {
	return int(p.live.Load())
}

// Collect runs the garbage collector until Live stops moving and returns it.
func (p *Potatoes) Collect() int {
	last := -1
	for settled := 0; settled < 3; {
		runtime.GC()
		time.Sleep(2 * time.Millisecond)
		if n := p.Live(); n == last {
			settled++
		} else {
			last, settled = n, 0
		}
	}
	return last
}

// LoadFromInputs creates one input per id in [from, to) and reads its potato.
func (p *Potatoes) LoadFromInputs(fn *query.Tracked[query.Input[uint32], *HotPotato], from, to uint32) ([]query.Input[uint32], error) {
	inputs := make([]query.Input[uint32], 0, to-from)
	for i := from; i < to; i++ {
		in := query.NewInput(p.DB, i)
		potato, err := fn.Get(p.DB, in)
		if err != nil {
			return nil, err
		}
		if potato.ID != i {
			return nil, errWrongPotato(i, potato.ID)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// LoadFromInterned interns every id in [from, to) and reads its potato.
// The interned references stay held.
func (p *Potatoes) LoadFromInterned(fn *query.Tracked[intern.ID, *HotPotato], from, to uint32) ([]intern.ID, error) {
	ids := make([]intern.ID, 0, to-from)
	for i := from; i < to; i++ {
		id := p.Fields.Intern(i)
		potato, err := fn.Get(p.DB, id)
		if err != nil {
			return nil, err
		}
		if potato.ID != i {
			return nil, errWrongPotato(i, potato.ID)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
