// Package scenario holds the small databases the demo and the benchmarks run:
// a text input with a length query, a constant query, and a length over
// interned strings.
package scenario

import (
	"github.com/on-the-ground/query_ive_go/query"
	"github.com/on-the-ground/query_ive_go/query/intern"
)

const ConstantValue = 44

type HelloWorld struct {
	DB    *query.Database
	Input query.Input[string]
	Texts *intern.Interner[string]

	Length         *query.Tracked[query.Input[string], int]
	Constant       *query.Tracked[struct{}, int]
	InternedLength *query.Tracked[intern.ID, int]
}

func NewHelloWorld(opts ...query.Option) *HelloWorld {
	db := query.New(opts...)
	texts := intern.New[string]()

	hw := &HelloWorld{
		DB:    db,
		Input: query.NewInput(db, ""),
		Texts: texts,
	}
	hw.Length = query.NewTracked(db, "length", func(rt *query.Runtime, in query.Input[string]) (int, error) {
		return len(in.Get(rt)), nil
	})
	hw.Constant = query.NewTracked(db, "constant", func(*query.Runtime, struct{}) (int, error) {
		return ConstantValue, nil
	})
	hw.InternedLength = query.NewTracked(db, "interned_length", func(_ *query.Runtime, id intern.ID) (int, error) {
		text, err := texts.Lookup(id)
		if err != nil {
			return 0, err
		}
		return len(text), nil
	})
	return hw
}

// RunLength writes text and reads its length back.
func (hw *HelloWorld) RunLength(text string) (int, error) {
	hw.Input.Set(hw.DB, text)
	return hw.Length.Get(hw.DB, hw.Input)
}

// RunConstant advances the revision and reads the constant query, which must
// not re-execute.
func (hw *HelloWorld) RunConstant() (int, error) {
	hw.Input.Set(hw.DB, hw.Input.Get(hw.DB))
	return hw.Constant.Get(hw.DB, struct{}{})
}

// RunInternedLength interns text, reads its length and releases the reference.
func (hw *HelloWorld) RunInternedLength(text string) (int, error) {
	id := hw.Texts.Intern(text)
	defer func() {
		_ = hw.Texts.Release(id)
	}()
	return hw.InternedLength.Get(hw.DB, id)
}
