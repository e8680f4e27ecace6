package query_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/on-the-ground/query_ive_go/query"
	"github.com/on-the-ground/query_ive_go/query/intern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unit = struct{}

type recorder struct {
	mu     sync.Mutex
	events []query.Event
}

func (r *recorder) OnEvent(e query.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds(function string) []query.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []query.EventKind
	for _, e := range r.events {
		if e.Function == function {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func TestReadIsMemoized(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "hello")

	count := 0
	length := query.NewTracked(db, "length", func(rt *query.Runtime, _ unit) (int, error) {
		count++
		return len(text.Get(rt)), nil
	})

	n, err := length.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = length.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 5, n) // cached
	assert.Equal(t, 1, count)
}

func TestInputChangeInvalidates(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "hello")

	count := 0
	length := query.NewTracked(db, "length", func(rt *query.Runtime, _ unit) (int, error) {
		count++
		return len(text.Get(rt)), nil
	})

	_, err := length.Get(db, unit{})
	require.NoError(t, err)

	text.Set(db, "hello, world")
	n, err := length.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, 2, count)
}

func TestRevisionAdvancesOncePerWrite(t *testing.T) {
	db := query.New()
	a := query.NewInput(db, 1)
	b := query.NewInput(db, "b")

	start := db.Revision()
	a.Set(db, 2)
	b.Set(db, "c")
	a.Set(db, 2)

	assert.Equal(t, start+3, db.Revision())
	assert.Equal(t, 2, a.Get(db))
	assert.Equal(t, "c", b.Get(db))
}

func TestEarlyCutoff(t *testing.T) {
	rec := &recorder{}
	db := query.New(query.WithObserver(rec))
	text := query.NewInput(db, "aaaa")

	lengthRuns, parityRuns := 0, 0
	length := query.NewTracked(db, "length", func(rt *query.Runtime, _ unit) (int, error) {
		lengthRuns++
		return len(text.Get(rt)), nil
	})
	parity := query.NewTracked(db, "parity", func(rt *query.Runtime, _ unit) (string, error) {
		parityRuns++
		n, err := length.Get(rt, unit{})
		if err != nil {
			return "", err
		}
		if n%2 == 0 {
			return "even", nil
		}
		return "odd", nil
	})

	p, err := parity.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, "even", p)

	text.Set(db, "bbbb") // same length
	rec.reset()

	p, err = parity.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, "even", p)
	assert.Equal(t, 2, lengthRuns)
	assert.Equal(t, 1, parityRuns)
	assert.Equal(t, []query.EventKind{query.EventExecuted}, rec.kinds("length"))
	assert.Equal(t, []query.EventKind{query.EventVerified}, rec.kinds("parity"))

	text.Set(db, "ccccc")
	p, err = parity.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, "odd", p)
	assert.Equal(t, 2, parityRuns)
}

func TestBackdatedExecutionIsReported(t *testing.T) {
	rec := &recorder{}
	db := query.New(query.WithObserver(rec))
	text := query.NewInput(db, "abc")
	length := query.NewTracked(db, "length", func(rt *query.Runtime, _ unit) (int, error) {
		return len(text.Get(rt)), nil
	})

	_, err := length.Get(db, unit{})
	require.NoError(t, err)
	text.Set(db, "xyz")
	rec.reset()
	_, err = length.Get(db, unit{})
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, query.EventExecuted, rec.events[0].Kind)
	assert.True(t, rec.events[0].Backdated)
	assert.False(t, rec.events[0].Span.Start().IsZero())
}

func TestUnrelatedWriteOnlyVerifies(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "hello")
	other := query.NewInput(db, 0)

	count := 0
	length := query.NewTracked(db, "length", func(rt *query.Runtime, _ unit) (int, error) {
		count++
		return len(text.Get(rt)), nil
	})

	_, err := length.Get(db, unit{})
	require.NoError(t, err)
	other.Set(db, 1)
	other.Set(db, 2)
	_, err = length.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConstantFunctionIsNeverRecomputed(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "")

	count := 0
	constant := query.NewTracked(db, "constant", func(*query.Runtime, unit) (int, error) {
		count++
		return 44, nil
	})

	for i := range 10 {
		text.Set(db, fmt.Sprint(i))
		v, err := constant.Get(db, unit{})
		require.NoError(t, err)
		assert.Equal(t, 44, v)
	}
	assert.Equal(t, 1, count)
}

func TestKeyedFunction(t *testing.T) {
	db := query.New()
	words := query.NewInput(db, []string{"a", "bb", "ccc"})

	count := 0
	wordLen := query.NewTracked(db, "word_len", func(rt *query.Runtime, i int) (int, error) {
		count++
		ws := words.Get(rt)
		if i >= len(ws) {
			return 0, errors.New("out of range")
		}
		return len(ws[i]), nil
	})

	for i, want := range []int{1, 2, 3} {
		got, err := wordLen.Get(db, i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := wordLen.Get(db, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, wordLen.Len())
}

func TestErrorsAreNotMemoized(t *testing.T) {
	db := query.New()
	fail := query.NewInput(db, true)

	count := 0
	flaky := query.NewTracked(db, "flaky", func(rt *query.Runtime, _ unit) (string, error) {
		count++
		if fail.Get(rt) {
			return "", errors.New("boom")
		}
		return "ok", nil
	})

	_, err := flaky.Get(db, unit{})
	require.Error(t, err)
	_, err = flaky.Get(db, unit{})
	require.Error(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, flaky.Len())

	fail.Set(db, false)
	v, err := flaky.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDependentOfFailedReadRecovers(t *testing.T) {
	db := query.New()
	fail := query.NewInput(db, false)

	inner := query.NewTracked(db, "inner", func(rt *query.Runtime, _ unit) (int, error) {
		if fail.Get(rt) {
			return 0, errors.New("boom")
		}
		return 1, nil
	})
	outer := query.NewTracked(db, "outer", func(rt *query.Runtime, _ unit) (int, error) {
		v, err := inner.Get(rt, unit{})
		if err != nil {
			return -1, nil
		}
		return v + 1, nil
	})

	v, err := outer.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	fail.Set(db, true)
	v, err = outer.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, -1, v)

	fail.Set(db, false)
	v, err = outer.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSelfCycleIsDetected(t *testing.T) {
	rec := &recorder{}
	db := query.New(query.WithObserver(rec))

	var loop *query.Tracked[int, int]
	loop = query.NewTracked(db, "loop", func(rt *query.Runtime, n int) (int, error) {
		return loop.Get(rt, n)
	})

	_, err := loop.Get(db, 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, query.ErrCycle))
	assert.Contains(t, err.Error(), "cyclic query dependency")
	assert.Contains(t, rec.kinds("loop"), query.EventCycle)
	assert.Equal(t, 0, loop.Len())
}

func TestMutualCycleIsDetectedAndNotCached(t *testing.T) {
	db := query.New()
	linked := query.NewInput(db, true)

	var a, b *query.Tracked[unit, int]
	a = query.NewTracked(db, "a", func(rt *query.Runtime, _ unit) (int, error) {
		if !linked.Get(rt) {
			return 1, nil
		}
		v, err := b.Get(rt, unit{})
		return v + 1, err
	})
	b = query.NewTracked(db, "b", func(rt *query.Runtime, _ unit) (int, error) {
		v, err := a.Get(rt, unit{})
		return v + 1, err
	})

	_, err := a.Get(db, unit{})
	require.ErrorIs(t, err, query.ErrCycle)
	_, err = b.Get(db, unit{})
	require.ErrorIs(t, err, query.ErrCycle)

	linked.Set(db, false)
	v, err := b.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSelfCycleThroughCapturedHandles(t *testing.T) {
	db := query.New()

	var viaDB *query.Tracked[int, int]
	viaDB = query.NewTracked(db, "via_db", func(_ *query.Runtime, n int) (int, error) {
		return viaDB.Get(db, n)
	})
	_, err := viaDB.Get(db, 1)
	assert.ErrorIs(t, err, query.ErrCycle)
	assert.Equal(t, 0, viaDB.Len())

	snap := db.Snapshot()
	defer snap.Close()
	var viaSnap *query.Tracked[int, int]
	viaSnap = query.NewTracked(db, "via_snapshot", func(_ *query.Runtime, n int) (int, error) {
		return viaSnap.Get(snap, n)
	})
	_, err = viaSnap.Get(snap, 1)
	assert.ErrorIs(t, err, query.ErrCycle)
	_, err = query.Invoke(snap, "via_snapshot", 2)
	assert.ErrorIs(t, err, query.ErrCycle)
}

func TestNestedReadThroughDatabaseIsTracked(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "abc")

	count := 0
	length := query.NewTracked(db, "length", func(_ *query.Runtime, _ unit) (int, error) {
		count++
		return len(text.Get(db)), nil
	})
	shout := query.NewTracked(db, "shout", func(_ *query.Runtime, _ unit) (int, error) {
		n, err := length.Get(db, unit{})
		return n * 10, err
	})

	v, err := shout.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 30, v)

	text.Set(db, "abcdef")
	v, err = shout.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, 60, v)
	assert.Equal(t, 2, count)
}

func TestCustomEquality(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "Hello")

	upperRuns := 0
	lower := query.NewTracked(db, "lower", func(rt *query.Runtime, _ unit) (string, error) {
		return text.Get(rt), nil
	}, query.WithEquality(strings.EqualFold))
	upper := query.NewTracked(db, "upper", func(rt *query.Runtime, _ unit) (string, error) {
		upperRuns++
		s, err := lower.Get(rt, unit{})
		return strings.ToUpper(s), err
	})

	_, err := upper.Get(db, unit{})
	require.NoError(t, err)
	text.Set(db, "HELLO")
	v, err := upper.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", v)
	assert.Equal(t, 1, upperRuns)
}

func TestEqualityOptionTypeMismatchPanics(t *testing.T) {
	db := query.New()
	assert.Panics(t, func() {
		query.NewTracked(db, "bad", func(*query.Runtime, unit) (int, error) {
			return 0, nil
		}, query.WithEquality(strings.EqualFold))
	})
}

func TestNonComparableValuesAlwaysCountAsChanged(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "a b")

	joinRuns := 0
	split := query.NewTracked(db, "split", func(rt *query.Runtime, _ unit) ([]string, error) {
		return strings.Fields(text.Get(rt)), nil
	})
	join := query.NewTracked(db, "join", func(rt *query.Runtime, _ unit) (string, error) {
		joinRuns++
		parts, err := split.Get(rt, unit{})
		return strings.Join(parts, ","), err
	})

	_, err := join.Get(db, unit{})
	require.NoError(t, err)
	text.Set(db, "a  b")
	v, err := join.Get(db, unit{})
	require.NoError(t, err)
	assert.Equal(t, "a,b", v)
	assert.Equal(t, 2, joinRuns)
}

func TestInternedKeys(t *testing.T) {
	db := query.New()
	names := intern.New[string]()

	count := 0
	length := query.NewTracked(db, "interned_length", func(_ *query.Runtime, id intern.ID) (int, error) {
		count++
		s, err := names.Lookup(id)
		return len(s), err
	})

	a := names.Intern("hello")
	b := names.Intern("hello")
	require.Equal(t, a, b)

	n, err := length.Get(db, a)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = length.Get(db, b)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, names.Release(a))
	require.NoError(t, names.Release(b))
	stale := query.NewTracked(db, "stale_length", func(_ *query.Runtime, id intern.ID) (int, error) {
		s, err := names.Lookup(id)
		return len(s), err
	})
	_, err = stale.Get(db, a)
	assert.ErrorIs(t, err, query.ErrStaleID)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	db := query.New()
	fn := func(*query.Runtime, unit) (int, error) { return 0, nil }
	query.NewTracked(db, "dup", fn)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, query.ErrDuplicateFunction)
	}()
	query.NewTracked(db, "dup", fn)
}

func TestWriteDuringReadPanics(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "a")

	sneaky := query.NewTracked(db, "sneaky", func(rt *query.Runtime, _ unit) (int, error) {
		text.Set(db, "b")
		return len(text.Get(rt)), nil
	})

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			assert.ErrorIs(t, err, query.ErrReentrantWrite)
		}()
		_, _ = sneaky.Get(db, unit{})
	}()

	// the failed read released its locks and claims
	text.Set(db, "ccc")
	assert.Equal(t, "ccc", text.Get(db))
	assert.Equal(t, 0, sneaky.Len())
}

func TestWriteDuringSnapshotReadPanics(t *testing.T) {
	db := query.New()
	text := query.NewInput(db, "a")

	sneaky := query.NewTracked(db, "sneaky", func(rt *query.Runtime, _ unit) (int, error) {
		text.Set(db, "b")
		return len(text.Get(rt)), nil
	})

	snap := db.Snapshot()
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			assert.ErrorIs(t, err, query.ErrReentrantWrite)
		}()
		_, _ = sneaky.Get(snap, unit{})
	}()
	snap.Close()

	text.Set(db, "ccc")
	assert.Equal(t, "ccc", text.Get(db))
	assert.Equal(t, query.Revision(2), db.Revision())
}

func TestForeignHandles(t *testing.T) {
	db1 := query.New()
	db2 := query.New()

	in := query.NewInput(db1, 1)
	fn := query.NewTracked(db1, "fn", func(*query.Runtime, unit) (int, error) { return 1, nil })

	assert.Panics(t, func() { in.Set(db2, 2) })
	assert.Panics(t, func() { in.Get(db2) })

	_, err := fn.Get(db2, unit{})
	assert.ErrorIs(t, err, query.ErrForeignHandle)
}
