package query

import (
	"strconv"
	"sync/atomic"
)

// Revision is a point on the database's logical clock. It only moves forward,
// by exactly one tick per input write.
type Revision uint64

const firstRevision Revision = 1

func (r Revision) String() string {
	return "R" + strconv.FormatUint(uint64(r), 10)
}

type clock struct {
	current atomic.Uint64
}

func newClock() *clock {
	c := &clock{}
	c.current.Store(uint64(firstRevision))
	return c
}

func (c *clock) now() Revision {
	return Revision(c.current.Load())
}

func (c *clock) tick() Revision {
	return Revision(c.current.Add(1))
}
