package query

import (
	"github.com/rickb777/date/v2/timespan"
)

type EventKind int

const (
	// EventHit: the memo was already verified at the current revision.
	EventHit EventKind = iota
	// EventVerified: every dependency was unchanged, the memo was reused without running the function.
	EventVerified
	// EventExecuted: the function body ran.
	EventExecuted
	// EventEvicted: the LRU policy dropped a memoized value.
	EventEvicted
	// EventCycle: a query required its own result.
	EventCycle
	// EventInputSet: an input cell was written and the clock advanced.
	EventInputSet
)

func (k EventKind) String() string {
	switch k {
	case EventHit:
		return "hit"
	case EventVerified:
		return "verified"
	case EventExecuted:
		return "executed"
	case EventEvicted:
		return "evicted"
	case EventCycle:
		return "cycle"
	case EventInputSet:
		return "input_set"
	default:
		return "unknown"
	}
}

// Event describes one observable step of the engine.
// Span is only set for EventExecuted and covers the function body.
// Backdated is set when a re-execution produced a value equal to the old one.
type Event struct {
	Kind      EventKind
	Function  string
	Key       any
	Revision  Revision
	Span      timespan.TimeSpan
	Backdated bool
}

// Observer receives engine events synchronously, on the goroutine that caused them.
// Implementations must not call back into the database.
//
//go:generate mockgen -source=event.go -destination=mocks/mock_observer.go -package=mocks
type Observer interface {
	OnEvent(event Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(event Event) {
	f(event)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (os Observers) OnEvent(event Event) {
	for _, o := range os {
		o.OnEvent(event)
	}
}

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}
