package query

// Equatable lets a value type define its own equality for backdating.
type Equatable[T any] interface {
	Equal(other T) bool
}

// defaultEqual uses Equatable when V implements it and == otherwise.
// Values that cannot be compared with == are never considered equal, so
// every re-execution of such a function counts as a change.
func defaultEqual[V any]() func(a, b V) bool {
	return func(a, b V) (eq bool) {
		if e, ok := any(a).(Equatable[V]); ok {
			return e.Equal(b)
		}
		defer func() {
			if recover() != nil {
				eq = false
			}
		}()
		return any(a) == any(b)
	}
}
