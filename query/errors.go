package query

import (
	"fmt"
	"strings"

	"github.com/on-the-ground/query_ive_go/query/intern"
	"go.trai.ch/zerr"
)

var (
	// ErrCycle is returned when a query (transitively) requires its own result.
	ErrCycle = zerr.New("cyclic query dependency")

	// ErrReentrantWrite is the panic value of an input write issued while a
	// read is executing against the same database.
	ErrReentrantWrite = zerr.New("input written while a query is executing")

	ErrUnknownFunction   = zerr.New("unknown tracked function")
	ErrDuplicateFunction = zerr.New("tracked function already registered")
	ErrKeyType           = zerr.New("key type does not match tracked function")
	ErrForeignHandle     = zerr.New("handle belongs to another database")

	ErrStaleID = intern.ErrStaleID
)

func cycleError(function string, key any, path []frameRef) error {
	steps := make([]string, 0, len(path)+1)
	for _, f := range path {
		steps = append(steps, f.String())
	}
	here := frameRef{function: function, key: key}
	steps = append(steps, here.String())

	err := zerr.Wrap(ErrCycle, "query re-entered before it finished")
	err = zerr.With(err, "query", here.String())
	return zerr.With(err, "path", strings.Join(steps, " -> "))
}

func keyTypeError(function string, key any) error {
	err := zerr.Wrap(ErrKeyType, "invoke rejected key")
	err = zerr.With(err, "function", function)
	return zerr.With(err, "key_type", fmt.Sprintf("%T", key))
}

func foreignHandleError(what string) error {
	return zerr.With(zerr.Wrap(ErrForeignHandle, "handle rejected"), "handle", what)
}
