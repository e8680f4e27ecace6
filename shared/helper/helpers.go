package helper

import (
	"fmt"

	"go.trai.ch/zerr"
)

var ErrUnexpectedType = zerr.New("unexpected type")

// GetTypedValueOf safely asserts the result of a getter function to the expected type T.
// Returns an error if the getter fails or the type assertion fails.
func GetTypedValueOf[T any](getFn func() (any, error)) (T, error) {
	var zero T

	res, err := getFn()
	if err != nil {
		return zero, err
	}

	val, ok := res.(T)
	if !ok {
		err := zerr.With(zerr.Wrap(ErrUnexpectedType, "type assertion failed"), "got", fmt.Sprintf("%T", res))
		return zero, zerr.With(err, "want", fmt.Sprintf("%T", zero))
	}

	return val, nil
}

// MustGetTypedValue is the panic-on-failure variant of GetTypedValueOf.
// Use when failure should be fatal (e.g., when the value is known to exist).
func MustGetTypedValue[T any](getFn func() (any, error)) T {
	res, err := GetTypedValueOf[T](getFn)
	if err != nil {
		panic(err)
	}
	return res
}
