package scenario

import (
	"go.trai.ch/zerr"
)

var ErrWrongPotato = zerr.New("query returned the wrong potato")

func errWrongPotato(want, got uint32) error {
	err := zerr.With(zerr.Wrap(ErrWrongPotato, "potato mismatch"), "want", want)
	return zerr.With(err, "got", got)
}
