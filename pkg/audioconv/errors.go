package audioconv

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned for a format pair the converter has no route for.
	ErrUnsupported = errors.New("audioconv: unsupported conversion")

	// ErrCorrupt is returned when the input cannot be decoded as its declared container.
	ErrCorrupt = errors.New("audioconv: unreadable audio")

	// ErrEncode is returned when the target container could not be produced.
	ErrEncode = errors.New("audioconv: encode failed")
)

// Error describes a failed conversion.
type Error struct {
	Op   string // decode, encode or convert
	From Format
	To   Format
	Kind error // ErrUnsupported, ErrCorrupt or ErrEncode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s %s -> %s", e.Kind, e.Op, e.From, e.To)
	}
	return fmt.Sprintf("%v: %s %s -> %s: %v", e.Kind, e.Op, e.From, e.To, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
