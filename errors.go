package objstore

import (
	"errors"
	"fmt"
)

// Error kinds reported by the store.
//
// Every failure returned by this package wraps exactly one of the kinds below
// so that callers can branch with errors.Is. ErrObjectNotFound is an ordinary
// outcome of a lookup; every other kind indicates damaged or unsupported
// on-disk data, or a caller error (ErrInvalidPath).
var (
	// ErrTruncatedInput reports a buffer that is shorter than a decode needs.
	ErrTruncatedInput = errors.New("truncated input")

	// ErrCorruptObject reports a malformed object header, a size mismatch, a
	// failed decompression, or an invalid delta chain (cycle, bad base offset,
	// chain deeper than the configured limit).
	ErrCorruptObject = errors.New("corrupt object")

	// ErrCorruptDelta reports a delta whose opcodes address bytes outside the
	// base or the delta itself, or whose output length disagrees with the
	// declared result size.
	ErrCorruptDelta = errors.New("corrupt delta")

	// ErrUnsupportedFormat reports an index or pack version this engine does
	// not understand.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrObjectNotFound reports a hash that is absent from loose and packed
	// storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidPath reports a tree walk that reached a non-directory while
	// path segments remained.
	ErrInvalidPath = errors.New("invalid path")
)

// corruptf wraps ErrCorruptObject with a formatted message.
func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptObject, fmt.Sprintf(format, args...))
}

// notFound wraps ErrObjectNotFound with the offending hash.
func notFound(oid Hash) error { return fmt.Errorf("%w: %s", ErrObjectNotFound, oid) }
