package vhd

import "errors"

// ErrorKind classifies a VHD engine failure per the error-handling
// design: parse failures, chain-resolution failures, and range errors
// are distinguished so callers can decide whether to retry, surface to
// a user, or treat the file as unusable.
type ErrorKind int

const (
	// KindMalformedFormat covers cookie mismatches, short reads, and
	// unrecognized disk-type integers: the file cannot be parsed at all.
	KindMalformedFormat ErrorKind = iota
	// KindParentResolution covers a differencing disk whose locator
	// chain names no file that actually exists.
	KindParentResolution
	// KindOutOfRange covers a sector index beyond the current size.
	KindOutOfRange
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedFormat:
		return "malformed format"
	case KindParentResolution:
		return "parent resolution"
	case KindOutOfRange:
		return "out of range"
	default:
		return "unknown"
	}
}

// Error is a VHD engine error tagged with its ErrorKind so callers can
// type-switch without string matching.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a *Error of the
// given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
