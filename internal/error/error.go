// Package poolerr carries the failure codes handed back by descriptor pool
// operations.
package poolerr

import "fmt"

// Kind classifies a pool failure.
type Kind uint8

const (
	// OpenFailure means the OS open (or the seek right after it) failed.
	OpenFailure Kind = iota + 1
	// StaleHandle means a handle was used after its pool destroyed it.
	StaleHandle
	// NotFound means materialize ran for a handle its pool does not track.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case OpenFailure:
		return "open failure"
	case StaleHandle:
		return "stale handle"
	case NotFound:
		return "not found"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

type Error struct {
	Kind    Kind
	Inner   error
	Message string
	Misc    map[string]any
}

func Wrap(kind Kind, err error, message string, misc map[string]any) *Error {
	return &Error{
		Kind:    kind,
		Inner:   err,
		Message: message,
		Misc:    misc,
	}
}

func New(kind Kind, message string) *Error {
	return Wrap(kind, nil, message, nil)
}

func (e *Error) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Inner)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches both another *Error of the same kind and a bare Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return t != nil && e.Kind == t.Kind
	}
	return false
}

// KindOf returns the kind of err, or 0 when err is not a pool error.
func KindOf(err error) Kind {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
