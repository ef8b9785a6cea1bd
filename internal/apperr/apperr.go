// Package apperr classifies failures so the HTTP layer can map them to
// status codes without matching on message strings.
package apperr

import "errors"

// Kind is the failure category of an Error.
type Kind int

const (
	// KindInternal is the default for unclassified failures.
	KindInternal Kind = iota
	// KindInput marks malformed client input.
	KindInput
	// KindNotFound marks a missing session, candidate, or universe.
	KindNotFound
	// KindPrecondition marks a step-ordering violation.
	KindPrecondition
	// KindUpstream marks an HTTP failure from a scrape or provider fetch.
	KindUpstream
	// KindStorage marks a persistence failure that must surface (session
	// saves). Cache read failures are swallowed and never carry this kind.
	KindStorage
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindNotFound:
		return "not_found"
	case KindPrecondition:
		return "precondition"
	case KindUpstream:
		return "upstream"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is a classified error. Msg is the client-facing message; Err is the
// underlying cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a client-facing message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error. The message defaults to the wrapped
// error's text when empty.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf walks the error chain and returns the kind of the outermost
// classified error, or KindInternal when none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
