// Package apperr defines the error kinds shared across the crawler
// runtime and the control API, per the platform's error handling policy:
// operator errors surface to the API, per-URL errors never kill a job,
// per-job errors never kill another job or the process.
package apperr

import "errors"

// Kind classifies an error for API status-code mapping and logging.
type Kind int

const (
	// KindInvalidInput marks malformed or out-of-range operator input.
	KindInvalidInput Kind = iota
	// KindNotFound marks a reference to an unknown job.
	KindNotFound
	// KindIllegalTransition marks a state machine violation (e.g. pause on a stopped job).
	KindIllegalTransition
	// KindNetworkError marks a per-URL fetch failure. Never fatal to the job.
	KindNetworkError
	// KindParseError marks a per-URL extraction failure. Never fatal to the job.
	KindParseError
	// KindPersistenceError marks a disk failure. Fatal to the owning job only.
	KindPersistenceError
	// KindFatal marks registry corruption at startup. Fatal to the process.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotFound:
		return "NotFound"
	case KindIllegalTransition:
		return "IllegalTransition"
	case KindNetworkError:
		return "NetworkError"
	case KindParseError:
		return "ParseError"
	case KindPersistenceError:
		return "PersistenceError"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind for classification.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
