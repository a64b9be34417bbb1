package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind int

const (
	// KindAcquisition means the token endpoint refused to issue a token.
	KindAcquisition Kind = iota + 1
	// KindFormat means the token response could not be parsed.
	KindFormat
	// KindCommunication means the token endpoint could not be reached.
	KindCommunication
	// KindConcurrency means the cached token slot could not be acquired.
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindAcquisition:
		return "acquisition"
	case KindFormat:
		return "format"
	case KindCommunication:
		return "communication"
	case KindConcurrency:
		return "concurrency"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every authentication operation.
type Error struct {
	Kind Kind
	// Status is the token endpoint's HTTP status for KindAcquisition, else 0.
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := "auth " + e.Kind.String() + " error: " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}
