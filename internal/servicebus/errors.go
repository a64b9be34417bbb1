package servicebus

import (
	"errors"
	"fmt"
)

// Kind classifies a queue failure.
type Kind int

const (
	// KindAuthentication wraps an *auth.Error raised while authorizing a request.
	KindAuthentication Kind = iota + 1
	// KindCommunication covers transport failures and unexpected status codes
	// outside the 4xx and 5xx ranges.
	KindCommunication
	// KindConversion covers property and payload (de)serialization failures.
	KindConversion
	// KindRequest is a client-caused failure: 4xx, or a request that could not
	// be formed.
	KindRequest
	// KindService is a server-caused failure: 5xx.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindCommunication:
		return "communication"
	case KindConversion:
		return "conversion"
	case KindRequest:
		return "request"
	case KindService:
		return "service"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Client operation.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "send" or "peek_lock".
	Op string
	// Status is the HTTP status when the failure came from a response, else 0.
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := "servicebus " + e.Op + ": " + e.Kind.String() + " error"
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
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
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind == kind
	}
	return false
}

// classifyStatus maps an unexpected HTTP status to an error. It is the only
// place status codes are turned into kinds.
func classifyStatus(op string, status int) *Error {
	qe := &Error{Op: op, Status: status}

	switch {
	case status >= 500:
		qe.Kind = KindService
		qe.Msg = fmt.Sprintf("status %d", status)
	case status >= 400:
		qe.Kind = KindRequest
		qe.Msg = fmt.Sprintf("status %d", status)
	default:
		qe.Kind = KindCommunication
		qe.Msg = fmt.Sprintf("unexpected HTTP response: %d", status)
	}

	return qe
}
