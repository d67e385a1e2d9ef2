package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed remote call. The sync engine chooses its
// reaction from the kind alone.
type ErrorKind string

const (
	// KindNetwork covers transport failures, timeouts and transient server
	// errors. The call may be retried unchanged.
	KindNetwork ErrorKind = "NETWORK"

	// KindValidation means the server rejected the request. Retrying the
	// same request will fail again.
	KindValidation ErrorKind = "VALIDATION"

	// KindAuth means the token is missing, expired or refused.
	KindAuth ErrorKind = "AUTH"
)

// Error is the failure result of every Client method.
type Error struct {
	// Kind selects the retry policy.
	Kind ErrorKind

	// Op names the call, e.g. "create journal".
	Op string

	// Status is the HTTP status code, or 0 if no response arrived.
	Status int

	// Message is the server's explanation when it gave one.
	Message string

	// Err is the underlying transport or decode error, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a remote error. Uses errors.As to handle
// wrapped errors.
func KindOf(err error) (ErrorKind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// IsNetwork returns true if err is a network-class remote failure.
func IsNetwork(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNetwork
}

// IsValidation returns true if err is a server-side rejection.
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}

// IsAuth returns true if err is an authentication failure.
func IsAuth(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindAuth
}

// classifyStatus maps a non-2xx status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 408 || status == 429 || status >= 500:
		return KindNetwork
	default:
		return KindValidation
	}
}
