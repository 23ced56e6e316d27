package service

import "errors"

// ErrorKind classifies confirmation failures. Every kind is fail-closed: no
// state is mutated on any rejection path.
type ErrorKind string

const (
	KindValidation             ErrorKind = "VALIDATION_ERROR"
	KindConfiguration          ErrorKind = "CONFIGURATION_ERROR"
	KindProviderUnavailable    ErrorKind = "PROVIDER_UNAVAILABLE"
	KindVerificationFailure    ErrorKind = "VERIFICATION_FAILURE"
	KindReconciliationMismatch ErrorKind = "RECONCILIATION_MISMATCH"
	KindStorage                ErrorKind = "STORAGE_ERROR"
	KindNotFound               ErrorKind = "NOT_FOUND"
)

// Error is a classified service failure.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind ErrorKind, message string, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable, cause: cause}
}

// KindOf extracts the ErrorKind from an error chain; "" if unclassified.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable reports whether the client may safely resubmit.
func IsRetryable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Retryable
}
