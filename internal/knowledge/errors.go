package knowledge

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind labels a failure for fallback and retry decisions.
type ErrorKind string

// Error kinds surfaced by the pipeline.
const (
	KindTimeout                ErrorKind = "Timeout"
	KindSizeLimitExceeded      ErrorKind = "SizeLimitExceeded"
	KindHTTPError              ErrorKind = "HttpError"
	KindUnsupportedContentType ErrorKind = "UnsupportedContentType"
	KindNetworkError           ErrorKind = "NetworkError"
	KindExtractionTimeout      ErrorKind = "ExtractionTimeout"
	KindExtractionFailed       ErrorKind = "ExtractionFailed"
	KindExtractionCrashed      ErrorKind = "ExtractionCrashed"
	KindStorageError           ErrorKind = "StorageError"
	KindAIProcessingError      ErrorKind = "AiProcessingError"
	KindPermissionError        ErrorKind = "PermissionError"
	KindResourceError          ErrorKind = "ResourceError"
	KindUnknownError           ErrorKind = "UnknownError"
)

// Error is the typed failure carried between pipeline layers. Status is set
// only for KindHTTPError. RetryAfter, when positive, is a provider-supplied
// delay that overrides the scheduler's computed backoff.
type Error struct {
	Kind       ErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPError && e.Status != 0:
		return fmt.Sprintf("%s{%d}: %s", e.Kind, e.Status, e.Message)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error with a message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds an Error around an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind, defaulting to UnknownError.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknownError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// RetryAfterOf returns the provider-supplied retry delay, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
