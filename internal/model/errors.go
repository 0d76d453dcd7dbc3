package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Import pipeline error taxonomy. Callers match with errors.Is.
var (
	ErrConcurrentBatch     = eris.New("a batch is already processing")
	ErrInsufficientCredits = eris.New("insufficient credits")
	ErrMissingCredential   = eris.New("personal credential mode requires a credential")
	ErrProviderUnavailable = eris.New("no active extraction provider")
	ErrInsufficientContent = eris.New("document has too little readable content")
	ErrExtraction          = eris.New("extraction failed")
	ErrMerge               = eris.New("merge failed")
	ErrCancelled           = eris.New("batch cancelled")
	ErrNotFound            = eris.New("not found")
	ErrInvalidRequest      = eris.New("invalid request")
)

// ErrorKind is the stable, serializable name of an error class.
type ErrorKind string

const (
	KindConcurrentBatch     ErrorKind = "concurrent_batch"
	KindInsufficientCredits ErrorKind = "insufficient_credits"
	KindMissingCredential   ErrorKind = "missing_credential"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindInsufficientContent ErrorKind = "insufficient_content"
	KindExtraction          ErrorKind = "extraction"
	KindMerge               ErrorKind = "merge"
	KindCancelled           ErrorKind = "cancelled"
	KindNotFound            ErrorKind = "not_found"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindInternal            ErrorKind = "internal"
)

var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindConcurrentBatch, ErrConcurrentBatch},
	{KindInsufficientCredits, ErrInsufficientCredits},
	{KindMissingCredential, ErrMissingCredential},
	{KindProviderUnavailable, ErrProviderUnavailable},
	{KindInsufficientContent, ErrInsufficientContent},
	{KindExtraction, ErrExtraction},
	{KindMerge, ErrMerge},
	{KindCancelled, ErrCancelled},
	{KindNotFound, ErrNotFound},
	{KindInvalidRequest, ErrInvalidRequest},
}

// KindOf classifies err. Unrecognized errors are KindInternal; nil is "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindInternal
}

// classifiedError attaches a taxonomy sentinel to an underlying cause while
// keeping both reachable through errors.Is and errors.As.
type classifiedError struct {
	sentinel error
	cause    error
	msg      string
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *classifiedError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.sentinel}
	}
	return []error{e.sentinel, e.cause}
}

// Classify tags cause with sentinel. If cause already matches sentinel it is
// returned wrapped with msg only.
func Classify(sentinel, cause error, msg string) error {
	if cause != nil && errors.Is(cause, sentinel) {
		return eris.Wrap(cause, msg)
	}
	return &classifiedError{sentinel: sentinel, cause: cause, msg: msg}
}
