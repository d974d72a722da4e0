package domain

import "fmt"

// ErrorKind is the pipeline's error taxonomy. Kinds are machine-stable tags,
// not Go type names, so they can be serialised directly onto API responses.
type ErrorKind string

const (
	ErrorKindInputInvalid         ErrorKind = "InputInvalid"
	ErrorKindBackendUnavailable   ErrorKind = "BackendUnavailable"
	ErrorKindEngineFailed         ErrorKind = "EngineFailed"
	ErrorKindDecodeFailed         ErrorKind = "DecodeFailed"
	ErrorKindEnrichmentFailed     ErrorKind = "EnrichmentFailed"
	ErrorKindProviderNotConfigured ErrorKind = "ProviderNotConfigured"
	ErrorKindExtractionTimeout    ErrorKind = "ExtractionTimeout"
	ErrorKindExtractionParseError ErrorKind = "ExtractionParseError"
	ErrorKindExtractionRejected   ErrorKind = "ExtractionRejected"
	ErrorKindCancelled            ErrorKind = "Cancelled"
)

// DomainError represents a pipeline error with a stable kind, a human
// sentence, and an optional wrapped cause. Structured fields (engine,
// provider) are attached when relevant so callers can log/report them
// without parsing the message.
type DomainError struct {
	Kind     ErrorKind
	Message  string
	Err      error
	Engine   string
	Provider string
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error of the given kind.
func NewError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Err: err}
}

// Kind extracts the ErrorKind from err if it (or something it wraps) is a
// *DomainError. Used at the API boundary to map errors onto HTTP status.
func Kind(err error) (ErrorKind, bool) {
	var de *DomainError
	for err != nil {
		if d, ok := err.(*DomainError); ok {
			de = d
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if de == nil {
		return "", false
	}
	return de.Kind, true
}

// Common error constructors, one per taxonomy kind.

func InputInvalid(message string, err error) *DomainError {
	return NewError(ErrorKindInputInvalid, message, err)
}

func BackendUnavailable(capability string) *DomainError {
	return &DomainError{Kind: ErrorKindBackendUnavailable, Message: "no healthy backend for capability " + capability}
}

func EngineFailed(engine, message string, err error) *DomainError {
	return &DomainError{Kind: ErrorKindEngineFailed, Message: message, Err: err, Engine: engine}
}

func DecodeFailed(message string, err error) *DomainError {
	return NewError(ErrorKindDecodeFailed, message, err)
}

func EnrichmentFailed(message string, err error) *DomainError {
	return NewError(ErrorKindEnrichmentFailed, message, err)
}

func ProviderNotConfigured(provider string) *DomainError {
	return &DomainError{Kind: ErrorKindProviderNotConfigured, Message: "provider not configured: " + provider, Provider: provider}
}

func ExtractionTimeout(message string, err error) *DomainError {
	return NewError(ErrorKindExtractionTimeout, message, err)
}

func ExtractionParseError(message string, err error) *DomainError {
	return NewError(ErrorKindExtractionParseError, message, err)
}

func ExtractionRejected(message string, err error) *DomainError {
	return NewError(ErrorKindExtractionRejected, message, err)
}

func Cancelled(err error) *DomainError {
	return NewError(ErrorKindCancelled, "operation cancelled", err)
}
