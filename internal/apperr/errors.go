// Package apperr defines the failure taxonomy shared by every operation.
// Each error carries a machine-readable Kind so that the protocol layer can
// render a stable error code without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Validation indicates malformed or missing caller input. It is detected
	// locally and never reaches the backend.
	Validation Kind = "validation"
	// InvalidIdentifier indicates a table or column name that does not
	// survive sanitization unchanged.
	InvalidIdentifier Kind = "invalid_identifier"
	// Configuration indicates missing credentials, an unknown operation kind,
	// or a server-side procedure that is not installed.
	Configuration Kind = "configuration"
	// Backend indicates that the remote call itself failed.
	Backend Kind = "backend"
	// Internal indicates an unexpected defect.
	Internal Kind = "internal"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	// Details is an optional JSON-serialisable payload rendered next to the
	// message, e.g. the remote error body or a list of validation failures.
	Details any
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// Newf is New with a format string.
func Newf(kind Kind, format string, a ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// WithDetails sets the details payload and returns e.
func (e *E) WithDetails(details any) *E {
	e.Details = details
	return e
}

// KindOf returns the kind of the first *E in err's chain, or Internal if
// there is none.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *E
	return errors.As(err, &e) && e.Kind == kind
}
