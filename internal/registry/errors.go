package registry

import (
	"fmt"

	"github.com/wharflab/stevedore/internal/imageref"
)

// NotFoundError indicates the registry has no manifest for the
// reference.
type NotFoundError struct {
	Ref imageref.Ref
	Err error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s: %v", e.Ref, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// UnauthorizedError indicates missing or rejected credentials (HTTP
// 401).
type UnauthorizedError struct{ Err error }

func (e *UnauthorizedError) Error() string { return fmt.Sprintf("unauthorized: %v", e.Err) }
func (e *UnauthorizedError) Unwrap() error { return e.Err }

// ForbiddenError indicates the registry refused the request (HTTP 403).
// Diagnostic carries the full request and response context so operators
// can investigate.
type ForbiddenError struct {
	Ref        imageref.Ref
	Diagnostic string
	Err        error
}

func (e *ForbiddenError) Error() string { return fmt.Sprintf("forbidden: %s: %v", e.Ref, e.Err) }
func (e *ForbiddenError) Unwrap() error { return e.Err }

// TransportError indicates a network failure or an HTTP error with no
// more specific classification.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return fmt.Sprintf("registry transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
