// Package errs defines the error taxonomy shared by every strata component.
//
// Structural errors (NotFound, Conflict, Validation, ReadOnly) propagate to
// callers immediately. Provider errors are transient: the job graph retries
// them with backoff and only then surfaces them as a failed tier status.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when WaitProcessed exceeds its deadline.
	ErrTimeout = errors.New("timed out waiting for processing")

	// ErrCapacity is returned when a bounded queue cannot accept more work.
	// Callers should retry with backoff.
	ErrCapacity = errors.New("queue capacity exceeded")

	// ErrReadOnly is returned when mutating a node that is archived as read-only.
	ErrReadOnly = errors.New("node is read-only")

	// ErrClosed is returned when an operation is attempted after Close.
	ErrClosed = errors.New("closed")
)

// NotFoundError is returned when a URI or scope cannot be resolved.
type NotFoundError struct {
	URI string
}

func (e NotFoundError) Error() string {
	if e.URI == "" {
		return "not found"
	}

	return "not found: " + e.URI
}

// ConflictError is returned when a write carries a stale version.
// The caller must re-read the node and retry.
type ConflictError struct {
	URI      string
	Expected uint64
	Actual   uint64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, found %d", e.URI, e.Expected, e.Actual)
}

// ValidationError reports malformed input: URIs, glob patterns, regular
// expressions or illegal state transitions. It is never retried.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}

	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ProviderError wraps a failure from an external collaborator: embedding,
// language model, vector store or blob store.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Provider wraps err as a *ProviderError. A nil err returns nil.
func Provider(provider, op string, err error) error {
	if err == nil {
		return nil
	}

	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// Invalid builds a ValidationError.
func Invalid(field, value, reason string) error {
	return ValidationError{Field: field, Value: value, Reason: reason}
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsProvider(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}
