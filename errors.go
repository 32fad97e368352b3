// Package gamestore contains the domain model for the game store:
// the Game and Order aggregates, the domain events recorded for them,
// the read-model documents served from the document store, and the
// error taxonomy shared by every workflow.
package gamestore

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the workflow error taxonomy.
// Use errors.Is() to check for these errors.
var (
	// ErrValidation indicates malformed or missing input, rejected before any write.
	ErrValidation = errors.New("gamestore: validation failed")

	// ErrReference indicates a referenced entity does not exist.
	ErrReference = errors.New("gamestore: referenced entity not found")

	// ErrNotFound indicates a lookup miss.
	ErrNotFound = errors.New("gamestore: not found")

	// ErrInvalidState indicates a rejected state-machine transition.
	ErrInvalidState = errors.New("gamestore: invalid state transition")

	// ErrConflict indicates a conditional update matched zero documents,
	// i.e. a concurrent writer won the transition.
	ErrConflict = errors.New("gamestore: conflict")

	// ErrInfrastructure indicates the event log or document store failed.
	ErrInfrastructure = errors.New("gamestore: infrastructure failure")
)

// ValidationError reports which field of an input was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("gamestore: validation failed on %q: %s", e.Field, e.Reason)
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ReferenceError reports which entity ids could not be resolved.
type ReferenceError struct {
	Kind string
	IDs  []string
}

// NewReferenceError creates a new ReferenceError.
func NewReferenceError(kind string, ids []string) *ReferenceError {
	return &ReferenceError{Kind: kind, IDs: ids}
}

// Error returns the error message.
func (e *ReferenceError) Error() string {
	return fmt.Sprintf("gamestore: %s not found: %s", e.Kind, strings.Join(e.IDs, ", "))
}

// Is reports whether this error matches the target error.
func (e *ReferenceError) Is(target error) bool {
	return target == ErrReference
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ReferenceError) Unwrap() error {
	return ErrReference
}

// StateError reports a rejected order status transition.
type StateError struct {
	OrderID string
	Status  OrderStatus
	Wanted  OrderStatus
}

// NewStateError creates a new StateError.
func NewStateError(orderID string, current, wanted OrderStatus) *StateError {
	return &StateError{OrderID: orderID, Status: current, Wanted: wanted}
}

// Error returns the error message.
func (e *StateError) Error() string {
	return fmt.Sprintf("gamestore: order %q is %s, cannot transition to %s",
		e.OrderID, e.Status, e.Wanted)
}

// Is reports whether this error matches the target error.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// InfrastructureError wraps a failure from the event log or the
// document store. The cause is preserved for errors.Is/As.
type InfrastructureError struct {
	Op  string
	Err error
}

// NewInfrastructureError creates a new InfrastructureError.
func NewInfrastructureError(op string, err error) *InfrastructureError {
	return &InfrastructureError{Op: op, Err: err}
}

// Error returns the error message.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("gamestore: %s: %v", e.Op, e.Err)
}

// Is reports whether this error matches the target error.
func (e *InfrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *InfrastructureError) Unwrap() error {
	return e.Err
}
