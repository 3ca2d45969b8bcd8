// Package apperr defines the typed failures returned by the service layer.
package apperr

import (
	"errors"
	"fmt"

	"repair-shop-service/internal/models"
)

// Entity names used in NotFoundError
const (
	EntityTicket       = "ticket"
	EntityPart         = "part"
	EntityRepair       = "repair"
	EntityTicketPart   = "ticket part"
	EntityTicketRepair = "ticket repair"
)

var (
	// ErrDuplicate reports a write that collided with a unique key
	ErrDuplicate = errors.New("duplicate record")
	// ErrReferenced reports a delete of a record line items still point at
	ErrReferenced = errors.New("record is still referenced")
)

// NotFoundError reports a missing ticket, line item, part or repair
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NotFound builds a NotFoundError
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError reports a reservation larger than the available stock
type InsufficientStockError struct {
	PartID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for part %s: requested=%d, available=%d",
		e.PartID, e.Requested, e.Available)
}

// Shortfall is the number of units missing to satisfy the request
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

// ConcurrencyConflictError reports a lock timeout or exhausted retries.
// The whole operation may be retried by the caller.
type ConcurrencyConflictError struct {
	Op  string
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict during %s, retry the request: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return e.Err
}

// AuthorizationError reports a role not allowed to set a ticket status
type AuthorizationError struct {
	Role   models.Role
	Status models.TicketStatus
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %s is not allowed to set ticket status %s", e.Role, e.Status)
}

// ValidationError reports an input the core refuses to process
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsRetryable reports whether the caller may retry the operation
func IsRetryable(err error) bool {
	var target *ConcurrencyConflictError
	return errors.As(err, &target)
}
