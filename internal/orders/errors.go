package orders

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrProductUnavailable   = errors.New("product is not available")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrAllocatorExhausted   = errors.New("could not allocate a unique order number")
	ErrDuplicateOrderNumber = errors.New("order number already taken")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrStatusTransition     = errors.New("order status cannot change from its current state")
	ErrPaymentTransition    = errors.New("payment status cannot change from its current state")
	ErrPersistence          = errors.New("persistence failure")
)

// ValidationError is returned before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s (requested %d, available %d)", e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PersistenceError marks a driver or store failure while keeping the cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
