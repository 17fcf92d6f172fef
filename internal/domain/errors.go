package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrStockUnavailable   = errors.New("stock unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrItemUnavailable    = errors.New("item unavailable")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrQuantityExceeded   = errors.New("cart line quantity exceeded")
	ErrEmptyCart          = errors.New("cart is empty, nothing to checkout")
	ErrBusy               = errors.New("resource busy, retry later")
	ErrIllegalTransition  = errors.New("illegal transition of order status")
	ErrValidation         = errors.New("validation failed")
)

// StockUnavailableError rejects a checkout line whose quantity exceeds on-hand stock.
type StockUnavailableError struct {
	ItemID    int64
	Item      ItemKey
	Requested int64
	Available int64
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("stock unavailable for %s: requested %d, available %d", e.Item, e.Requested, e.Available)
}

func (e *StockUnavailableError) Is(target error) bool {
	return target == ErrStockUnavailable
}

// ItemUnavailableError is the soft add-to-cart availability failure.
type ItemUnavailableError struct {
	Item      ItemKey
	Requested int64
	Available int64
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("item %s unavailable: requested %d, available %d", e.Item, e.Requested, e.Available)
}

func (e *ItemUnavailableError) Is(target error) bool {
	return target == ErrItemUnavailable
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps an unexpected database failure. Callers may retry the whole operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [op=%s]: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapStorage wraps err as a StorageError unless it is nil or already a domain error.
func WrapStorage(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsRetryable reports whether an operation that failed with err can be retried from scratch.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.Is(err, ErrBusy) || errors.As(err, &se)
}

func isDomainError(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return true
	}
	for _, target := range []error{
		ErrNotFound, ErrStockUnavailable, ErrInsufficientStock, ErrItemUnavailable,
		ErrInsufficientPoints, ErrQuantityExceeded, ErrEmptyCart, ErrBusy,
		ErrIllegalTransition, ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
