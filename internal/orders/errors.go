package orders

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Context is attached with fmt.Errorf("%w: ...").
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateSKU      = errors.New("duplicate sku")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyReleased   = errors.New("reservation already released")
	ErrLockTimeout       = errors.New("lock timeout")
)

// InsufficientStockError names the SKU that could not cover a request.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("sku %s insufficient: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrDuplicateSKU, "duplicate_sku"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrAlreadyReleased, "already_released"},
	{ErrLockTimeout, "lock_timeout"},
}

// Kind returns the stable name of err's kind, or "internal" for anything
// outside the engine's taxonomy.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// Retryable reports whether the same request may succeed if sent again.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
