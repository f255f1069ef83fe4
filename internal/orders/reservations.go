package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reservations records holds of stock against orders. It never touches
// stock; callers pair every call with a Ledger adjustment in the same unit.
type Reservations struct {
	Now func() time.Time
}

func (r Reservations) Create(ctx context.Context, tx Tx, orderID, sku string, qty int) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("%w: reservation qty must be > 0, got %d", ErrInvalidQuantity, qty)
	}
	res := Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		SKU:       sku,
		Qty:       qty,
		Active:    true,
		CreatedAt: r.now(),
	}
	if err := tx.InsertReservation(ctx, res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// Release deactivates a reservation. Releasing twice fails with ErrAlreadyReleased.
func (r Reservations) Release(ctx context.Context, tx Tx, id string) error {
	res, err := tx.Reservation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: reservation %s", ErrNotFound, id)
		}
		return err
	}
	if !res.Active {
		return fmt.Errorf("%w: %s", ErrAlreadyReleased, id)
	}
	return tx.ReleaseReservation(ctx, id, r.now())
}

func (r Reservations) ListActive(ctx context.Context, tx Tx, orderID string) ([]Reservation, error) {
	return tx.Reservations(ctx, orderID, true)
}

func (r Reservations) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now()
}
