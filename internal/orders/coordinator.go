package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Coordinator runs units of work under the engine's locking discipline:
// the order row first, then stock rows in ascending SKU order, all held
// until commit or abort.
type Coordinator struct {
	Store       Store
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// Unit is the transaction handed to a unit of work.
type Unit struct {
	Tx
	locked map[string]bool
	sealed bool
}

// LockSKUs locks the stock rows of skus in ascending order. It may be
// called once per unit so that every lock is taken in a single ordered pass.
func (u *Unit) LockSKUs(ctx context.Context, skus ...string) error {
	if u.sealed {
		return errors.New("orders: stock rows already locked in this unit")
	}
	u.sealed = true
	for _, sku := range SortedSKUs(skus) {
		if err := u.Tx.LockStock(ctx, sku); err != nil {
			return err
		}
		u.locked[sku] = true
	}
	return nil
}

// Holds reports whether the unit holds the stock lock for sku.
func (u *Unit) Holds(sku string) bool { return u.locked[sku] }

// Run executes fn atomically. When orderID is non-empty the order row is
// locked before fn runs and the locked order is passed in.
func (c *Coordinator) Run(ctx context.Context, orderID string, fn func(ctx context.Context, u *Unit, o Order) error) error {
	tx, err := c.Store.Begin(ctx, c.LockTimeout)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	u := &Unit{Tx: tx, locked: map[string]bool{}}
	var o Order
	if orderID != "" {
		if o, err = tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
	}
	if err := fn(ctx, u, o); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.logger().Warn("unit of work gave up waiting for a row lock",
				zap.String("order_id", orderID), zap.Duration("lock_timeout", c.LockTimeout))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Read runs fn in a transaction that takes no locks and is always rolled back.
func (c *Coordinator) Read(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := c.Store.Begin(ctx, c.LockTimeout)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()
	return fn(ctx, tx)
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// SortedSKUs returns the distinct skus in ascending order.
func SortedSKUs(skus []string) []string {
	seen := make(map[string]bool, len(skus))
	out := make([]string, 0, len(skus))
	for _, s := range skus {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
