// Package memory is an in-process orders.Store. Each order and stock row
// has its own lock so transactions on disjoint rows never wait for each
// other; writes are staged per transaction and applied at commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ariefcatur/stockd/internal/orders"
)

type Store struct {
	mu           sync.RWMutex
	products     map[string]orders.Product // by sku
	stock        map[int64]orders.Stock
	movements    []orders.StockMovement
	orders       map[string]orders.Order
	items        map[string][]orders.OrderItem
	reservations map[string]orders.Reservation
	byOrder      map[string][]string // order id -> reservation ids, insertion order

	productSeq  atomic.Int64
	movementSeq atomic.Int64

	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted
}

func New() *Store {
	return &Store{
		products:     map[string]orders.Product{},
		stock:        map[int64]orders.Stock{},
		orders:       map[string]orders.Order{},
		items:        map[string][]orders.OrderItem{},
		reservations: map[string]orders.Reservation{},
		byOrder:      map[string][]string{},
		locks:        map[string]*semaphore.Weighted{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Begin(ctx context.Context, lockTimeout time.Duration) (orders.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		s:            s,
		lockTimeout:  lockTimeout,
		held:         map[string]*semaphore.Weighted{},
		products:     map[string]orders.Product{},
		stock:        map[int64]orders.Stock{},
		orders:       map[string]orders.Order{},
		items:        map[string][]orders.OrderItem{},
		reservations: map[string]orders.Reservation{},
	}, nil
}

func (s *Store) rowLock(key string) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[key] = l
	}
	return l
}

type tx struct {
	s           *Store
	lockTimeout time.Duration
	held        map[string]*semaphore.Weighted
	done        bool

	// staged writes
	products     map[string]orders.Product
	stock        map[int64]orders.Stock
	movements    []orders.StockMovement
	orders       map[string]orders.Order
	items        map[string][]orders.OrderItem
	reservations map[string]orders.Reservation
	newRes       []string
}

var errTxDone = errors.New("memory: transaction already finished")

// acquire blocks until the row lock for key is granted to this tx.
func (t *tx) acquire(ctx context.Context, key string) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.held[key]; ok {
		return nil
	}
	l := t.s.rowLock(key)
	wait := ctx
	if t.lockTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, t.lockTimeout)
		defer cancel()
	}
	if err := l.Acquire(wait, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: waited %s for %s", orders.ErrLockTimeout, t.lockTimeout, key)
	}
	t.held[key] = l
	return nil
}

func (t *tx) release() {
	for k, l := range t.held {
		l.Release(1)
		delete(t.held, k)
	}
	t.done = true
}

func (t *tx) LockOrder(ctx context.Context, orderID string) (orders.Order, error) {
	if _, err := t.Order(ctx, orderID); err != nil {
		return orders.Order{}, err
	}
	if err := t.acquire(ctx, "order:"+orderID); err != nil {
		return orders.Order{}, err
	}
	// re-read: the row may have moved while we waited
	return t.Order(ctx, orderID)
}

func (t *tx) LockStock(ctx context.Context, sku string) error {
	if _, err := t.ProductBySKU(ctx, sku); err != nil {
		return err
	}
	return t.acquire(ctx, "stock:"+sku)
}

func (t *tx) InsertProduct(ctx context.Context, p *orders.Product) error {
	// the stock row lock also serialises inserts of the same sku
	if err := t.acquire(ctx, "stock:"+p.SKU); err != nil {
		return err
	}
	if _, err := t.ProductBySKU(ctx, p.SKU); err == nil {
		return fmt.Errorf("%w: %s", orders.ErrDuplicateSKU, p.SKU)
	}
	p.ID = t.s.productSeq.Add(1)
	t.products[p.SKU] = *p
	t.stock[p.ID] = orders.Stock{ProductID: p.ID, SKU: p.SKU, UpdatedAt: p.CreatedAt}
	return nil
}

func (t *tx) ProductBySKU(_ context.Context, sku string) (orders.Product, error) {
	if p, ok := t.products[sku]; ok {
		return p, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if p, ok := t.s.products[sku]; ok {
		return p, nil
	}
	return orders.Product{}, fmt.Errorf("%w: sku %s", orders.ErrNotFound, sku)
}

func (t *tx) Stock(ctx context.Context, sku string) (orders.Stock, error) {
	p, err := t.ProductBySKU(ctx, sku)
	if err != nil {
		return orders.Stock{}, err
	}
	if st, ok := t.stock[p.ID]; ok {
		return st, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.stock[p.ID], nil
}

func (t *tx) SetStock(_ context.Context, productID int64, qty int, at time.Time) error {
	st, ok := t.stock[productID]
	if !ok {
		t.s.mu.RLock()
		st, ok = t.s.stock[productID]
		t.s.mu.RUnlock()
	}
	if !ok {
		return fmt.Errorf("%w: stock row for product %d", orders.ErrNotFound, productID)
	}
	if qty < 0 {
		return fmt.Errorf("memory: stock for product %d would be negative", productID)
	}
	st.Quantity = qty
	st.UpdatedAt = at
	t.stock[productID] = st
	return nil
}

func (t *tx) AppendMovement(_ context.Context, m *orders.StockMovement) error {
	m.ID = t.s.movementSeq.Add(1)
	t.movements = append(t.movements, *m)
	return nil
}

func (t *tx) Movements(_ context.Context, sku string, limit int) ([]orders.StockMovement, error) {
	var out []orders.StockMovement
	for i := len(t.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if t.movements[i].SKU == sku {
			out = append(out, t.movements[i])
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for i := len(t.s.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if t.s.movements[i].SKU == sku {
			out = append(out, t.s.movements[i])
		}
	}
	return out, nil
}

func (t *tx) InsertOrder(_ context.Context, o orders.Order, items []orders.OrderItem) error {
	if _, ok := t.orders[o.ID]; ok {
		return fmt.Errorf("memory: order %s already exists", o.ID)
	}
	t.orders[o.ID] = o
	t.items[o.ID] = append([]orders.OrderItem(nil), items...)
	return nil
}

func (t *tx) Order(_ context.Context, orderID string) (orders.Order, error) {
	if o, ok := t.orders[orderID]; ok {
		return o, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if o, ok := t.s.orders[orderID]; ok {
		return o, nil
	}
	return orders.Order{}, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
}

func (t *tx) Items(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	if it, ok := t.items[orderID]; ok {
		return append([]orders.OrderItem(nil), it...), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return append([]orders.OrderItem(nil), t.s.items[orderID]...), nil
}

func (t *tx) SetOrderStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error {
	o, err := t.Order(ctx, orderID)
	if err != nil {
		return err
	}
	o.Status = status
	o.UpdatedAt = at
	t.orders[orderID] = o
	return nil
}

func (t *tx) InsertReservation(_ context.Context, r orders.Reservation) error {
	t.reservations[r.ID] = r
	t.newRes = append(t.newRes, r.ID)
	return nil
}

func (t *tx) Reservation(_ context.Context, id string) (orders.Reservation, error) {
	if r, ok := t.reservations[id]; ok {
		return r, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if r, ok := t.s.reservations[id]; ok {
		return r, nil
	}
	return orders.Reservation{}, fmt.Errorf("%w: reservation %s", orders.ErrNotFound, id)
}

func (t *tx) ReleaseReservation(ctx context.Context, id string, at time.Time) error {
	r, err := t.Reservation(ctx, id)
	if err != nil {
		return err
	}
	if !r.Active {
		return fmt.Errorf("%w: %s", orders.ErrAlreadyReleased, id)
	}
	r.Active = false
	r.ReleasedAt = &at
	t.reservations[id] = r
	return nil
}

func (t *tx) Reservations(ctx context.Context, orderID string, activeOnly bool) ([]orders.Reservation, error) {
	t.s.mu.RLock()
	ids := append([]string(nil), t.s.byOrder[orderID]...)
	t.s.mu.RUnlock()
	for _, id := range t.newRes {
		if t.reservations[id].OrderID == orderID {
			ids = append(ids, id)
		}
	}

	out := make([]orders.Reservation, 0, len(ids))
	for _, id := range ids {
		r, err := t.Reservation(ctx, id)
		if err != nil {
			return nil, err
		}
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errTxDone
	}
	s := t.s
	s.mu.Lock()
	for sku, p := range t.products {
		s.products[sku] = p
	}
	for id, st := range t.stock {
		s.stock[id] = st
	}
	s.movements = append(s.movements, t.movements...)
	for id, o := range t.orders {
		s.orders[id] = o
	}
	for id, it := range t.items {
		s.items[id] = it
	}
	for id, r := range t.reservations {
		s.reservations[id] = r
	}
	for _, id := range t.newRes {
		r := t.reservations[id]
		s.byOrder[r.OrderID] = append(s.byOrder[r.OrderID], id)
	}
	s.mu.Unlock()
	t.release()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if !t.done {
		t.release()
	}
	return nil
}
