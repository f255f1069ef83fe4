package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	LockTimeout time.Duration
	Logger      *zap.Logger
	Publisher   Publisher
	Producer    string // nama service di envelope
	Now         func() time.Time
}

// Manager owns the order state machine and composes the ledger and the
// reservation store into atomic lifecycle transitions.
type Manager struct {
	coord        *Coordinator
	ledger       Ledger
	reservations Reservations
	publisher    Publisher
	producer     string
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewManager(store Store, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Producer == "" {
		opts.Producer = "stockd"
	}
	return &Manager{
		coord:        &Coordinator{Store: store, LockTimeout: opts.LockTimeout, Logger: opts.Logger},
		ledger:       Ledger{Now: opts.Now},
		reservations: Reservations{Now: opts.Now},
		publisher:    opts.Publisher,
		producer:     opts.Producer,
		logger:       opts.Logger,
		tracer:       otel.Tracer("github.com/ariefcatur/stockd/internal/orders"),
		now:          opts.Now,
	}
}

// Ping checks that the backing store answers.
func (m *Manager) Ping(ctx context.Context) error {
	return m.coord.Store.Ping(ctx)
}

// CreateProduct registers sku with an opening balance of initialQty units.
func (m *Manager) CreateProduct(ctx context.Context, sku, name string, initialQty int) (p Product, err error) {
	ctx, span := m.start(ctx, "orders.CreateProduct", attribute.String("sku", sku))
	defer func() { endSpan(span, err) }()

	sku = strings.TrimSpace(sku)
	if sku == "" {
		return Product{}, fmt.Errorf("%w: sku is required", ErrInvalidInput)
	}
	if initialQty < 0 || initialQty > MaxQuantity {
		return Product{}, fmt.Errorf("%w: initial quantity must be between 0 and %d, got %d", ErrInvalidQuantity, MaxQuantity, initialQty)
	}

	err = m.coord.Run(ctx, "", func(ctx context.Context, u *Unit, _ Order) error {
		p = Product{SKU: sku, Name: strings.TrimSpace(name), CreatedAt: m.now()}
		if err := u.InsertProduct(ctx, &p); err != nil {
			return err
		}
		if initialQty == 0 {
			return nil
		}
		if err := u.LockSKUs(ctx, sku); err != nil {
			return err
		}
		_, err := m.ledger.Adjust(ctx, u, sku, initialQty, ReasonInitial, MovementRef{Note: "initial"})
		return err
	})
	if err != nil {
		return Product{}, err
	}
	m.logger.Info("product created", zap.String("sku", sku), zap.Int64("product_id", p.ID), zap.Int("initial_qty", initialQty))
	if initialQty > 0 {
		m.publish(ctx, EventStockAdjusted, sku, StockAdjustedPayload{SKU: sku, Delta: initialQty, Quantity: initialQty, Reason: ReasonInitial})
	}
	return p, nil
}

func (m *Manager) GetStock(ctx context.Context, sku string) (st Stock, err error) {
	ctx, span := m.start(ctx, "orders.GetStock", attribute.String("sku", sku))
	defer func() { endSpan(span, err) }()

	err = m.coord.Read(ctx, func(ctx context.Context, tx Tx) error {
		st, err = m.ledger.Stock(ctx, tx, sku)
		return err
	})
	return st, err
}

// GetQuantity returns the current quantity of sku.
func (m *Manager) GetQuantity(ctx context.Context, sku string) (qty int, err error) {
	ctx, span := m.start(ctx, "orders.GetQuantity", attribute.String("sku", sku))
	defer func() { endSpan(span, err) }()

	err = m.coord.Read(ctx, func(ctx context.Context, tx Tx) error {
		qty, err = m.ledger.Quantity(ctx, tx, sku)
		return err
	})
	return qty, err
}

// AdjustStock applies an administrative change of delta units to sku.
func (m *Manager) AdjustStock(ctx context.Context, sku string, delta int, note string) (qty int, err error) {
	ctx, span := m.start(ctx, "orders.AdjustStock", attribute.String("sku", sku), attribute.Int("delta", delta))
	defer func() { endSpan(span, err) }()

	if delta == 0 || delta > MaxQuantity || delta < -MaxQuantity {
		return 0, fmt.Errorf("%w: delta must be non-zero and within [-%d, %d], got %d", ErrInvalidQuantity, MaxQuantity, MaxQuantity, delta)
	}
	err = m.coord.Run(ctx, "", func(ctx context.Context, u *Unit, _ Order) error {
		if err := u.LockSKUs(ctx, sku); err != nil {
			return err
		}
		qty, err = m.ledger.Adjust(ctx, u, sku, delta, ReasonManualAdjust, MovementRef{Note: note})
		return err
	})
	if err != nil {
		return 0, err
	}
	m.logger.Info("stock adjusted", zap.String("sku", sku), zap.Int("delta", delta), zap.Int("quantity", qty))
	m.publish(ctx, EventStockAdjusted, sku, StockAdjustedPayload{SKU: sku, Delta: delta, Quantity: qty, Reason: ReasonManualAdjust})
	return qty, nil
}

// ListMovements returns the most recent movements of sku, newest first.
func (m *Manager) ListMovements(ctx context.Context, sku string, limit int) (ms []StockMovement, err error) {
	ctx, span := m.start(ctx, "orders.ListMovements", attribute.String("sku", sku))
	defer func() { endSpan(span, err) }()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	err = m.coord.Read(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ProductBySKU(ctx, sku); err != nil {
			return err
		}
		ms, err = tx.Movements(ctx, sku, limit)
		return err
	})
	return ms, err
}

// CreateOrder inserts a PENDING order with its items.
func (m *Manager) CreateOrder(ctx context.Context, items []ItemInput) (orderID string, err error) {
	ctx, span := m.start(ctx, "orders.CreateOrder", attribute.Int("items", len(items)))
	defer func() { endSpan(span, err) }()

	if len(items) == 0 {
		return "", fmt.Errorf("%w: order needs at least one item", ErrInvalidInput)
	}
	skus := make([]string, 0, len(items))
	for _, it := range items {
		if it.Qty <= 0 || it.Qty > MaxQuantity {
			return "", fmt.Errorf("%w: qty for sku %s must be > 0, got %d", ErrInvalidQuantity, it.SKU, it.Qty)
		}
		skus = append(skus, it.SKU)
	}

	now := m.now()
	o := Order{ID: uuid.NewString(), Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	rows := make([]OrderItem, 0, len(items))
	for _, it := range items {
		rows = append(rows, OrderItem{OrderID: o.ID, SKU: it.SKU, Qty: it.Qty})
	}

	err = m.coord.Run(ctx, "", func(ctx context.Context, u *Unit, _ Order) error {
		for _, sku := range SortedSKUs(skus) {
			if _, err := u.ProductBySKU(ctx, sku); err != nil {
				return err
			}
		}
		return u.InsertOrder(ctx, o, rows)
	})
	if err != nil {
		return "", err
	}
	m.logger.Info("order created", zap.String("order_id", o.ID), zap.Int("items", len(rows)))
	m.publish(ctx, EventOrderCreated, o.ID, OrderCreatedPayload{OrderID: o.ID, Items: items})
	return o.ID, nil
}

// GetOrder returns the order with its items and every reservation, active or released.
func (m *Manager) GetOrder(ctx context.Context, orderID string) (v OrderView, err error) {
	ctx, span := m.start(ctx, "orders.GetOrder", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if orderID, err = ParseOrderID(orderID); err != nil {
		return OrderView{}, err
	}
	err = m.coord.Read(ctx, func(ctx context.Context, tx Tx) error {
		if v.Order, err = tx.Order(ctx, orderID); err != nil {
			return err
		}
		if v.Items, err = tx.Items(ctx, orderID); err != nil {
			return err
		}
		v.Reservations, err = tx.Reservations(ctx, orderID, false)
		return err
	})
	return v, err
}

// ReserveForOrder moves a PENDING order to RESERVED, holding every item's
// quantity. If any SKU cannot cover its item nothing changes and the error
// names the first such SKU in ascending order.
func (m *Manager) ReserveForOrder(ctx context.Context, orderID string) (ids []string, err error) {
	ctx, span := m.start(ctx, "orders.ReserveForOrder", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if orderID, err = ParseOrderID(orderID); err != nil {
		return nil, err
	}
	err = m.coord.Run(ctx, orderID, func(ctx context.Context, u *Unit, o Order) error {
		if err := transition(o, StatusReserved); err != nil {
			return err
		}
		items, err := u.Items(ctx, orderID)
		if err != nil {
			return err
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })

		skus := make([]string, 0, len(items))
		for _, it := range items {
			skus = append(skus, it.SKU)
		}
		if err := u.LockSKUs(ctx, skus...); err != nil {
			return err
		}

		ids = make([]string, 0, len(items))
		for _, it := range items {
			if _, err := m.ledger.Adjust(ctx, u, it.SKU, -it.Qty, ReasonReserve, MovementRef{OrderID: orderID}); err != nil {
				return err
			}
			id, err := m.reservations.Create(ctx, u, orderID, it.SKU, it.Qty)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return u.SetOrderStatus(ctx, orderID, StatusReserved, m.now())
	})
	if err != nil {
		var ise *InsufficientStockError
		if errors.As(err, &ise) {
			m.logger.Info("reservation rejected", zap.String("order_id", orderID), zap.String("sku", ise.SKU),
				zap.Int("requested", ise.Requested), zap.Int("available", ise.Available))
		}
		return nil, err
	}
	m.logger.Info("order reserved", zap.String("order_id", orderID), zap.Int("reservations", len(ids)))
	m.publish(ctx, EventOrderReserved, orderID, OrderTransitionPayload{OrderID: orderID, From: StatusPending, To: StatusReserved, Reservations: ids})
	return ids, nil
}

// MarkPaid moves a RESERVED order to PAID. Held units are consumed: the
// reservations are released and no stock is restored.
func (m *Manager) MarkPaid(ctx context.Context, orderID string) (err error) {
	ctx, span := m.start(ctx, "orders.MarkPaid", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if orderID, err = ParseOrderID(orderID); err != nil {
		return err
	}
	var released []string
	err = m.coord.Run(ctx, orderID, func(ctx context.Context, u *Unit, o Order) error {
		if err := transition(o, StatusPaid); err != nil {
			return err
		}
		active, err := m.reservations.ListActive(ctx, u, orderID)
		if err != nil {
			return err
		}
		for _, r := range active {
			if err := m.ledger.RecordFulfillment(ctx, u, r.SKU, orderID, r.Qty); err != nil {
				return err
			}
			if err := m.reservations.Release(ctx, u, r.ID); err != nil {
				return err
			}
			released = append(released, r.ID)
		}
		return u.SetOrderStatus(ctx, orderID, StatusPaid, m.now())
	})
	if err != nil {
		return err
	}
	m.logger.Info("order paid", zap.String("order_id", orderID), zap.Int("consumed", len(released)))
	m.publish(ctx, EventOrderPaid, orderID, OrderTransitionPayload{OrderID: orderID, From: StatusReserved, To: StatusPaid, Reservations: released})
	return nil
}

// MarkFailed moves a RESERVED order to FAILED and returns its held stock.
func (m *Manager) MarkFailed(ctx context.Context, orderID string) error {
	return m.releaseAndClose(ctx, "orders.MarkFailed", orderID, StatusFailed, EventOrderFailed)
}

// CancelOrder moves a PENDING or RESERVED order to CANCELLED and returns
// any held stock.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	return m.releaseAndClose(ctx, "orders.CancelOrder", orderID, StatusCancelled, EventOrderCancelled)
}

func (m *Manager) releaseAndClose(ctx context.Context, op, orderID string, to Status, event string) (err error) {
	ctx, span := m.start(ctx, op, attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if orderID, err = ParseOrderID(orderID); err != nil {
		return err
	}
	var (
		from     Status
		released []string
	)
	err = m.coord.Run(ctx, orderID, func(ctx context.Context, u *Unit, o Order) error {
		if err := transition(o, to); err != nil {
			return err
		}
		from = o.Status
		active, err := m.reservations.ListActive(ctx, u, orderID)
		if err != nil {
			return err
		}
		sort.SliceStable(active, func(i, j int) bool { return active[i].SKU < active[j].SKU })

		skus := make([]string, 0, len(active))
		for _, r := range active {
			skus = append(skus, r.SKU)
		}
		if err := u.LockSKUs(ctx, skus...); err != nil {
			return err
		}
		for _, r := range active {
			if _, err := m.ledger.Adjust(ctx, u, r.SKU, r.Qty, ReasonRelease, MovementRef{OrderID: orderID}); err != nil {
				return err
			}
			if err := m.reservations.Release(ctx, u, r.ID); err != nil {
				return err
			}
			released = append(released, r.ID)
		}
		return u.SetOrderStatus(ctx, orderID, to, m.now())
	})
	if err != nil {
		return err
	}
	m.logger.Info("order closed", zap.String("order_id", orderID), zap.String("status", string(to)), zap.Int("released", len(released)))
	m.publish(ctx, event, orderID, OrderTransitionPayload{OrderID: orderID, From: from, To: to, Reservations: released})
	return nil
}

func transition(o Order, to Status) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: order %s is %s, cannot become %s", ErrInvalidTransition, o.ID, o.Status, to)
	}
	return nil
}

// ParseOrderID returns the canonical lowercase form of an order id. Any
// spelling uuid.Parse accepts maps to the same order; anything else is NotFound.
func ParseOrderID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: order %q", ErrNotFound, id)
	}
	return u.String(), nil
}

func (m *Manager) publish(ctx context.Context, eventType, correlationID string, payload any) {
	if m.publisher == nil {
		return
	}
	env, err := NewEnvelope(eventType, m.producer, correlationID, payload)
	if err != nil {
		m.logger.Error("encode event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	m.publisher.Publish(ctx, env)
}

func (m *Manager) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
	}
	span.End()
}
