package orders

import "time"

// MaxQuantity is the largest quantity a stock row may hold.
const MaxQuantity = 1<<31 - 1

type Product struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Stock is the single quantity row of a product.
type Stock struct {
	ProductID int64     `json:"product_id"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockMovement is an append-only audit record of one quantity change.
type StockMovement struct {
	ID        int64          `json:"id"`
	ProductID int64          `json:"product_id"`
	SKU       string         `json:"sku"`
	Delta     int            `json:"delta"`
	Reason    MovementReason `json:"reason"`
	OrderID   string         `json:"order_id,omitempty"`
	Note      string         `json:"note,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Order struct {
	ID        string    `json:"order_id"`
	Status    Status    `json:"status"` // lihat status.go
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderItem struct {
	OrderID string `json:"-"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

// Reservation holds Qty units of SKU for an order. ReleasedAt is nil while Active.
type Reservation struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"order_id"`
	SKU        string     `json:"sku"`
	Qty        int        `json:"qty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at"`
}

// OrderView is the read model returned by GetOrder.
type OrderView struct {
	Order
	Items        []OrderItem   `json:"items"`
	Reservations []Reservation `json:"reservations"`
}

// ItemInput is one requested line of a new order.
type ItemInput struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}
