package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated      = "OrderCreated"
	EventOrderReserved     = "OrderReserved"
	EventOrderPaid         = "OrderPaid"
	EventOrderFailed       = "OrderFailed"
	EventOrderCancelled    = "OrderCancelled"
	EventStockAdjusted     = "StockAdjusted"
	EventPaymentAuthorized = "PaymentAuthorized"
	EventPaymentFailed     = "PaymentFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "stockd-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id atau sku
	Payload       json.RawMessage `json:"payload"`
}

// Publisher receives an envelope after the transition it describes has
// committed. Failures are the publisher's to log; they never undo a commit.
type Publisher interface {
	Publish(ctx context.Context, env Envelope)
}

// Publishers fans an envelope out to each publisher in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, env Envelope) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ctx, env)
		}
	}
}

// NewEnvelope wraps payload in a version-1 envelope.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// ---- Payload tipe per event ----

type OrderCreatedPayload struct {
	OrderID string      `json:"order_id"`
	Items   []ItemInput `json:"items"`
}

type OrderTransitionPayload struct {
	OrderID      string   `json:"order_id"`
	From         Status   `json:"from"`
	To           Status   `json:"to"`
	Reservations []string `json:"reservations,omitempty"`
}

type StockAdjustedPayload struct {
	SKU      string         `json:"sku"`
	Delta    int            `json:"delta"`
	Quantity int            `json:"quantity"`
	Reason   MovementReason `json:"reason"`
}

type PaymentAuthorizedPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

type PaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"` // e.g., INSUFFICIENT_FUNDS
}
