// Package payments settles reserved orders from payment-provider events:
// an authorized payment marks the order PAID, a failed one marks it FAILED.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/stockd/internal/kafka"
	"github.com/ariefcatur/stockd/internal/orders"
	"github.com/ariefcatur/stockd/internal/redisx"
)

// Settler is the part of orders.Manager this service drives.
type Settler interface {
	MarkPaid(ctx context.Context, orderID string) error
	MarkFailed(ctx context.Context, orderID string) error
}

type Service struct {
	Orders Settler
	Redis  *redis.Client // nil -> tanpa dedup
	Logger *zap.Logger
	Name   string
}

// Topics lists what the service consumes.
var Topics = []string{orders.TopicPaymentAuthorized, orders.TopicPaymentFailed}

// HandlePayment is installed as the consumer handler. It returns an error
// only when the event should be retried.
func (s *Service) HandlePayment(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.log().Error("drop undecodable message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	if s.Redis != nil {
		if seen, err := redisx.Exists(ctx, s.Redis, dkey); err == nil && seen {
			return nil
		}
	}

	var orderID string
	switch env.EventType {
	case orders.EventPaymentAuthorized:
		p, err := kafkax.UnwrapPayload[orders.PaymentAuthorizedPayload](env.Payload)
		if err != nil {
			s.log().Error("drop payment event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		orderID = p.OrderID
		err = s.Orders.MarkPaid(ctx, orderID)
		if err = s.settle(env, orderID, err); err != nil {
			return err
		}
	case orders.EventPaymentFailed:
		p, err := kafkax.UnwrapPayload[orders.PaymentFailedPayload](env.Payload)
		if err != nil {
			s.log().Error("drop payment event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		orderID = p.OrderID
		err = s.Orders.MarkFailed(ctx, orderID)
		if err = s.settle(env, orderID, err); err != nil {
			return err
		}
	default:
		return nil // ignore
	}

	if s.Redis != nil {
		if err := s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
			s.log().Warn("dedup mark", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
	return nil
}

// settle decides what a transition error means for the message: retry on
// lock contention or infrastructure trouble, acknowledge everything else.
func (s *Service) settle(env orders.Envelope, orderID string, err error) error {
	fields := []zap.Field{zap.String("event_id", env.EventID), zap.String("event_type", env.EventType), zap.String("order_id", orderID)}
	switch {
	case err == nil:
		s.log().Info("payment settled", fields...)
		return nil
	case orders.Retryable(err):
		return err
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrNotFound):
		// redelivery of an applied event, or an order this engine never saw
		s.log().Warn("payment event not applicable", append(fields, zap.Error(err))...)
		return nil
	default:
		return err
	}
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
