package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/stockd/internal/orders"
)

// OrderCache keeps read-through copies of order views. It is also an
// orders.Publisher: every committed transition bumps the order's generation
// and evicts its entry. A view is only stored if the generation it was read
// under is still current, so a read that raced a transition is dropped.
type OrderCache struct {
	Redis  *redis.Client
	Logger *zap.Logger
}

func (c *OrderCache) Get(ctx context.Context, orderID string) (orders.OrderView, bool) {
	var v orders.OrderView
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderView, orderID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log().Warn("order cache get", zap.String("order_id", orderID), zap.Error(err))
		}
		return v, false
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false
	}
	return v, true
}

// Generation returns the order's current generation. Read it before loading
// the view from the store and pass it to Set.
func (c *OrderCache) Generation(ctx context.Context, orderID string) (int64, error) {
	n, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderGen, orderID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// KEYS[1] generation, KEYS[2] view; ARGV: expected generation, view, ttl ms
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Set stores v if no transition happened since gen was read. It reports
// whether the view was stored.
func (c *OrderCache) Set(ctx context.Context, v orders.OrderView, gen int64) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	keys := []string{fmt.Sprintf(KeyOrderGen, v.ID), fmt.Sprintf(KeyOrderView, v.ID)}
	n, err := setIfGeneration.Run(ctx, c.Redis, keys, strconv.FormatInt(gen, 10), b, TTLOrderView.Milliseconds()).Int()
	if err != nil {
		c.log().Warn("order cache set", zap.String("order_id", v.ID), zap.Error(err))
		return false
	}
	return n == 1
}

// Publish bumps the generation of the order an event belongs to and evicts
// its cached view.
func (c *OrderCache) Publish(ctx context.Context, env orders.Envelope) {
	if env.EventType == orders.EventStockAdjusted || env.CorrelationID == "" {
		return
	}
	genKey := fmt.Sprintf(KeyOrderGen, env.CorrelationID)
	_, err := c.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, TTLOrderGen)
		p.Del(ctx, fmt.Sprintf(KeyOrderView, env.CorrelationID))
		return nil
	})
	if err != nil {
		c.log().Warn("order cache evict", zap.String("order_id", env.CorrelationID), zap.Error(err))
	}
}

func (c *OrderCache) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
