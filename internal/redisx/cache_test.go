package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/stockd/internal/orders"
)

func newCache(t *testing.T) (*OrderCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return &OrderCache{Redis: rdb}, mr
}

func TestOrderCache_SetGet(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	view := orders.OrderView{
		Order: orders.Order{ID: "5f0c6e1e-8a4e-4d59-9f0e-0d7a1c2b3c4d", Status: orders.StatusReserved, CreatedAt: now, UpdatedAt: now},
		Items: []orders.OrderItem{{SKU: "SKU-001", Qty: 5}},
		Reservations: []orders.Reservation{
			{ID: "r-1", OrderID: "5f0c6e1e-8a4e-4d59-9f0e-0d7a1c2b3c4d", SKU: "SKU-001", Qty: 5, Active: true, CreatedAt: now},
		},
	}

	_, ok := c.Get(ctx, view.ID)
	assert.False(t, ok)

	assert.True(t, c.Set(ctx, view, 0))
	assert.True(t, mr.Exists(fmt.Sprintf(KeyOrderView, view.ID)))
	assert.Equal(t, TTLOrderView, mr.TTL(fmt.Sprintf(KeyOrderView, view.ID)))

	got, ok := c.Get(ctx, view.ID)
	require.True(t, ok)
	assert.Equal(t, orders.StatusReserved, got.Status)
	assert.Equal(t, view.Items, got.Items)
	require.Len(t, got.Reservations, 1)
	assert.Nil(t, got.Reservations[0].ReleasedAt)
}

func TestOrderCache_PublishEvicts(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	id := "5f0c6e1e-8a4e-4d59-9f0e-0d7a1c2b3c4d"
	require.True(t, c.Set(ctx, orders.OrderView{Order: orders.Order{ID: id, Status: orders.StatusPending}}, 0))

	env, err := orders.NewEnvelope(orders.EventOrderReserved, "test", id, orders.OrderTransitionPayload{OrderID: id})
	require.NoError(t, err)
	c.Publish(ctx, env)

	assert.False(t, mr.Exists(fmt.Sprintf(KeyOrderView, id)))
	gen, err := c.Generation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Equal(t, TTLOrderGen, mr.TTL(fmt.Sprintf(KeyOrderGen, id)))
}

func TestOrderCache_StockEventsKeepEntries(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	id := "5f0c6e1e-8a4e-4d59-9f0e-0d7a1c2b3c4d"
	require.True(t, c.Set(ctx, orders.OrderView{Order: orders.Order{ID: id}}, 0))

	c.Publish(ctx, orders.Envelope{EventType: orders.EventStockAdjusted, CorrelationID: id})

	assert.True(t, mr.Exists(fmt.Sprintf(KeyOrderView, id)))
}

func TestOrderCache_SetAfterTransitionIsDropped(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	id := "5f0c6e1e-8a4e-4d59-9f0e-0d7a1c2b3c4d"

	// reader takes the generation and loads a PENDING view
	gen, err := c.Generation(ctx, id)
	require.NoError(t, err)
	stale := orders.OrderView{Order: orders.Order{ID: id, Status: orders.StatusPending}}

	// a transition commits before the reader writes back
	env, err := orders.NewEnvelope(orders.EventOrderReserved, "test", id, orders.OrderTransitionPayload{OrderID: id})
	require.NoError(t, err)
	c.Publish(ctx, env)

	assert.False(t, c.Set(ctx, stale, gen))
	assert.False(t, mr.Exists(fmt.Sprintf(KeyOrderView, id)))
	_, ok := c.Get(ctx, id)
	assert.False(t, ok)

	// a reader that started after the transition may cache
	gen, err = c.Generation(ctx, id)
	require.NoError(t, err)
	fresh := orders.OrderView{Order: orders.Order{ID: id, Status: orders.StatusReserved}}
	require.True(t, c.Set(ctx, fresh, gen))
	got, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, orders.StatusReserved, got.Status)
}
