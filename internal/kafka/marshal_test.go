package kafka

import (
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/stockd/internal/orders"
)

func TestEnvelopePayloadRoundTrip(t *testing.T) {
	env, err := orders.NewEnvelope(orders.EventPaymentFailed, "payments", "order-1",
		orders.PaymentFailedPayload{OrderID: "order-1", Reason: "INSUFFICIENT_FUNDS"})
	require.NoError(t, err)

	got, err := UnmarshalEnvelope(MustMarshal(env))
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, 1, got.EventVersion)

	p, err := UnwrapPayload[orders.PaymentFailedPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "INSUFFICIENT_FUNDS", p.Reason)
}

func TestUnmarshalEnvelope_Garbage(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestSlotIsStablePerKey(t *testing.T) {
	key := []byte("5f0c6e1e-8a4e-4d59-9f0e-0d7a1c2b3c4d")
	first := Slot(key, 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Slot(key, 8))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)
	assert.Equal(t, 0, Slot(key, 1))
}

func TestPartitionMessagesShareWorker(t *testing.T) {
	const workers = 8
	a := kafkago.Message{Topic: orders.TopicPaymentAuthorized, Partition: 3, Offset: 10, Key: []byte("order-a")}
	b := kafkago.Message{Topic: orders.TopicPaymentAuthorized, Partition: 3, Offset: 11, Key: []byte("order-b")}
	assert.Equal(t, Slot(dispatchKey(a), workers), Slot(dispatchKey(b), workers))
	assert.Equal(t, []byte("order.payment.authorized/3"), dispatchKey(a))

	other := kafkago.Message{Topic: orders.TopicPaymentFailed, Partition: 3}
	assert.NotEqual(t, dispatchKey(a), dispatchKey(other))
}

func TestEventHeaders(t *testing.T) {
	h := EventHeaders(orders.Envelope{EventType: orders.EventOrderPaid})
	require.Len(t, h, 2)
	assert.Equal(t, "x-event-type", h[0].Key)
	assert.Equal(t, []byte(orders.EventOrderPaid), h[0].Value)
}
