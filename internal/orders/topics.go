package orders

const (
	TopicOrderCreated      = "order.created"
	TopicOrderReserved     = "order.reserved"
	TopicOrderPaid         = "order.paid"
	TopicOrderFailed       = "order.failed"
	TopicOrderCancelled    = "order.cancelled"
	TopicStockAdjusted     = "stock.adjusted"
	TopicPaymentAuthorized = "order.payment.authorized"
	TopicPaymentFailed     = "order.payment.failed"
)

var topicByEvent = map[string]string{
	EventOrderCreated:      TopicOrderCreated,
	EventOrderReserved:     TopicOrderReserved,
	EventOrderPaid:         TopicOrderPaid,
	EventOrderFailed:       TopicOrderFailed,
	EventOrderCancelled:    TopicOrderCancelled,
	EventStockAdjusted:     TopicStockAdjusted,
	EventPaymentAuthorized: TopicPaymentAuthorized,
	EventPaymentFailed:     TopicPaymentFailed,
}

// TopicFor returns the topic an event type is published on, or "" if unknown.
func TopicFor(eventType string) string { return topicByEvent[eventType] }

// Partition key = correlation id, supaya semua event 1 order maintain urutan.
func PartitionKey(id string) []byte { return []byte(id) }
