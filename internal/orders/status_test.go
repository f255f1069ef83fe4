package orders

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusReserved, StatusPaid, StatusFailed, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusReserved}:   true,
		{StatusPending, StatusCancelled}:  true,
		{StatusReserved, StatusPaid}:      true,
		{StatusReserved, StatusFailed}:    true,
		{StatusReserved, StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("SHIPPED", StatusPaid))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusReserved.Terminal())
	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, Status("SHIPPED").Terminal())
	assert.False(t, Status("SHIPPED").Valid())
}

func TestKind(t *testing.T) {
	ise := &InsufficientStockError{SKU: "A", Requested: 3, Available: 1}
	assert.Equal(t, "insufficient_stock", Kind(ise))
	assert.Equal(t, "sku A insufficient: requested 3, available 1", ise.Error())
	assert.Equal(t, "not_found", Kind(wrap(ErrNotFound)))
	assert.Equal(t, "lock_timeout", Kind(wrap(ErrLockTimeout)))
	assert.Equal(t, "internal", Kind(assert.AnError))
	assert.True(t, Retryable(wrap(ErrLockTimeout)))
	assert.False(t, Retryable(ise))
}

func TestSortedSKUs(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, SortedSKUs([]string{"C", "A", "B", "A"}))
	assert.Empty(t, SortedSKUs(nil))
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, TopicOrderReserved, TopicFor(EventOrderReserved))
	assert.Equal(t, TopicPaymentAuthorized, TopicFor(EventPaymentAuthorized))
	assert.Equal(t, "", TopicFor("Nope"))
}

func wrap(err error) error { return fmt.Errorf("ctx: %w", err) }
