package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish(New(OrderPlaced))

	assert.Equal(t, OrderPlaced, (<-a.C).Type)
	assert.Equal(t, OrderPlaced, (<-b.C).Type)
}

func TestPublish_DropsOldestWhenBufferFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(2)

	bus.Publish(New(OrderPlaced))
	bus.Publish(New(OrderFilled))
	bus.Publish(New(PositionOpened)) // displaces OrderPlaced

	assert.Equal(t, uint64(1), sub.Lagged())
	assert.Equal(t, OrderFilled, (<-sub.C).Type)
	assert.Equal(t, PositionOpened, (<-sub.C).Type)
}

func TestPublish_NeverBlocks(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(1)
	for i := 0; i < 1000; i++ {
		bus.Publish(New(BalanceUpdated))
	}
	assert.Equal(t, uint64(999), sub.Lagged())

	// The buffered event is the most recent one.
	assert.Equal(t, BalanceUpdated, (<-sub.C).Type)
}

func TestSubscriptionClose_StopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(4)
	sub.Close()
	bus.Publish(New(OrderPlaced))

	_, ok := <-sub.C
	assert.False(t, ok, "closed subscription channel must be drained and closed")
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)

	bus.Close()
	_, ok := <-sub.C
	require.False(t, ok)

	// Publish and a second Close are no-ops after shutdown.
	bus.Publish(New(OrderPlaced))
	bus.Close()

	late := bus.Subscribe(4)
	_, ok = <-late.C
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}
