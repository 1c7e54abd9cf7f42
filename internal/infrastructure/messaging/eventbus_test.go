package messaging

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	var typed, all int32
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(shared.Event) error {
		atomic.AddInt32(&typed, 1)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		atomic.AddInt32(&all, 1)
		return errors.New("audit sink down")
	}))
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(shared.Event) error {
		panic("boom")
	}))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("ana", 125, 125, "CHECK_IN")))
	require.NoError(t, bus.Publish(shared.NewGameStateRepairedEvent("ana", 1, 0, 125)))

	assert.Equal(t, int32(1), typed)
	assert.Equal(t, int32(2), all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Published[shared.EventXPAwarded])
	assert.Equal(t, int64(4), snap.HandlerExecutions)
	assert.Equal(t, int64(3), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled int32
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(shared.Event) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("ana", 10, 10*(i+1), "CHECK_IN")))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), atomic.LoadInt32(&handled))

	assert.ErrorIs(t, bus.Publish(shared.NewXPAwardedEvent("ana", 10, 60, "CHECK_IN")), ErrEventBusClosed)
}
