package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())

	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Broadcast(domain.StateChange{ID: "c1", Version: 1})

	assert.Equal(t, "c1", (<-ch1).ID)
	assert.Equal(t, "c1", (<-ch2).ID)
}

func TestBroadcastPrunesFullSubscriber(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())

	slowID, slow := b.Subscribe()
	_, healthy := b.Subscribe()

	// Fill both buffers, then drain only the healthy subscriber.
	b.Broadcast(domain.StateChange{ID: "c1", Version: 1})
	assert.Equal(t, "c1", (<-healthy).ID)

	// The second broadcast overflows the slow subscriber only.
	b.Broadcast(domain.StateChange{ID: "c2", Version: 2})

	assert.Equal(t, 1, b.Count())
	assert.ErrorIs(t, b.Unsubscribe(slowID), domain.ErrSubscriptionNotFound)

	// The dropped channel is closed after its buffered delivery.
	first, ok := <-slow
	require.True(t, ok)
	assert.Equal(t, "c1", first.ID)
	_, ok = <-slow
	assert.False(t, ok)

	assert.Equal(t, "c2", (<-healthy).ID)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())

	id, ch := b.Subscribe()
	require.NoError(t, b.Unsubscribe(id))

	_, ok := <-ch
	assert.False(t, ok)

	assert.ErrorIs(t, b.Unsubscribe(id), domain.ErrSubscriptionNotFound)
	assert.ErrorIs(t, b.Unsubscribe("nope"), domain.ErrSubscriptionNotFound)
}

func TestClose(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())
	b.Subscribe()
	b.Subscribe()

	b.Close()
	assert.Equal(t, 0, b.Count())
}
