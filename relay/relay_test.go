package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/eventlog"
	"github.com/playvault/gamestore/eventlog/memory"
)

// capturePublisher records published messages and can be told to fail.
type capturePublisher struct {
	mu       sync.Mutex
	messages []Message
	batches  int
	fail     error
}

func (p *capturePublisher) Publish(_ context.Context, messages []Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.messages = append(p.messages, messages...)
	p.batches++
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) published() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *capturePublisher) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func appendEvents(t *testing.T, adapter *memory.Adapter, streamID string, types ...string) {
	t.Helper()
	records := make([]eventlog.EventRecord, len(types))
	for i, typ := range types {
		records[i] = eventlog.EventRecord{
			Type:     typ,
			Data:     []byte(`{}`),
			Metadata: map[string]string{"correlationId": "req-1"},
		}
	}
	_, err := adapter.Append(context.Background(), streamID, records, eventlog.AnyVersion)
	require.NoError(t, err)
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("relays events with derived topics and keys", func(t *testing.T) {
		adapter := memory.NewAdapter()
		publisher := &capturePublisher{}
		relay := New(adapter, publisher)

		appendEvents(t, adapter, "game-1", "GameCreated")
		appendEvents(t, adapter, "order-7", "OrderCreated", "OrderCompleted")

		require.NoError(t, relay.Drain(ctx))

		msgs := publisher.published()
		require.Len(t, msgs, 3)
		assert.Equal(t, "gamestore.game", msgs[0].Topic)
		assert.Equal(t, "game-1", msgs[0].Key)
		assert.Equal(t, "GameCreated", msgs[0].Type)
		assert.Equal(t, "req-1", msgs[0].Headers["correlationId"])
		assert.Equal(t, "gamestore.order", msgs[1].Topic)
		assert.Equal(t, "order-7", msgs[2].Key)
	})

	t.Run("advances the checkpoint and never re-delivers", func(t *testing.T) {
		adapter := memory.NewAdapter()
		publisher := &capturePublisher{}
		relay := New(adapter, publisher)

		appendEvents(t, adapter, "game-1", "GameCreated")
		require.NoError(t, relay.Drain(ctx))
		require.NoError(t, relay.Drain(ctx))
		assert.Len(t, publisher.published(), 1)

		appendEvents(t, adapter, "game-1", "GamePurchased")
		require.NoError(t, relay.Drain(ctx))

		msgs := publisher.published()
		require.Len(t, msgs, 2)
		assert.Equal(t, "GamePurchased", msgs[1].Type)
	})

	t.Run("catches up in batches", func(t *testing.T) {
		adapter := memory.NewAdapter()
		publisher := &capturePublisher{}
		relay := New(adapter, publisher, WithBatchSize(2))

		for i := 0; i < 5; i++ {
			appendEvents(t, adapter, "game-1", "GamePurchased")
		}
		require.NoError(t, relay.Drain(ctx))

		assert.Len(t, publisher.published(), 5)
		assert.Equal(t, 3, publisher.batches)

		pos, err := adapter.GetCheckpoint(ctx, DefaultCheckpoint)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), pos)
	})

	t.Run("publish failure keeps the checkpoint for redelivery", func(t *testing.T) {
		adapter := memory.NewAdapter()
		publisher := &capturePublisher{}
		relay := New(adapter, publisher)

		appendEvents(t, adapter, "game-1", "GameCreated")
		publisher.setFail(errors.New("broker unavailable"))

		err := relay.Drain(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, gamestore.ErrInfrastructure))

		pos, err := adapter.GetCheckpoint(ctx, DefaultCheckpoint)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), pos)

		publisher.setFail(nil)
		require.NoError(t, relay.Drain(ctx))
		assert.Len(t, publisher.published(), 1)
	})

	t.Run("custom prefix and checkpoint name", func(t *testing.T) {
		adapter := memory.NewAdapter()
		publisher := &capturePublisher{}
		relay := New(adapter, publisher,
			WithTopicPrefix("store-events"),
			WithCheckpointName("relay-secondary"),
		)

		appendEvents(t, adapter, "game-1", "GameCreated")
		require.NoError(t, relay.Drain(ctx))

		msgs := publisher.published()
		require.Len(t, msgs, 1)
		assert.Equal(t, "store-events.game", msgs[0].Topic)

		pos, err := adapter.GetCheckpoint(ctx, "relay-secondary")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), pos)
	})
}

func TestRelay_StartStop(t *testing.T) {
	ctx := context.Background()
	adapter := memory.NewAdapter()
	publisher := &capturePublisher{}
	relay := New(adapter, publisher, WithPollInterval(10*time.Millisecond))

	appendEvents(t, adapter, "game-1", "GameCreated")

	require.NoError(t, relay.Start(ctx))
	assert.True(t, relay.IsRunning())

	// Starting twice is a no-op.
	require.NoError(t, relay.Start(ctx))

	require.Eventually(t, func() bool {
		return len(publisher.published()) == 1
	}, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, relay.Stop(stopCtx))
	assert.False(t, relay.IsRunning())

	// Stopping again is a no-op.
	require.NoError(t, relay.Stop(stopCtx))
}
