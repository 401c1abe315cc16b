package events

import (
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPubSubBus(t *testing.T, local *EventBus) *PubSubEventBus {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	bus, err := NewPubSubEventBus("test-project", "settlements", local, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

// Stream consumers subscribe to the process-wide bus. An Emit through the
// Pub/Sub wrapper must reach them, not a private bus nobody can see.
func TestPubSubEventBusFansOutToLocalSubscribers(t *testing.T) {
	local := NewEventBus()
	ch := local.Subscribe(EventEscrowCompleted)

	bus := newTestPubSubBus(t, local)
	require.Same(t, local, bus.EventBus)

	bus.Emit(EventEscrowCompleted, "escrow", "esc-1", map[string]interface{}{"amount": 100})

	select {
	case ev := <-ch:
		assert.Equal(t, EventEscrowCompleted, ev.Type)
		assert.Equal(t, "esc-1", ev.Subject)
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the local subscriber")
	}
}

func TestPubSubEventBusNilLocalGetsPrivateBus(t *testing.T) {
	bus := newTestPubSubBus(t, nil)
	require.NotNil(t, bus.EventBus)

	ch := bus.Subscribe()
	bus.Emit(EventTrustChanged, "reputation", "agent-a", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, EventTrustChanged, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the subscriber")
	}
}
