package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudEventEnvelope(t *testing.T) {
	ev := NewCloudEvent(EventEscrowCompleted, "/amx/settlement", "esc-1", map[string]interface{}{
		"amount": 1000,
	})

	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.Equal(t, EventEscrowCompleted, ev.Type)
	assert.Equal(t, "esc-1", ev.Subject)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Time.IsZero())

	raw, err := ev.JSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "1.0", decoded["specversion"])
}

func TestSSEFormat(t *testing.T) {
	ev := NewCloudEvent(EventTrustChanged, "/amx/reputation", "agent-a", nil)
	frame, err := ev.SSEFormat()
	require.NoError(t, err)

	text := string(frame)
	assert.True(t, strings.HasPrefix(text, "event: trust.changed\n"))
	assert.Contains(t, text, "data: {")
	assert.Contains(t, text, "id: "+ev.ID)
	assert.True(t, strings.HasSuffix(text, "\n\n"))
}

func TestBusTypedSubscription(t *testing.T) {
	bus := NewEventBus()
	funded := bus.Subscribe(EventEscrowFunded)
	trust := bus.Subscribe(EventTrustChanged)

	bus.Emit(EventEscrowFunded, "/amx/settlement", "esc-1", nil)

	select {
	case ev := <-funded:
		assert.Equal(t, EventEscrowFunded, ev.Type)
	default:
		t.Fatal("typed subscriber missed its event")
	}

	select {
	case <-trust:
		t.Fatal("subscriber received a foreign event type")
	default:
	}
}

func TestBusWildcardSubscription(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe()

	bus.Emit(EventEscrowFunded, "/amx/settlement", "esc-1", nil)
	bus.Emit(EventTierChanged, "/amx/staking", "agent-a", nil)

	assert.Len(t, all, 2)
}

func TestBusUnsubscribeCloses(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(EventEscrowFunded)
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Emit(EventEscrowFunded, "/amx/settlement", "esc-1", nil)
}

func TestBusSlowSubscriberSkipped(t *testing.T) {
	bus := NewEventBus()
	bus.bufferSize = 1
	ch := bus.Subscribe(EventEscrowFunded)

	bus.Emit(EventEscrowFunded, "/amx/settlement", "esc-1", nil)
	// Buffer full: the second publish is dropped for this subscriber, not
	// blocked on.
	bus.Emit(EventEscrowFunded, "/amx/settlement", "esc-2", nil)

	assert.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, "esc-1", ev.Subject)
}
