package signals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amx/backend/internal/core"
)

type recordingSink struct {
	mu      sync.Mutex
	applied []core.Signal
	fail    int // fail this many calls before succeeding
}

func (s *recordingSink) ApplyJobSignal(_ context.Context, sig core.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("sink unavailable")
	}
	s.applied = append(s.applied, sig)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func testSignal(id string) core.Signal {
	return core.Signal{
		Identity:       "provider-1",
		Type:           core.SignalJobCompleted,
		Magnitude:      1,
		SourceEscrowID: id,
	}
}

func TestDedupeKey(t *testing.T) {
	sig := testSignal("esc-1")
	assert.Equal(t, "esc-1:job.completed", DedupeKey(sig))

	// Same escrow, different type: distinct deliveries.
	other := sig
	other.Type = core.SignalJobNeutral
	assert.NotEqual(t, DedupeKey(sig), DedupeKey(other))
}

func TestDeliverIdempotent(t *testing.T) {
	sink := &recordingSink{}
	d := NewDeliverer(sink, NewMemoryDedupe(), 1, 1)
	defer d.Shutdown()
	ctx := context.Background()

	sig := testSignal("esc-1")
	require.NoError(t, d.Deliver(ctx, sig))
	require.NoError(t, d.Deliver(ctx, sig))
	require.NoError(t, d.Deliver(ctx, sig))

	// At-least-once upstream, exactly-once at the sink.
	assert.Equal(t, 1, sink.count())
}

func TestDeliverFailureIsNotMarked(t *testing.T) {
	sink := &recordingSink{fail: 1}
	d := NewDeliverer(sink, NewMemoryDedupe(), 1, 1)
	defer d.Shutdown()
	ctx := context.Background()

	sig := testSignal("esc-1")
	assert.Error(t, d.Deliver(ctx, sig))

	// The failed attempt left no dedupe mark, so the retry lands.
	require.NoError(t, d.Deliver(ctx, sig))
	assert.Equal(t, 1, sink.count())
}

func TestConcurrentDeliverySingleApply(t *testing.T) {
	sink := &recordingSink{}
	d := NewDeliverer(sink, NewMemoryDedupe(), 1, 1)
	defer d.Shutdown()

	// Racing deliveries of the same key, as when a Cloud Tasks replay lands
	// while the local fallback is mid-flight. Exactly one may reach the sink.
	sig := testSignal("esc-1")
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d.Deliver(context.Background(), sig)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, sink.count())
}

func TestEnqueueAsyncDelivery(t *testing.T) {
	sink := &recordingSink{}
	d := NewDeliverer(sink, NewMemoryDedupe(), 2, 3)
	defer d.Shutdown()

	for i := 0; i < 5; i++ {
		d.Enqueue(testSignal("esc-1"))
	}
	d.Enqueue(testSignal("esc-2"))

	require.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueRetriesUntilSinkRecovers(t *testing.T) {
	sink := &recordingSink{fail: 2}
	d := NewDeliverer(sink, NewMemoryDedupe(), 1, 5)
	defer d.Shutdown()

	d.Enqueue(testSignal("esc-1"))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestMemoryDedupe(t *testing.T) {
	ledger := NewMemoryDedupe()
	ctx := context.Background()
	sig := testSignal("esc-1")

	done, err := ledger.Delivered(ctx, sig)
	require.NoError(t, err)
	assert.False(t, done)

	first, err := ledger.MarkDelivered(ctx, sig)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = ledger.MarkDelivered(ctx, sig)
	require.NoError(t, err)
	assert.False(t, first)

	done, err = ledger.Delivered(ctx, sig)
	require.NoError(t, err)
	assert.True(t, done)

	// Releasing the claim makes the key claimable again.
	require.NoError(t, ledger.Unmark(ctx, sig))
	first, err = ledger.MarkDelivered(ctx, sig)
	require.NoError(t, err)
	assert.True(t, first)
}
