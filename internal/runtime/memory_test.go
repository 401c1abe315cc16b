package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpdateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, err := store.Update(ctx, "acct:a", func(r Record) (Record, error) {
		r.Bytes = []byte("one")
		return r, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)

	rec, err = store.Update(ctx, "acct:a", func(r Record) (Record, error) {
		assert.Equal(t, []byte("one"), r.Bytes)
		r.Bytes = []byte("two")
		return r, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Version)

	got, err := store.Get(ctx, "acct:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got.Bytes)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFailedUpdateLeavesNoRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("rejected")
	_, err := store.Update(ctx, "acct:a", func(r Record) (Record, error) {
		return Record{}, boom
	})
	assert.ErrorIs(t, err, boom)

	// The key must still read as absent.
	_, err = store.Get(ctx, "acct:a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFailedUpdateKeepsExisting(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Update(ctx, "acct:a", func(r Record) (Record, error) {
		r.Bytes = []byte("keep")
		return r, nil
	})
	require.NoError(t, err)

	_, err = store.Update(ctx, "acct:a", func(r Record) (Record, error) {
		return Record{}, errors.New("rejected")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, "acct:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), got.Bytes)
	assert.Equal(t, uint64(1), got.Version)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Update(ctx, "acct:a", func(r Record) (Record, error) {
		r.Bytes = []byte("x")
		return r, nil
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "acct:a"))
	assert.ErrorIs(t, store.Delete(ctx, "acct:a"), ErrNotFound)
}

func TestMemoryStoreListKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"stake:a", "stake:b", "escrow:1"} {
		_, err := store.Update(ctx, key, func(r Record) (Record, error) {
			r.Bytes = []byte("v")
			return r, nil
		})
		require.NoError(t, err)
	}

	keys, err := store.ListKeys(ctx, "stake:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stake:a", "stake:b"}, keys)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Update(ctx, "acct:a", func(r Record) (Record, error) {
		r.Bytes = []byte("safe")
		return r, nil
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "acct:a")
	require.NoError(t, err)
	got.Bytes[0] = 'X'

	again, err := store.Get(ctx, "acct:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("safe"), again.Bytes)
}

func TestMemoryStoreSerializesPerKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const writers = 16
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.Update(ctx, "acct:hot", func(r Record) (Record, error) {
					// Read-modify-write on a counter; lost updates would
					// show as a short final count.
					var n int
					if len(r.Bytes) > 0 {
						fmt.Sscanf(string(r.Bytes), "%d", &n)
					}
					r.Bytes = []byte(fmt.Sprintf("%d", n+1))
					return r, nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "acct:hot")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", writers*perWriter), string(got.Bytes))
	assert.Equal(t, uint64(writers*perWriter), got.Version)
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := &FixedClock{T: start}
	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), clock.Now())
}
