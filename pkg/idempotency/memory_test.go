package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySeen(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Minute)

	seen, err := m.Seen(ctx, Key("notify", "evt-1"))
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = m.Seen(ctx, Key("notify", "evt-1"))
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Minute)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Claim(ctx, "settle:o-1", "tok", time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, winners.Load())
}

func TestMemoryReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Minute)

	ok, _ := m.Claim(ctx, "k", "a", time.Minute)
	require.True(t, ok)

	require.NoError(t, m.Release(ctx, "k", "b"))
	ok, _ = m.Claim(ctx, "k", "b", time.Minute)
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, "k", "a"))
	ok, _ = m.Claim(ctx, "k", "b", time.Minute)
	assert.True(t, ok)
}

func TestMemoryClaimExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }

	ok, _ := m.Claim(ctx, "k", "a", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = m.Claim(ctx, "k", "b", time.Second)
	assert.True(t, ok)
}
