package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	pool := New(2)
	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, pool.InUse())

	_, ok := pool.TryAcquire()
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	a.Release()
	c, ok := pool.TryAcquire()
	require.True(t, ok)
	c.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	pool := New(1)
	p, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()
	p.Release()
	require.Equal(t, 0, pool.InUse())

	// a double release must not create an extra slot
	_, ok := pool.TryAcquire()
	require.True(t, ok)
	_, ok = pool.TryAcquire()
	require.False(t, ok)
}

func TestNeverExceedsSize(t *testing.T) {
	pool := New(3)
	var active, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := pool.Acquire(context.Background())
			if err != nil {
				return
			}
			defer p.Release()
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int64(3))
	require.Equal(t, 0, pool.InUse())
}

func TestMinimumSize(t *testing.T) {
	require.Equal(t, 1, New(0).Size())
}
