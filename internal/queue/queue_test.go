package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New(1, 4)
	defer p.Close()

	require.NoError(t, p.Acquire(1))
	require.ErrorIs(t, p.Acquire(1), ErrBusy)

	// other users are unaffected
	require.NoError(t, p.Acquire(2))
	assert.Equal(t, 2, p.ActiveUsers())

	p.Release(1)
	require.NoError(t, p.Acquire(1))

	p.Release(1)
	p.Release(2)
	assert.Equal(t, 0, p.ActiveUsers())
}

func TestAcquire_Concurrent(t *testing.T) {
	p := New(1, 4)
	defer p.Close()

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Acquire(42) == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load(), "exactly one goroutine wins the slot")
}

func TestSubmit_RunsInArrivalOrder(t *testing.T) {
	p := New(1, 16)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, p.Submit(context.Background(), func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	p.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSubmit_ConcurrencyBounded(t *testing.T) {
	const workers = 2
	p := New(workers, 16)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			running.Add(-1)
		}))
	}
	wg.Wait()
	p.Close()

	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestSubmit_CanceledContext(t *testing.T) {
	p := New(1, 0)
	defer p.Close()

	// occupy the single worker so the unbuffered channel stays full
	blocker := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-blocker }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Submit(ctx, func() {})
	require.ErrorIs(t, err, context.Canceled)

	close(blocker)
}
