package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_RunsAllTasks(t *testing.T) {
	pool := NewPool(4)
	defer pool.Shutdown()

	batch, err := pool.NewBatch(context.Background())
	require.NoError(t, err)

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		batch.Go(func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
	}

	require.NoError(t, batch.Wait())
	assert.Equal(t, int32(20), count.Load())
}

func TestBatch_RespectsWorkerLimit(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown()

	batch, err := pool.NewBatch(context.Background())
	require.NoError(t, err)

	var running, peak atomic.Int32
	for i := 0; i < 10; i++ {
		batch.Go(func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}

	require.NoError(t, batch.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBatch_GoBlocksAtWorkerLimit(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	batch, err := pool.NewBatch(context.Background())
	require.NoError(t, err)

	// Given: the only worker slot is taken
	release := make(chan struct{})
	batch.Go(func(ctx context.Context) error {
		<-release
		return nil
	})

	// When: scheduling another task
	var scheduled atomic.Bool
	go func() {
		batch.Go(func(ctx context.Context) error { return nil })
		scheduled.Store(true)
	}()

	// Then: Go waits for the slot instead of parking a goroutine
	assert.Never(t, scheduled.Load, 50*time.Millisecond, 5*time.Millisecond)
	close(release)
	assert.Eventually(t, scheduled.Load, time.Second, 5*time.Millisecond)
	require.NoError(t, batch.Wait())
}

func TestBatch_ReturnsFirstError(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	batch, err := pool.NewBatch(context.Background())
	require.NoError(t, err)

	boom := errors.New("boom")
	batch.Go(func(ctx context.Context) error { return boom })

	assert.ErrorIs(t, batch.Wait(), boom)
}

func TestBatch_RecoversPanics(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	batch, err := pool.NewBatch(context.Background())
	require.NoError(t, err)

	batch.Go(func(ctx context.Context) error { panic("bad task") })

	err = batch.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad task")
}

func TestSubmit_ShutdownWaitsForInflight(t *testing.T) {
	pool := NewPool(2)

	var done atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
		return nil
	}))

	require.NoError(t, pool.Shutdown())
	assert.True(t, done.Load())
}

func TestPool_RejectsAfterShutdown(t *testing.T) {
	pool := NewPool(1)
	require.NoError(t, pool.Shutdown())
	require.NoError(t, pool.Shutdown())

	_, err := pool.NewBatch(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, pool.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestNewPool_ClampsWorkers(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Workers())
	assert.Equal(t, 3, NewPool(3).Workers())
}

func TestBatch_ConcurrentBatchesShareLimit(t *testing.T) {
	pool := NewPool(3)
	defer pool.Shutdown()

	var wg sync.WaitGroup
	var total atomic.Int32
	for b := 0; b < 4; b++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := pool.NewBatch(context.Background())
			if err != nil {
				return
			}
			for i := 0; i < 5; i++ {
				batch.Go(func(ctx context.Context) error {
					total.Add(1)
					return nil
				})
			}
			_ = batch.Wait()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), total.Load())
}
