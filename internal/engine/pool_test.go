package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	p := newDispatchPool(2)
	defer p.Shutdown()

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(5), count.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := newDispatchPool(2)
	defer p.Shutdown()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolSubmitRespectsContext(t *testing.T) {
	p := newDispatchPool(1)
	defer p.Shutdown()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, func() {})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestPoolShutdownRejectsNewWork(t *testing.T) {
	p := newDispatchPool(1)
	p.Shutdown()

	err := p.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolShutdown)

	// Repeated shutdown is a no-op.
	p.Shutdown()
}

func TestPoolShutdownWaitsForActiveWork(t *testing.T) {
	p := newDispatchPool(1)

	var finished atomic.Bool
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}))

	<-started
	p.Shutdown()
	assert.True(t, finished.Load())
}
