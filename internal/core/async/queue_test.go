package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsSubmittedTasks(t *testing.T) {
	q := NewQueue(WithWorkers(2), WithQueueSize(8))
	q.Start(context.Background())

	var done sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		done.Add(1)
		require.NoError(t, q.Submit(func(context.Context) {
			count.Add(1)
			done.Done()
		}))
	}
	done.Wait()
	q.Stop()
	assert.Equal(t, int32(5), count.Load())
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(WithWorkers(1), WithQueueSize(1))
	// Not started: nothing drains the buffer.
	require.NoError(t, q.Submit(func(context.Context) {}))
	assert.ErrorIs(t, q.Submit(func(context.Context) {}), ErrQueueFull)
}

func TestQueueTaskTimeout(t *testing.T) {
	q := NewQueue(WithWorkers(1), WithQueueSize(1), WithProcessTimeout(20*time.Millisecond))
	q.Start(context.Background())

	expired := make(chan bool, 1)
	require.NoError(t, q.Submit(func(ctx context.Context) {
		select {
		case <-ctx.Done():
			expired <- true
		case <-time.After(2 * time.Second):
			expired <- false
		}
	}))
	select {
	case ok := <-expired:
		assert.True(t, ok, "task context should expire")
	case <-time.After(5 * time.Second):
		t.Fatal("task never observed its deadline")
	}
	q.Stop()
}

func TestQueueRecoversFromPanic(t *testing.T) {
	q := NewQueue(WithWorkers(1), WithQueueSize(4))
	q.Start(context.Background())

	ran := make(chan struct{})
	require.NoError(t, q.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, q.Submit(func(context.Context) { close(ran) }))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("worker died after panic")
	}
	q.Stop()
}

func TestQueueStopRejectsNewWork(t *testing.T) {
	q := NewQueue(WithWorkers(1))
	q.Start(context.Background())
	q.Stop()
	assert.Error(t, q.Submit(func(context.Context) {}))
}
