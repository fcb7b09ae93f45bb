package embedding

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesTasks(t *testing.T) {
	var processed atomic.Int64
	done := make(chan struct{}, 3)

	q := NewQueue(func(ctx context.Context, task Task) {
		processed.Add(1)
		done <- struct{}{}
	})
	q.Start()
	defer q.Stop()

	for i := int64(1); i <= 3; i++ {
		q.Enqueue(Task{ObservationID: i, Text: "embed me"})
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("queue did not process all tasks")
		}
	}
	assert.Equal(t, int64(3), processed.Load())
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	// The worker is never started, so everything stays buffered.
	q := NewQueue(func(ctx context.Context, task Task) {})

	for i := int64(0); i < QueueCapacity+10; i++ {
		q.Enqueue(Task{ObservationID: i})
	}
	assert.Equal(t, QueueCapacity, q.Pending())

	// The oldest tasks were evicted; the head of the queue moved forward.
	first := <-q.tasks
	assert.Equal(t, int64(10), first.ObservationID)
}

func TestQueueStopWithoutStart(t *testing.T) {
	q := NewQueue(func(ctx context.Context, task Task) {})

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop hung on a queue that was never started")
	}
}

func TestQueueStopIsIdempotent(t *testing.T) {
	q := NewQueue(func(ctx context.Context, task Task) {})
	q.Start()

	q.Stop()
	q.Stop()
}

func TestServiceWithoutBackend(t *testing.T) {
	svc := NewService("no-such-provider")

	assert.False(t, svc.IsAvailable())
	assert.Empty(t, svc.Provider())
	assert.Zero(t, svc.Dimensions())

	vec, err := svc.Embed("anything")
	require.NoError(t, err)
	assert.Nil(t, vec)

	require.NoError(t, svc.Close())
}

func TestTruncateChars(t *testing.T) {
	assert.Equal(t, "short", truncateChars("short", 10))
	assert.Equal(t, "abc", truncateChars("abcdef", 3))
	assert.Equal(t, "日本", truncateChars("日本語", 2))
}
