package embedding

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// QueueCapacity bounds the pending embedding backlog. On overflow the
// oldest pending task is dropped with a warning; the observation row stays
// intact and a later backfill re-embeds it.
const QueueCapacity = 1024

// Task is one pending embedding job.
type Task struct {
	ObservationID int64
	Project       string
	Text          string
}

// Handler processes one embedding task. Errors are the handler's problem;
// the queue only logs and moves on.
type Handler func(ctx context.Context, task Task)

// Queue serializes embedding calls through a single worker so the provider
// sees at most one in-flight request from this process.
type Queue struct {
	tasks   chan Task
	handler Handler
	log     zerolog.Logger

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewQueue creates a queue feeding tasks to handler.
func NewQueue(handler Handler) *Queue {
	return &Queue{
		tasks:   make(chan Task, QueueCapacity),
		handler: handler,
		log:     log.With().Str("component", "embedding-queue").Logger(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.started.Store(true)
		go q.run()
	})
}

// Stop signals the worker and waits for it to drain its current task.
// Pending tasks are discarded. Safe to call before Start.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	if q.started.Load() {
		<-q.doneCh
	}
}

// Enqueue adds a task without blocking. When the queue is full the oldest
// pending task is dropped to make room.
func (q *Queue) Enqueue(task Task) {
	for {
		select {
		case q.tasks <- task:
			return
		default:
		}

		select {
		case dropped := <-q.tasks:
			q.log.Warn().
				Int64("observation_id", dropped.ObservationID).
				Msg("embedding queue full, dropping oldest task")
		default:
		}
	}
}

// Pending returns the current backlog size.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

func (q *Queue) run() {
	defer close(q.doneCh)

	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case task := <-q.tasks:
			q.handler(ctx, task)
		}
	}
}
