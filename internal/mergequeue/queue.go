// Package mergequeue provides the single serialization point for operations
// that mutate the shared main branch. Many slots may prepare merges
// concurrently in their own workspaces; the actual apply-and-push step is
// funneled through this queue so exactly one mutation runs at a time, in
// submission order.
package mergequeue

import (
	"context"
	"sync"

	"github.com/opensprint/opensprint/internal/errors"
)

// Op is a unit of work that mutates the shared repository.
type Op func(ctx context.Context) error

// item pairs an operation with the channel its submitter waits on.
type item struct {
	op   Op
	done chan error
}

// Queue executes submitted operations strictly one at a time on a single
// worker goroutine. All methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending int // queued plus currently running
	closed  bool

	items chan item
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New creates a Queue and starts its worker.
func New() *Queue {
	q := &Queue{
		items: make(chan item, 64),
		quit:  make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.worker()
	return q
}

// EnqueueAndWait submits an operation and blocks until it has run to
// completion or failed; the operation's error is returned verbatim. If ctx
// expires before the operation starts, the caller unblocks with ctx's error
// and the operation is skipped when it reaches the front of the queue.
func (q *Queue) EnqueueAndWait(ctx context.Context, op func(context.Context) error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.ErrQueueClosed
	}
	q.pending++
	q.mu.Unlock()

	done := make(chan error, 1)
	wrapped := func(opCtx context.Context) error {
		// Skip ops whose submitter already gave up.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return op(opCtx)
	}

	select {
	case q.items <- item{op: wrapped, done: done}:
	case <-ctx.Done():
		q.opFinished()
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The op may still run; its result is dropped.
		return ctx.Err()
	}
}

// Drain blocks until every queued operation has finished and the worker is
// idle. It is used defensively before starting an integration sequence so
// stale queued work from a previous cycle cannot interleave with it.
func (q *Queue) Drain(ctx context.Context) error {
	// Wake the cond wait when ctx expires so the caller is not stranded
	// behind a stuck operation.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.idle.Wait()
	}
	return nil
}

// Len returns the number of operations queued or running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close stops accepting new operations, waits for the backlog to drain, and
// stops the worker. It is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	for q.pending > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()

	close(q.quit)
	q.wg.Wait()
}

// opFinished marks one operation as complete and wakes drain waiters.
func (q *Queue) opFinished() {
	q.mu.Lock()
	q.pending--
	if q.pending == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
}

// worker runs queued operations one at a time, in submission order.
func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case it := <-q.items:
			it.done <- it.op(context.Background())
			q.opFinished()
		case <-q.quit:
			return
		}
	}
}
