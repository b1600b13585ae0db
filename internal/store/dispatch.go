package store

import (
	"context"
	"errors"
	"sync"
)

var ErrDispatcherClosed = errors.New("store dispatcher is closed")

// Dispatcher runs store operations on a fixed pool of workers. It bounds the
// number of concurrent store calls regardless of how many connections are
// live, and gives every caller an awaitable result.
type Dispatcher struct {
	jobs chan job

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// NewDispatcher starts workers goroutines draining a queue of queueLen
// pending operations. Both sizes must be positive.
func NewDispatcher(workers, queueLen int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueLen < 1 {
		queueLen = 1
	}
	d := &Dispatcher{
		jobs: make(chan job, queueLen),
		done: make(chan struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case j := <-d.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- err
				continue
			}
			j.result <- j.fn(j.ctx)
		}
	}
}

// Do submits fn and waits for its result. The context bounds both the queue
// wait and the operation itself.
func (d *Dispatcher) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case d.jobs <- j:
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers. Operations already picked up run to completion;
// queued but unstarted jobs are abandoned and later Do calls fail with
// ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}
