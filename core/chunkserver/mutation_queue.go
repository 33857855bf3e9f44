package chunkserver

import (
	"context"
)

type mutation struct {
	apply  func() (any, error)
	result chan mutationResult
}

type mutationResult struct {
	value any
	err   error
}

// MutationQueue applies chunk mutations one at a time in arrival order.
type MutationQueue struct {
	ops  chan mutation
	done chan struct{}
	err  error
}

func NewMutationQueue(size int) *MutationQueue {
	return &MutationQueue{
		ops:  make(chan mutation, size),
		done: make(chan struct{}),
	}
}

// Start drains the queue until ctx is done. Mutations still queued then fail
// with the ctx error, as does every later Submit. Exactly one Start may run per
// queue.
func (q *MutationQueue) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			q.shutdown(ctx.Err())
			return
		}

		select {
		case <-ctx.Done():
		case op := <-q.ops:
			value, err := op.apply()
			op.result <- mutationResult{value: value, err: err}
		}
	}
}

func (q *MutationQueue) shutdown(err error) {
	q.err = err
	close(q.done)

	for {
		select {
		case op := <-q.ops:
			op.result <- mutationResult{err: err}
		default:
			return
		}
	}
}

// Submit enqueues fn and waits for its result. A mutation that was enqueued
// still runs when ctx ends before it completes.
func (q *MutationQueue) Submit(ctx context.Context, fn func() (any, error)) (any, error) {
	op := mutation{
		apply:  fn,
		result: make(chan mutationResult, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, q.err
	case q.ops <- op:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-op.result:
		return res.value, res.err
	case <-q.done:
		// the worker answers before it stops
		select {
		case res := <-op.result:
			return res.value, res.err
		default:
			return nil, q.err
		}
	}
}

func submit[T any](ctx context.Context, q *MutationQueue, fn func() (T, error)) (T, error) {
	value, err := q.Submit(ctx, func() (any, error) {
		return fn()
	})

	if err != nil {
		var zero T
		return zero, err
	}

	return value.(T), nil
}
