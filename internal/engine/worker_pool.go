package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// job is the unit of work dispatched to a worker.
type job[T, R any] struct {
	ctx     context.Context
	payload T
	result  chan<- jobResult[R]
}

type jobResult[R any] struct {
	value R
	err   error
}

// workerPool is a fixed-size goroutine pool with a bounded input queue.
// Each job gets its own deadline, started when a worker picks it up.
type workerPool[T, R any] struct {
	queue   chan job[T, R]
	process func(ctx context.Context, t T) (R, error)
	timeout time.Duration
	done    <-chan struct{}
	wg      sync.WaitGroup
}

// newWorkerPool creates and starts a pool with n goroutines and queue capacity cap.
// A zero timeout leaves jobs bounded by their submit context only.
func newWorkerPool[T, R any](ctx context.Context, n, cap int, timeout time.Duration, fn func(context.Context, T) (R, error)) *workerPool[T, R] {
	p := &workerPool[T, R]{
		queue:   make(chan job[T, R], cap),
		process: fn,
		timeout: timeout,
		done:    ctx.Done(),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *workerPool[T, R]) run(ctx context.Context) {
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			res := p.call(j)
			if j.result != nil {
				j.result <- res
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *workerPool[T, R]) call(j job[T, R]) (res jobResult[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = jobResult[R]{err: fmt.Errorf("worker panicked: %v", r)}
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return jobResult[R]{err: err}
	}
	ctx := j.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	v, err := p.process(ctx, j.payload)
	return jobResult[R]{value: v, err: err}
}

// Submit enqueues a job without blocking (returns false if full). result must
// be buffered so a worker never blocks on an abandoned job.
func (p *workerPool[T, R]) Submit(ctx context.Context, t T, result chan<- jobResult[R]) bool {
	select {
	case p.queue <- job[T, R]{ctx: ctx, payload: t, result: result}:
		return true
	default:
		return false
	}
}

// Stopped is closed when the pool's workers have been told to exit.
func (p *workerPool[T, R]) Stopped() <-chan struct{} {
	return p.done
}

// Drain closes the queue and waits for all workers to finish.
func (p *workerPool[T, R]) Drain() {
	close(p.queue)
	p.wg.Wait()
}

// QueueLen returns how many jobs are currently queued.
func (p *workerPool[T, R]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *workerPool[T, R]) QueueCap() int {
	return cap(p.queue)
}
