// Package workerpool runs blocking CPU and transcode work on a fixed number of
// goroutines so request handlers never run it themselves.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"sync"
)

var ErrClosed = errors.New("worker pool closed")

type Pool interface {
	// Do queues fn and waits for its result.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	Close()
}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type pool struct {
	tasks      chan task
	closed     chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
	numWorkers int
}

func New(ctx context.Context, numWorkers int) Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &pool{
		tasks:      make(chan task),
		closed:     make(chan struct{}),
		numWorkers: numWorkers,
	}
	for i := 1; i <= numWorkers; i++ {
		p.wg.Add(1)
		go func(workerId int) {
			defer p.wg.Done()
			for {
				select {
				case t := <-p.tasks:
					t.done <- run(t)
				case <-p.closed:
					zerolog.Ctx(ctx).Debug().Int("worker", workerId).Msg("worker stopped")
					return
				}
			}
		}(i)
	}
	return p
}

func run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return t.fn(t.ctx)
}

func (p *pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.tasks <- t:
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-t.done
}

// Close stops idle workers and waits for running tasks to finish.
func (p *pool) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
}
