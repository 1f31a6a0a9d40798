package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrBusy = errors.New("worker pool busy")

// Pool 限制同时执行的 CPU 密集任务（推理、落盘）数量。
// 任务一旦开始就会执行到底，不受调用方取消影响。
type Pool struct {
	sem          *semaphore.Weighted
	size         int
	queueTimeout time.Duration
}

// New size <= 0 时取 CPU 核数；queueTimeout <= 0 表示只受调用方 ctx 约束
func New(size int, queueTimeout time.Duration) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		sem:          semaphore.NewWeighted(int64(size)),
		size:         size,
		queueTimeout: queueTimeout,
	}
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return nil
}

// Do 在池中执行 fn 并等待结果
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.acquire(ctx); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	r := <-done
	return r.v, r.err
}
