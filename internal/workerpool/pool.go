// Package workerpool runs lifecycle work off the request path on a fixed
// number of goroutines fed by a bounded FIFO queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/observability"
)

var (
	ErrPoolClosed = errors.New("worker pool is shut down")
	ErrQueueFull  = errors.New("worker pool queue is full")
)

// Task is a unit of work. The context is canceled only when a shutdown
// deadline expires.
type Task func(ctx context.Context) error

type task struct {
	op  string
	fn  Task
	fut *Future
}

type Pool struct {
	cfg   Config
	log   *zap.Logger
	tasks chan task

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, log *zap.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		log:    log,
		tasks:  make(chan task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		go p.worker()
	}
	log.Info("worker pool started", zap.Int("size", cfg.Size), zap.Int("queue_size", cfg.QueueSize))
	return p
}

// Submit enqueues fn and returns a Future completed with its result. It
// never blocks: a full queue is reported as ErrQueueFull.
func (p *Pool) Submit(op string, fn Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	fut := newFuture()
	select {
	case p.tasks <- task{op: op, fn: fn, fut: fut}:
		observability.TaskQueueDepth.Inc()
		return fut, nil
	default:
		return nil, ErrQueueFull
	}
}

// RunAsync submits fn without handing out a Future. Failures are logged.
func (p *Pool) RunAsync(op string, fn Task) error {
	_, err := p.Submit(op, fn)
	return err
}

// Execute submits a plain function.
func (p *Pool) Execute(fn func()) error {
	return p.RunAsync("execute", func(context.Context) error {
		fn()
		return nil
	})
}

// Shutdown stops accepting tasks and waits for queued and running ones.
// When ctx expires first, running tasks see their context canceled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		observability.TaskQueueDepth.Dec()
		p.run(t)
	}
}

func (p *Pool) run(t task) {
	start := time.Now()
	observability.PoolActiveTasks.Inc()
	defer observability.PoolActiveTasks.Dec()

	err := p.call(t)

	observability.TaskDuration.WithLabelValues(t.op).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.TaskTotal.WithLabelValues(t.op, "failed").Inc()
		p.log.Warn("task failed", zap.String("op", t.op), zap.Error(err))
	} else {
		observability.TaskTotal.WithLabelValues(t.op, "succeeded").Inc()
	}
	t.fut.complete(err)
}

func (p *Pool) call(t task) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			p.log.Error("panic recovered",
				zap.String("op", t.op),
				zap.Any("panic", rvr),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("task %s panicked: %v", t.op, rvr)
		}
	}()
	return t.fn(p.ctx)
}
