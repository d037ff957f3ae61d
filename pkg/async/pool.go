package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/locafleet/locafleet/pkg/observability"
)

// ErrBacklogFull is returned by Submit when the queue is full and the
// pool is already at its maximum worker count.
var ErrBacklogFull = errors.New("async: worker pool backlog full")

// ErrShutDown is returned by Submit after Shutdown has begun.
var ErrShutDown = errors.New("async: worker pool shut down")

// Task is one unit of background work.
type Task func(context.Context) error

// Config sizes the pool.
type Config struct {
	// Core is the number of workers always running.
	Core int
	// Max caps total workers; overflow workers spawn when the backlog
	// fills and exit when idle.
	Max int
	// Backlog is the queue capacity.
	Backlog int
	// TaskTimeout bounds each task's execution.
	TaskTimeout time.Duration
}

// DefaultConfig returns the sizing used for the audit trail pool.
func DefaultConfig() Config {
	return Config{Core: 2, Max: 8, Backlog: 256, TaskTimeout: 10 * time.Second}
}

// Pool is a bounded worker pool with graceful drain.
type Pool struct {
	name   string
	cfg    Config
	logger *observability.Logger

	workCh chan Task
	doneCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wg           sync.WaitGroup
	workers      atomic.Int32
	shuttingDown atomic.Bool
	shutdownOnce sync.Once

	// onDepthChange reports queue depth after every enqueue/dequeue;
	// wired to the audit queue gauge.
	onDepthChange func(depth int)
}

// NewPool starts the core workers immediately.
func NewPool(ctx context.Context, name string, cfg Config, logger *observability.Logger) *Pool {
	if cfg.Core <= 0 {
		cfg.Core = 1
	}
	if cfg.Max < cfg.Core {
		cfg.Max = cfg.Core
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		name:   name,
		cfg:    cfg,
		logger: logger,
		workCh: make(chan Task, cfg.Backlog),
		doneCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Core; i++ {
		p.startWorker(false)
	}

	go func() {
		p.wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// SetDepthCallback registers a queue-depth observer.
func (p *Pool) SetDepthCallback(fn func(depth int)) {
	p.onDepthChange = fn
}

// Submit enqueues a task. When the backlog is full an overflow worker
// is spawned if the pool is under Max; if the queue is still full the
// task is rejected rather than blocking the caller.
func (p *Pool) Submit(fn Task) error {
	if p.shuttingDown.Load() {
		return ErrShutDown
	}

	switch p.trySend(fn) {
	case sendOK:
		return nil
	case sendShutDown:
		return ErrShutDown
	}

	if int(p.workers.Load()) < p.cfg.Max {
		p.startWorker(true)
	}

	switch p.trySend(fn) {
	case sendOK:
		return nil
	case sendShutDown:
		return ErrShutDown
	default:
		return ErrBacklogFull
	}
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendShutDown
)

// trySend enqueues without blocking. Shutdown may close workCh between
// the shuttingDown check in Submit and the send here; the recover turns
// the resulting send panic into a shutdown result.
func (p *Pool) trySend(fn Task) (result sendResult) {
	defer func() {
		if recover() != nil {
			result = sendShutDown
		}
	}()

	select {
	case p.workCh <- fn:
		p.reportDepth()
		return sendOK
	default:
		return sendFull
	}
}

// Shutdown stops accepting work and waits up to timeout for in-flight
// and queued tasks to drain.
func (p *Pool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.shuttingDown.Store(true)
		close(p.workCh)

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("async: pool %q shutdown timed out after %v", p.name, timeout)
		}
	})

	return shutdownErr
}

func (p *Pool) startWorker(overflow bool) {
	p.workers.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.workers.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.WithField("pool", p.name).
					WithField("panic", r).
					WithField("stack", string(debug.Stack())).
					Error("worker pool PANIC")
			}
		}()
		p.workerLoop(overflow)
	}()
}

func (p *Pool) workerLoop(overflow bool) {
	idle := time.NewTimer(30 * time.Second)
	defer idle.Stop()

	for {
		if overflow {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(30 * time.Second)
		}

		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.reportDepth()
			p.runTask(fn)
		case <-idleChan(overflow, idle):
			return
		}
	}
}

// idleChan returns the idle timer channel only for overflow workers;
// core workers never time out.
func idleChan(overflow bool, t *time.Timer) <-chan time.Time {
	if !overflow {
		return nil
	}
	return t.C
}

func (p *Pool) runTask(fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("pool", p.name).
				WithField("panic", r).
				WithField("stack", string(debug.Stack())).
				Error("task PANIC")
		}
	}()

	if err := fn(ctx); err != nil {
		// Fire-and-forget semantics: failures are logged, never
		// propagated back to the originating operation.
		p.logger.WithField("pool", p.name).WithError(err).Warn("background task failed")
	}
}

func (p *Pool) reportDepth() {
	if p.onDepthChange != nil {
		p.onDepthChange(len(p.workCh))
	}
}
