// Package workers provides a bounded goroutine pool for I/O that must not
// block the trading loop's cycle goroutine: persistence writes and the CSV
// telemetry mirror. Adapted from the reference's internal/workers.Pool,
// trimmed from its throughput-benchmark shape (no latency histogram, no
// batch submission) down to exactly what the supervisor needs: submit,
// fire-and-forget, graceful stop.
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work the pool runs on a worker goroutine.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
	PanicRecovery   bool
}

// DefaultPoolConfig returns a small pool sized for background I/O rather
// than CPU-bound throughput: a couple of workers is enough to keep
// persistence and CSV-mirror writes off the cycle goroutine.
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:            name,
		NumWorkers:      2,
		QueueSize:       256,
		TaskTimeout:     10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		PanicRecovery:   true,
	}
}

// Stats is a snapshot of the pool's submission counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	TimedOut  int64
	Panicked  int64
}

var (
	ErrPoolStopped = errors.New("worker pool is stopped")
	ErrQueueFull   = errors.New("worker pool task queue is full")
)

// Pool runs submitted tasks on a fixed set of worker goroutines, each task
// bounded by TaskTimeout and insulated from panics when PanicRecovery is
// set.
type Pool struct {
	logger *zap.Logger
	config PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	submitted, completed, failed, timedOut, panicked atomic.Int64
}

// NewPool builds a pool. Call Start before Submit.
func NewPool(logger *zap.Logger, cfg PoolConfig) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger.Named("workers").With(zap.String("pool", cfg.Name)),
		config:    cfg,
		taskQueue: make(chan Task, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. Safe to call once; a second call
// is a no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("starting worker pool", zap.Int("workers", p.config.NumWorkers), zap.Int("queueSize", p.config.QueueSize))
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("workerId", id))
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(log, task)
		}
	}
}

func (p *Pool) execute(log *zap.Logger, task Task) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(p.ctx, p.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if p.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					p.panicked.Add(1)
					log.Error("task panicked", zap.Any("panic", r))
					err = errors.New("task panicked")
				}
				done <- err
			}()
		}
		err = task.Execute()
		if !p.config.PanicRecovery {
			done <- err
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			p.failed.Add(1)
			log.Warn("task failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
			return
		}
		p.completed.Add(1)
	case <-ctx.Done():
		p.timedOut.Add(1)
		log.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
	}
}

// Submit enqueues task without blocking; it returns ErrQueueFull if the
// queue is saturated and ErrPoolStopped if the pool was never started or
// has been stopped.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	p.submitted.Add(1)
	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc is Submit for a plain function.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stats returns a snapshot of the pool's submission counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		TimedOut:  p.timedOut.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Stop cancels outstanding work and waits up to ShutdownTimeout for
// in-flight tasks to finish. Safe to call multiple times.
func (p *Pool) Stop() {
	if !p.running.Swap(false) {
		return
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}
}
