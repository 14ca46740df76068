package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"chronicle/metrics"
	"chronicle/util/goroutine"
	"go.uber.org/zap"
)

// Errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)

// Task is a unit of work executed by the pool. The context is cancelled when
// the pool stops.
type Task func(ctx context.Context)

// WorkerPool runs submitted tasks on a fixed number of goroutines
type WorkerPool struct {
	name      string
	workers   int
	queueSize int
	taskCh    chan Task
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
}

// NewWorkerPool creates a pool bound to parentCtx. Workers are not started
// until Start is called.
func NewWorkerPool(parentCtx context.Context, name string, workers, queueSize int, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if name == "" {
		name = "default"
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan Task, queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing tasks
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}
	wp.running = true
	wp.logger.Infow("Starting worker pool", "pool", wp.name, "workers", wp.workers, "queue_size", wp.queueSize)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains queued tasks and waits for workers, up to timeout.
// Safe to call more than once.
func (wp *WorkerPool) Stop(timeout time.Duration) {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	close(wp.taskCh)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool", wp.name)
	case <-time.After(timeout):
		wp.logger.Errorw("Worker pool shutdown timed out, cancelling in-flight tasks",
			"pool", wp.name,
			"timeout", timeout)
	}
	wp.cancel()
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(0)
}

// Submit queues a task without blocking
func (wp *WorkerPool) Submit(task Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// Stats returns current worker pool statistics
func (wp *WorkerPool) Stats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   wp.queueSize,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.name, wp.logger)

	for task := range wp.taskCh {
		wp.run(id, task)
	}
}

func (wp *WorkerPool) run(id int, task Task) {
	metrics.WorkerPoolQueueSize.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
	panicked := goroutine.Safely(wp.name+"-task", wp.logger, func() { task(wp.ctx) })
	if panicked {
		wp.logger.Warnw("Task panicked in worker", "pool", wp.name, "worker_id", id)
		metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.name, "panic").Inc()
		return
	}
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.name, "ok").Inc()
}

// WorkerPoolStats contains statistics about the worker pool
type WorkerPoolStats struct {
	Workers     int  `json:"workers"`
	QueueSize   int  `json:"queue_size"`
	Running     bool `json:"running"`
	QueuedTasks int  `json:"queued_tasks"`
}
