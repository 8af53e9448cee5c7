package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const logPrefix = "engine:worker_pool"

// Common errors for worker pool operations
var (
	ErrPoolShutdown    = errors.New("worker pool is shut down")
	ErrQueueFull       = errors.New("task queue is full")
	ErrShutdownTimeout = errors.New("shutdown timeout")
)

// Task represents a processing task for the worker pool.
type Task struct {
	ID        string
	Run       func(ctx context.Context) error
	CreatedAt time.Time
}

// NewTask creates a new task with default values.
func NewTask(id string, fn func(ctx context.Context) error) *Task {
	return &Task{
		ID:        id,
		Run:       fn,
		CreatedAt: time.Now(),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkerPool manages a fixed set of goroutines that execute submitted tasks.
//
// Submission never blocks: when the bounded task queue is full Submit fails
// with ErrQueueFull, so a caller running an event loop is never stalled by
// a backlog.
type WorkerPool struct {
	name     string
	workers  int
	taskChan chan *Task
	wg       sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool creates a new worker pool with the specified number of
// workers. A queueSize <= 0 defaults to workers*100.
func NewWorkerPool(name string, workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		name:     name,
		workers:  workers,
		taskChan: make(chan *Task, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		running:  true,
	}

	// Start workers
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

// worker is the goroutine that processes tasks.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.processTask(id, task)
		}
	}
}

// processTask executes a single task. A panicking task is counted as failed
// and never takes the worker down.
func (p *WorkerPool) processTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.failed, 1)
			slog.Error(fmt.Sprintf("%s - panic in task %s on worker %d: %v", logPrefix, task.ID, workerID, r))
		}
	}()

	if task.Run == nil {
		atomic.AddInt64(&p.failed, 1)
		return
	}

	if err := task.Run(p.ctx); err != nil {
		atomic.AddInt64(&p.failed, 1)
		return
	}
	atomic.AddInt64(&p.completed, 1)
}

// Submit adds a task to the worker pool for processing.
func (p *WorkerPool) Submit(task *Task) error {
	// Hold the read lock across the send so Shutdown cannot close taskChan under us.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolShutdown
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// stop marks the pool closed and closes the task channel. It reports false if
// the pool was already shut down.
func (p *WorkerPool) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return false
	}
	p.running = false
	close(p.taskChan)
	return true
}

// Shutdown stops accepting tasks and cancels the pool context. It does not
// wait: queued tasks are abandoned and in-flight tasks observe a cancelled
// context.
func (p *WorkerPool) Shutdown() {
	if !p.stop() {
		return
	}
	p.cancel()
}

// ShutdownWithTimeout stops accepting tasks and lets the workers finish the
// queued and in-flight tasks for up to timeout before cancelling the rest.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	if !p.stop() {
		return nil
	}
	defer p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Name returns the pool name.
func (p *WorkerPool) Name() string {
	return p.name
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int {
	return p.workers
}
