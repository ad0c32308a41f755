// Package workerpool provides a bounded worker pool with retries, used to cap
// how many reconciliations run at once.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned by Submit once Stop has been called.
var ErrPoolStopped = errors.New("pool is shutting down")

// ErrQueueFull is returned by TrySubmit when the queue has no free slot.
var ErrQueueFull = errors.New("task queue is full")

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}
	Context context.Context

	reply chan *Result
}

// Result represents the outcome of task processing
type Result struct {
	TaskID   string
	Success  bool
	Error    error
	Data     interface{}
	Attempts int
	// Permanent marks a failure that retrying cannot fix.
	Permanent bool
}

// Fail builds a failed result. Permanent failures are not retried.
func Fail(taskID string, err error, permanent bool) *Result {
	return &Result{TaskID: taskID, Error: err, Permanent: permanent}
}

// WorkerFunc is the function signature for task processing
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed tasks
	MaxRetries int
	// RetryDelay is the base delay between retries, multiplied by the attempt
	RetryDelay time.Duration
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for a single reconcile worker
func DefaultConfig() Config {
	return Config{
		Workers:                 16,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup
	stopOnce   sync.Once

	// mu guards sends on taskChan against its close in Stop.
	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
	queueDepth     int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		resultChan: make(chan *Result, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// TrySubmit queues a task without blocking. Its result is delivered on Results.
func (p *Pool) TrySubmit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}
	select {
	case p.taskChan <- task:
		p.queued()
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait queues a task, blocking while the queue is full, and waits for
// its result. The task inherits ctx when it has no context of its own.
func (p *Pool) SubmitWait(ctx context.Context, task *Task) (*Result, error) {
	if task.Context == nil {
		task.Context = ctx
	}
	task.reply = make(chan *Result, 1)
	if err := p.enqueue(ctx, task); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-task.reply:
		return res, nil
	}
}

func (p *Pool) enqueue(ctx context.Context, task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	case p.taskChan <- task:
		p.queued()
		return nil
	}
}

func (p *Pool) queued() {
	atomic.AddInt64(&p.tasksSubmitted, 1)
	atomic.AddInt64(&p.queueDepth, 1)
}

// Results returns the result channel for tasks queued with TrySubmit
func (p *Pool) Results() <-chan *Result {
	return p.resultChan
}

// Stop stops accepting tasks and waits for queued ones to drain
func (p *Pool) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")
		p.cancel()
		p.mu.Lock()
		p.closed = true
		close(p.taskChan)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped gracefully")
			close(p.resultChan)
		case <-time.After(p.config.GracefulShutdownTimeout):
			p.logger.Warn("worker pool shutdown timed out")
			err = fmt.Errorf("worker pool: shutdown timed out after %s", p.config.GracefulShutdownTimeout)
		}
	})
	return err
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for task := range p.taskChan {
		atomic.AddInt64(&p.queueDepth, -1)
		p.deliver(task, p.run(id, task))
	}

	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// run executes task, retrying transient failures with linear backoff.
func (p *Pool) run(workerID int, task *Task) *Result {
	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var res *Result
	attempt := 0
	for {
		attempt++
		if err := ctx.Err(); err != nil {
			res = Fail(task.ID, err, false)
			break
		}

		res = p.workerFunc(ctx, task)
		if res == nil {
			res = &Result{Success: true}
		}
		res.TaskID = task.ID
		if res.Success || res.Permanent || attempt > p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt),
			zap.Error(res.Error))

		wait := time.NewTimer(p.config.RetryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			wait.Stop()
		case <-wait.C:
		}
	}
	res.Attempts = attempt

	if res.Success {
		atomic.AddInt64(&p.tasksCompleted, 1)
		return res
	}

	atomic.AddInt64(&p.tasksFailed, 1)
	if !res.Permanent && attempt > p.config.MaxRetries {
		res.Error = fmt.Errorf("task failed after %d attempts: %w", attempt, res.Error)
	}
	p.logger.Error("task failed",
		zap.String("task_id", task.ID),
		zap.Int("worker_id", workerID),
		zap.Bool("permanent", res.Permanent),
		zap.Error(res.Error))
	return res
}

func (p *Pool) deliver(task *Task, res *Result) {
	if task.reply != nil {
		task.reply <- res
		return
	}
	select {
	case p.resultChan <- res:
	default:
		p.logger.Warn("result channel full, dropping result",
			zap.String("task_id", task.ID))
	}
}

// Stats holds pool counters
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	QueueDepth     int64
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:     atomic.LoadInt64(&p.queueDepth),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% of capacity
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
