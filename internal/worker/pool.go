// Package worker implements the bounded FIFO worker pool that backs
// heavy kernels.
package worker

import (
	"sync"

	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/pkg/errors"
	"github.com/corefabric/corefabric/pkg/utils"
)

// Metrics is a point-in-time pool snapshot.
type Metrics struct {
	ActiveWorkers int `json:"active_workers"`
	QueueDepth    int `json:"queue_depth"`
	TotalWorkers  int `json:"total_workers"`
}

// Pool runs a fixed set of workers over a single bounded FIFO queue.
// Priority ordering is the caller's responsibility; the pool preserves
// enqueue order.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg     config.WorkerPoolConfig
	queue   []func()
	running bool
	active  int
	total   int
	workers sync.WaitGroup

	logger *utils.StructuredLogger
}

// NewPool validates the configuration and starts the workers.
func NewPool(cfg config.WorkerPoolConfig, logger *utils.StructuredLogger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("threadpool").WithOperation("new")
	}
	if logger == nil {
		logger = utils.Discard("threadpool")
	}

	p := &Pool{cfg: cfg, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	p.startLocked()

	return p, nil
}

// Enqueue appends a task to the queue. It fails with QUEUE_FULL when
// the queue is at capacity and NOT_RUNNING after Stop.
func (p *Pool) Enqueue(task func()) error {
	if task == nil {
		return errors.NewError(errors.ErrCodeInvalidArgument, "nil task").
			WithComponent("threadpool").WithOperation("enqueue")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return errors.NewError(errors.ErrCodeNotRunning, "pool is stopped").
			WithComponent("threadpool").WithOperation("enqueue")
	}
	if len(p.queue) >= p.cfg.QueueSize {
		return errors.NewError(errors.ErrCodeQueueFull, "task queue at capacity").
			WithComponent("threadpool").WithOperation("enqueue")
	}

	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// WaitForCompletion blocks until the queue is empty and no worker is
// executing a task.
func (p *Pool) WaitForCompletion() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 || p.active > 0 {
		p.cond.Wait()
	}
}

// Stop drains the pool: workers finish their current task and exit,
// queued tasks are discarded. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	discarded := len(p.queue)
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.workers.Wait()

	p.mu.Lock()
	p.total = 0
	p.mu.Unlock()

	if discarded > 0 {
		p.logger.Debug("queued tasks discarded on stop", map[string]interface{}{"count": discarded})
	}
}

// Restart reconstructs the workers with the current configuration.
func (p *Pool) Restart() {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked()
}

// SetConfiguration atomically replaces the pool configuration,
// equivalent to stop + reconfigure + restart.
func (p *Pool) SetConfiguration(cfg config.WorkerPoolConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("threadpool").WithOperation("set_configuration")
	}

	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.startLocked()
	return nil
}

// Configuration returns a copy of the active configuration.
func (p *Pool) Configuration() config.WorkerPoolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// GetMetrics returns a pool snapshot.
func (p *Pool) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Metrics{
		ActiveWorkers: p.active,
		QueueDepth:    len(p.queue),
		TotalWorkers:  p.total,
	}
}

// IsRunning reports whether the pool accepts tasks.
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) startLocked() {
	count := p.cfg.WorkerCount()
	p.running = true
	p.total = count

	for i := 0; i < count; i++ {
		p.workers.Add(1)
		go p.work()
	}

	p.logger.Debug("pool started", map[string]interface{}{"workers": count, "queue_size": p.cfg.QueueSize})
}

func (p *Pool) work() {
	defer p.workers.Done()

	for {
		p.mu.Lock()
		for p.running && len(p.queue) == 0 {
			p.cond.Wait()
		}
		if !p.running {
			p.mu.Unlock()
			return
		}

		task := p.queue[0]
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		p.runTask(task)

		p.mu.Lock()
		p.active--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// runTask isolates panics from user-supplied task bodies.
func (p *Pool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", map[string]interface{}{"panic": r})
		}
	}()
	task()
}
