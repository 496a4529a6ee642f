// Package preload implements the predictive warm-up source: a queue of
// predicted (key, value) pairs plus an access history that kernels
// drain into their caches before demand arrives.
package preload

import (
	"sync"
	"time"

	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/pkg/utils"
)

// Metrics summarizes preload activity.
type Metrics struct {
	QueueSize          int     `json:"queue_size"`
	ActiveTasks        int     `json:"active_tasks"`
	Efficiency         float64 `json:"efficiency"`
	PredictionAccuracy float64 `json:"prediction_accuracy"`
}

type task struct {
	key         string
	data        []byte
	enqueueTime time.Time
	priority    float64
}

// Manager holds predicted items and drains them through a background
// processor. Stop unblocks the processor and makes the manager inert.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg           config.PreloadConfig
	queue         []task
	accessHistory map[string]struct{}
	stopped       bool

	activeTasks        int
	totalTasks         uint64
	successfulTasks    uint64
	predictions        uint64
	correctPredictions uint64

	logger *utils.StructuredLogger
	wg     sync.WaitGroup
}

// NewManager validates the configuration and starts the task processor.
func NewManager(cfg config.PreloadConfig, logger *utils.StructuredLogger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.Discard("preloadmanager")
	}

	m := &Manager{
		cfg:           cfg,
		accessHistory: make(map[string]struct{}),
		logger:        logger,
	}
	m.cond = sync.NewCond(&m.mu)

	m.wg.Add(1)
	go m.processLoop()

	return m, nil
}

// PreloadData enqueues a predicted pair. It returns false when the
// queue is at capacity, the value exceeds the batch limit, or the
// manager is stopped.
func (m *Manager) PreloadData(key string, value []byte) bool {
	if len(value) > m.cfg.MaxBatchSize {
		m.logger.Error("value exceeds max batch size", map[string]interface{}{"key": key, "size": len(value)})
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	if len(m.queue) >= m.cfg.MaxQueueSize {
		m.logger.Error("preload queue at capacity", map[string]interface{}{"key": key})
		return false
	}

	m.queue = append(m.queue, task{
		key:         key,
		data:        append([]byte(nil), value...),
		enqueueTime: time.Now(),
		priority:    1.0,
	})
	m.cond.Signal()

	m.logger.Debug("preload task enqueued", map[string]interface{}{"key": key, "size": len(value)})
	return true
}

// AddData enqueues a predicted pair with an automatically assigned
// priority derived from queue pressure.
func (m *Manager) AddData(key string, value []byte) bool {
	if !m.PreloadData(key, value) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.queue); n > 0 {
		m.queue[n-1].priority = 1.0 - float64(n)/float64(m.cfg.MaxQueueSize)
	}
	return true
}

// GetAllKeys returns the union of queued keys and the access history.
func (m *Manager) GetAllKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(m.queue)+len(m.accessHistory))
	keys := make([]string, 0, len(m.queue)+len(m.accessHistory))
	for _, t := range m.queue {
		if _, ok := seen[t.key]; ok {
			continue
		}
		seen[t.key] = struct{}{}
		keys = append(keys, t.key)
	}
	for k := range m.accessHistory {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// GetDataForKey returns the queued value for key, or synthesizes the
// deterministic value (the key's bytes) and records the access.
func (m *Manager) GetDataForKey(key string) ([]byte, bool) {
	m.mu.Lock()
	for _, t := range m.queue {
		if t.key == key {
			data := append([]byte(nil), t.data...)
			m.mu.Unlock()
			return data, true
		}
	}
	m.mu.Unlock()

	return m.loadData(key)
}

// PredictNextAccess reports whether key is in the access history and
// records the prediction attempt.
func (m *Manager) PredictNextAccess(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.predictions++
	if _, ok := m.accessHistory[key]; ok {
		m.correctPredictions++
		return true
	}
	return false
}

// GetMetrics returns a preload statistics snapshot.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := Metrics{
		QueueSize:   len(m.queue),
		ActiveTasks: m.activeTasks,
	}
	if m.totalTasks > 0 {
		metrics.Efficiency = float64(m.successfulTasks) / float64(m.totalTasks)
	}
	if m.predictions > 0 {
		metrics.PredictionAccuracy = float64(m.correctPredictions) / float64(m.predictions)
	}
	return metrics
}

// UpdateMetrics logs the current snapshot at debug level; the
// supervisor calls it on its metric cycle.
func (m *Manager) UpdateMetrics() {
	metrics := m.GetMetrics()
	m.logger.Debug("preload metrics", map[string]interface{}{
		"queue_size":   metrics.QueueSize,
		"active_tasks": metrics.ActiveTasks,
		"efficiency":   metrics.Efficiency,
		"accuracy":     metrics.PredictionAccuracy,
	})
}

// Stop unblocks the processor and waits for it to exit. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cond.Broadcast()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Debug("preload manager stopped")
}

// loadData synthesizes the deterministic value for key and records the
// access and task outcome.
func (m *Manager) loadData(key string) ([]byte, bool) {
	data := []byte(key)

	m.mu.Lock()
	m.accessHistory[key] = struct{}{}
	m.totalTasks++
	m.successfulTasks++
	m.mu.Unlock()

	return data, true
}

func (m *Manager) processLoop() {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		for !m.stopped && len(m.queue) == 0 {
			m.cond.Wait()
		}
		if m.stopped {
			m.mu.Unlock()
			return
		}

		t := m.queue[0]
		m.queue = m.queue[1:]
		m.activeTasks++
		m.mu.Unlock()

		if _, ok := m.loadData(t.key); ok {
			m.logger.Debug("preload task processed", map[string]interface{}{"key": t.key, "size": len(t.data)})
		}

		m.mu.Lock()
		m.activeTasks--
		m.mu.Unlock()
	}
}
