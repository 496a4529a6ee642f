package kernel

import (
	"sync"
	"time"

	"github.com/corefabric/corefabric/pkg/types"
)

// SmartKernel adapts its worker pool, cache capacity and checkpoint
// cadence to observed load on every metric update.
type SmartKernel struct {
	*baseKernel

	adaptMu            sync.Mutex
	checkpointInterval time.Duration
}

// NewSmartKernel creates a smart kernel. An empty id gets a generated one.
func NewSmartKernel(id string, opts *Options) *SmartKernel {
	k := &SmartKernel{baseKernel: newBaseKernel(id, types.KernelSmart, opts)}
	k.checkpointInterval = k.opts.Config.Global.CheckpointInterval
	k.transform = nil
	k.onMetrics = k.adapt
	return k
}

// CheckpointInterval returns the current (possibly backed-off)
// checkpoint cadence.
func (k *SmartKernel) CheckpointInterval() time.Duration {
	k.adaptMu.Lock()
	defer k.adaptMu.Unlock()
	return k.checkpointInterval
}

// adapt applies the load-driven sizing rules after each telemetry
// sample.
func (k *SmartKernel) adapt(m types.PerformanceMetrics) {
	k.adaptPool(m.CPUUsage)
	k.adaptCache()
	k.adaptRecovery()
}

func (k *SmartKernel) adaptPool(loadFactor float64) {
	k.mu.RLock()
	pool := k.pool
	k.mu.RUnlock()
	if pool == nil {
		return
	}

	limit := k.opts.Config.WorkerPool.MaxWorkers
	cfg := pool.Configuration()

	switch {
	case loadFactor > 0.8 && cfg.MaxWorkers < limit:
		cfg.MaxWorkers = min(cfg.MaxWorkers+2, limit)
	case loadFactor < 0.3 && cfg.MaxWorkers > 2:
		cfg.MaxWorkers = max(cfg.MaxWorkers-1, 2)
	default:
		return
	}
	if cfg.MinWorkers > cfg.MaxWorkers {
		cfg.MinWorkers = cfg.MaxWorkers
	}

	if err := pool.SetConfiguration(cfg); err != nil {
		k.opts.Logger.Error("pool adaptation failed", map[string]interface{}{
			"kernel": k.id, "error": err.Error(),
		})
		return
	}
	k.opts.Logger.Info("worker pool adapted", map[string]interface{}{
		"kernel": k.id, "max_workers": cfg.MaxWorkers, "load": loadFactor,
	})
}

func (k *SmartKernel) adaptCache() {
	k.mu.RLock()
	dynCache := k.dynamicCache
	k.mu.RUnlock()
	if dynCache == nil {
		return
	}

	cm := dynCache.GetMetrics()
	if cm.Hits+cm.Misses == 0 {
		return
	}
	capacity := dynCache.AllocatedSize()
	maxCapacity := k.opts.Config.Cache.MaxCapacity

	switch {
	case cm.HitRate < 0.8 && capacity < maxCapacity:
		dynCache.Resize(min(capacity+capacity/5+1, maxCapacity))
	case cm.HitRate > 0.95 && capacity > 16:
		dynCache.Resize(max(capacity-capacity/5, 16))
	default:
		return
	}
	k.opts.Logger.Info("cache adapted", map[string]interface{}{
		"kernel": k.id, "capacity": dynCache.AllocatedSize(), "hit_rate": cm.HitRate,
	})
}

// adaptRecovery doubles the checkpoint interval on every call while more
// than five recoveries have failed.
func (k *SmartKernel) adaptRecovery() {
	k.mu.RLock()
	recoveryMgr := k.recoveryMgr
	k.mu.RUnlock()
	if recoveryMgr == nil {
		return
	}

	if recoveryMgr.GetMetrics().FailedRecoveries > 5 {
		k.adaptMu.Lock()
		k.checkpointInterval *= 2
		interval := k.checkpointInterval
		k.adaptMu.Unlock()

		k.opts.Logger.Warn("checkpoint interval increased after recovery failures", map[string]interface{}{
			"kernel": k.id, "interval": interval.String(),
		})
	}
}
