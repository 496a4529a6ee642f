package kernel

import (
	"github.com/corefabric/corefabric/pkg/types"
)

// ParentKernel composes child kernels and sizes its own pool and cache
// from their aggregate load.
type ParentKernel struct {
	*baseKernel
}

// NewParentKernel creates a parent kernel. An empty id gets a
// generated one.
func NewParentKernel(id string, opts *Options) *ParentKernel {
	return &ParentKernel{baseKernel: newBaseKernel(id, types.KernelParent, opts)}
}

// UpdateMetrics refreshes every child, aggregates their load, and
// applies the pool and cache adaptation rules before taking this
// kernel's own telemetry sample.
func (k *ParentKernel) UpdateMetrics() {
	children := k.GetChildren()

	var totalLoad float64
	for _, child := range children {
		child.UpdateMetrics()
		totalLoad += child.GetMetrics().CPUUsage
	}

	if len(children) > 0 {
		avgLoad := totalLoad / float64(len(children))
		k.adaptPool(avgLoad)
		k.adaptCache()
	}

	k.baseKernel.UpdateMetrics()
}

// GetSupportedFeatures lists the composition-level capabilities on top
// of the host acceleration features.
func (k *ParentKernel) GetSupportedFeatures() []string {
	features := k.baseKernel.GetSupportedFeatures()
	return append(features, "dynamic_thread_pool", "dynamic_cache", "task_orchestration")
}

func (k *ParentKernel) adaptPool(avgLoad float64) {
	k.mu.RLock()
	pool := k.pool
	k.mu.RUnlock()
	if pool == nil {
		return
	}

	cfg := pool.Configuration()
	switch {
	case avgLoad > 0.8 && cfg.MaxWorkers < 32:
		cfg.MaxWorkers += 2
	case avgLoad < 0.3 && cfg.MaxWorkers > 2:
		cfg.MaxWorkers--
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
	k.opts.Logger.Info("worker pool adapted to child load", map[string]interface{}{
		"kernel": k.id, "max_workers": cfg.MaxWorkers, "avg_load": avgLoad,
	})
}

func (k *ParentKernel) adaptCache() {
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

	switch {
	case cm.HitRate < 0.8:
		dynCache.Resize(capacity + capacity/5 + 1)
	case cm.HitRate > 0.95 && capacity > 16:
		dynCache.Resize(max(capacity-capacity/5, 16))
	default:
		return
	}
	k.opts.Logger.Info("cache adapted to hit rate", map[string]interface{}{
		"kernel": k.id, "capacity": dynCache.AllocatedSize(), "hit_rate": cm.HitRate,
	})
}
