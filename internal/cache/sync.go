package cache

import (
	"sync"
	"time"

	"github.com/corefabric/corefabric/pkg/utils"
)

// BytesCache is the kernel-facing cache shape.
type BytesCache = Cache[string, []byte]

// SyncRegistry tracks each kernel's cache so data can be synced or
// migrated between kernels by id. It is passed by reference through
// construction rather than held as a process global.
type SyncRegistry struct {
	mu     sync.Mutex
	caches map[string]*BytesCache
	stats  SyncStats
	logger *utils.StructuredLogger
}

// SyncStats summarizes registry activity.
type SyncStats struct {
	SyncCount      uint64        `json:"sync_count"`
	MigrationCount uint64        `json:"migration_count"`
	LastSync       time.Time     `json:"last_sync"`
	SyncLatency    time.Duration `json:"sync_latency"`
}

// NewSyncRegistry creates an empty registry.
func NewSyncRegistry(logger *utils.StructuredLogger) *SyncRegistry {
	if logger == nil {
		logger = utils.Discard("cachemanager")
	}
	return &SyncRegistry{
		caches: make(map[string]*BytesCache),
		logger: logger,
	}
}

// Register binds a kernel id to its cache. A second registration for
// the same id is ignored.
func (r *SyncRegistry) Register(kernelID string, c *BytesCache) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.caches[kernelID]; ok {
		r.logger.Warn("cache already registered", map[string]interface{}{"kernel": kernelID})
		return
	}
	r.caches[kernelID] = c
	r.logger.Info("cache registered", map[string]interface{}{"kernel": kernelID})
}

// Unregister removes a kernel's cache binding.
func (r *SyncRegistry) Unregister(kernelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.caches[kernelID]; !ok {
		r.logger.Warn("cache not registered", map[string]interface{}{"kernel": kernelID})
		return
	}
	delete(r.caches, kernelID)
	r.logger.Info("cache unregistered", map[string]interface{}{"kernel": kernelID})
}

// SyncData copies the source kernel's live entries into the target
// kernel's cache.
func (r *SyncRegistry) SyncData(sourceID, targetID string) {
	src, dst, ok := r.lookupPair(sourceID, targetID)
	if !ok {
		return
	}

	start := time.Now()
	dst.SyncWith(src)
	r.recordSync(1, 0, time.Since(start))

	r.logger.Debug("cache synced", map[string]interface{}{"source": sourceID, "target": targetID})
}

// MigrateData copies the source kernel's live entries into the target
// kernel's cache; the source keeps its contents.
func (r *SyncRegistry) MigrateData(sourceID, targetID string) {
	src, dst, ok := r.lookupPair(sourceID, targetID)
	if !ok {
		return
	}

	start := time.Now()
	src.MigrateTo(dst)
	r.recordSync(0, 1, time.Since(start))

	r.logger.Debug("cache migrated", map[string]interface{}{"source": sourceID, "target": targetID})
}

// SyncAll pairwise-syncs every registered cache.
func (r *SyncRegistry) SyncAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.caches))
	caches := make([]*BytesCache, 0, len(r.caches))
	for id, c := range r.caches {
		ids = append(ids, id)
		caches = append(caches, c)
	}
	r.mu.Unlock()

	start := time.Now()
	count := uint64(0)
	for i := range caches {
		for j := range caches {
			if i == j {
				continue
			}
			caches[j].SyncWith(caches[i])
			count++
		}
	}
	r.recordSync(count, 0, time.Since(start))

	r.logger.Debug("all caches synced", map[string]interface{}{"kernels": len(ids)})
}

// Stats returns a snapshot of the registry counters.
func (r *SyncRegistry) Stats() SyncStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *SyncRegistry) lookupPair(sourceID, targetID string) (*BytesCache, *BytesCache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sourceID == targetID {
		r.logger.Warn("source and target kernels are the same", map[string]interface{}{"kernel": sourceID})
		return nil, nil, false
	}
	src, ok := r.caches[sourceID]
	if !ok {
		r.logger.Error("source kernel not found", map[string]interface{}{"kernel": sourceID})
		return nil, nil, false
	}
	dst, ok := r.caches[targetID]
	if !ok {
		r.logger.Error("target kernel not found", map[string]interface{}{"kernel": targetID})
		return nil, nil, false
	}
	return src, dst, true
}

func (r *SyncRegistry) recordSync(syncs, migrations uint64, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.SyncCount += syncs
	r.stats.MigrationCount += migrations
	r.stats.LastSync = time.Now()
	r.stats.SyncLatency = (r.stats.SyncLatency + latency) / 2
}
