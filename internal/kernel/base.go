package kernel

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corefabric/corefabric/internal/balancer"
	"github.com/corefabric/corefabric/internal/cache"
	"github.com/corefabric/corefabric/internal/preload"
	"github.com/corefabric/corefabric/internal/worker"
	fabricerrors "github.com/corefabric/corefabric/pkg/errors"
	"github.com/corefabric/corefabric/pkg/recovery"
	"github.com/corefabric/corefabric/pkg/types"
)

// transformFunc lets a variant reshape task payloads before they are
// cached; nil keeps the payload as-is.
type transformFunc func(data []byte) ([]byte, error)

// metricsHook lets a variant react to a fresh telemetry snapshot
// (adaptive pool/cache sizing). It runs without kernel locks held.
type metricsHook func(m types.PerformanceMetrics)

// baseKernel carries the state and behavior shared by every variant.
// Metadata is guarded by one rw-lock; the cache and pool have their
// own locks; no lock is held across a user callback.
type baseKernel struct {
	mu sync.RWMutex

	id    string
	ktype types.KernelType
	opts  Options

	running     bool
	paused      bool
	initialized bool

	dynamicCache *cache.BytesCache
	pool         *worker.Pool
	recoveryMgr  *recovery.Manager
	queue        *taskQueue
	dispatcherWG sync.WaitGroup

	loadBalancer *balancer.LoadBalancer
	preloadMgr   *preload.Manager
	taskCallback TaskCallback
	events       map[string]EventCallback

	currentMetrics  types.PerformanceMetrics
	extendedMetrics types.ExtendedKernelMetrics
	resourceLimits  map[string]float64

	children map[string]Kernel

	transform transformFunc
	onMetrics metricsHook
}

func newBaseKernel(id string, ktype types.KernelType, opts *Options) *baseKernel {
	resolved := opts.withDefaults()
	if id == "" {
		id = fmt.Sprintf("%s_%s", ktype.String(), uuid.NewString()[:8])
	}
	return &baseKernel{
		id:             id,
		ktype:          ktype,
		opts:           resolved,
		events:         make(map[string]EventCallback),
		resourceLimits: make(map[string]float64),
		children:       make(map[string]Kernel),
		queue:          newTaskQueue(),
	}
}

// Initialize builds the kernel's cache, worker pool and recovery
// manager, transitions to running, and warms the cache from the
// preload manager when one is set. A second call fails.
func (k *baseKernel) Initialize() bool {
	k.mu.Lock()

	if k.initialized {
		k.mu.Unlock()
		k.opts.Logger.Warn("kernel already initialized", map[string]interface{}{"kernel": k.id})
		return false
	}

	cfg := k.opts.Config
	if err := cfg.Cache.Validate(); err != nil {
		k.mu.Unlock()
		k.opts.Logger.Error("invalid cache configuration", map[string]interface{}{"kernel": k.id, "error": err.Error()})
		return false
	}

	k.dynamicCache = cache.NewBytes(cfg.Cache.InitialCapacity, cfg.Cache.DefaultTTL, k.opts.Logger)
	if cfg.Cache.CleanupInterval > 0 {
		k.dynamicCache.SetCleanupInterval(cfg.Cache.CleanupInterval)
	}
	if cfg.Cache.AutoResize {
		k.dynamicCache.SetAutoResize(true, cfg.Cache.MinCapacity, cfg.Cache.MaxCapacity)
	}

	pool, err := worker.NewPool(cfg.WorkerPool, k.opts.Logger)
	if err != nil {
		k.dynamicCache.Close()
		k.dynamicCache = nil
		k.mu.Unlock()
		k.opts.Logger.Error("worker pool construction failed", map[string]interface{}{"kernel": k.id, "error": err.Error()})
		return false
	}
	k.pool = pool

	sink := k.opts.RecoverySink
	if sink == nil {
		sink = recovery.NewMemorySink()
	}
	recoveryMgr, err := recovery.NewManager(cfg.Recovery, sink, k.opts.Logger)
	if err != nil {
		k.pool.Stop()
		k.pool = nil
		k.dynamicCache.Close()
		k.dynamicCache = nil
		k.mu.Unlock()
		k.opts.Logger.Error("recovery manager construction failed", map[string]interface{}{"kernel": k.id, "error": err.Error()})
		return false
	}
	k.recoveryMgr = recoveryMgr
	k.recoveryMgr.SetStateCapture(k.captureState)
	k.recoveryMgr.SetStateRestore(k.restoreState)

	if k.opts.SyncRegistry != nil {
		k.opts.SyncRegistry.Register(k.id, k.dynamicCache)
	}

	k.queue.reopen()
	k.running = true
	k.paused = false
	k.initialized = true

	k.dispatcherWG.Add(1)
	go k.dispatch()

	hasPreload := k.preloadMgr != nil
	k.mu.Unlock()

	if hasPreload {
		k.WarmupFromPreload()
	}

	k.opts.Logger.Info("kernel initialized", map[string]interface{}{
		"kernel": k.id, "type": k.ktype.String(),
	})
	return true
}

// Shutdown stops the pool, releases the recovery manager and clears
// the cache. Idempotent.
func (k *baseKernel) Shutdown() {
	k.mu.Lock()
	if !k.running && !k.initialized {
		k.mu.Unlock()
		return
	}
	k.running = false
	k.initialized = false
	pool := k.pool
	dynCache := k.dynamicCache
	k.pool = nil
	k.recoveryMgr = nil
	k.dynamicCache = nil
	k.mu.Unlock()

	k.queue.close()
	k.dispatcherWG.Wait()

	if pool != nil {
		pool.Stop()
	}
	if dynCache != nil {
		dynCache.Clear()
		dynCache.Close()
	}
	if k.opts.SyncRegistry != nil {
		k.opts.SyncRegistry.Unregister(k.id)
	}

	k.opts.Logger.Info("kernel shut down", map[string]interface{}{"kernel": k.id})
}

// IsRunning reports whether the kernel accepts work.
func (k *baseKernel) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Pause stops task dispatch; queued tasks stay queued.
func (k *baseKernel) Pause() {
	k.mu.Lock()
	k.paused = true
	k.mu.Unlock()
	k.queue.setPaused(true)
}

// Resume restarts task dispatch.
func (k *baseKernel) Resume() {
	k.mu.Lock()
	k.paused = false
	k.mu.Unlock()
	k.queue.setPaused(false)
}

// Reset shuts the kernel down and initializes it again.
func (k *baseKernel) Reset() bool {
	k.Shutdown()
	return k.Initialize()
}

// GetID returns the stable kernel id.
func (k *baseKernel) GetID() string {
	return k.id
}

// GetType returns the kernel variant tag.
func (k *baseKernel) GetType() types.KernelType {
	return k.ktype
}

// GetSupportedFeatures lists the acceleration features the host
// exposes to this kernel.
func (k *baseKernel) GetSupportedFeatures() []string {
	return k.opts.Accelerator.Features()
}

// GetMetrics returns the last telemetry snapshot.
func (k *baseKernel) GetMetrics() types.PerformanceMetrics {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.currentMetrics
}

// UpdateMetrics samples platform telemetry, recomputes the efficiency
// score, stores the snapshot, and lets the variant adapt.
func (k *baseKernel) UpdateMetrics() {
	sample := k.opts.Probe.Read()

	accelUsage := 0.0
	if k.opts.Accelerator.Available() {
		accelUsage = 1.0
	}

	m := types.PerformanceMetrics{
		CPUUsage:          sample.CPUUsage,
		MemoryUsage:       sample.MemoryUsage,
		PowerConsumption:  sample.PowerWatts,
		Temperature:       sample.Temperature,
		PhysicalCoreUsage: sample.PhysicalCoreUsage,
		LogicalCoreUsage:  sample.LogicalCoreUsage,
		EfficiencyScore: sample.PhysicalCoreUsage*0.4 +
			sample.LogicalCoreUsage*0.3 +
			accelUsage*0.3,
		Timestamp: time.Now(),
	}

	k.mu.RLock()
	dynCache := k.dynamicCache
	k.mu.RUnlock()
	if dynCache != nil {
		m.CacheEfficiency = dynCache.GetMetrics().HitRate
	}

	k.mu.Lock()
	k.currentMetrics = m
	hook := k.onMetrics
	k.mu.Unlock()

	if hook != nil {
		hook(m)
	}

	k.UpdateExtendedMetrics()

	if k.opts.Collector != nil {
		k.opts.Collector.ObserveKernel(k.id, k.GetExtendedMetrics())
		if dynCache != nil {
			cm := dynCache.GetMetrics()
			k.opts.Collector.ObserveCache(k.id, cm.HitRate, cm.Size)
		}
		pm := k.PoolMetrics()
		k.opts.Collector.ObservePool(k.id, pm.QueueDepth, pm.ActiveWorkers)
	}
}

// GetExtendedMetrics returns the last extended snapshot.
func (k *baseKernel) GetExtendedMetrics() types.ExtendedKernelMetrics {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.extendedMetrics
}

// UpdateExtendedMetrics derives the balancer-facing snapshot from the
// telemetry snapshot, applying the variant's workload multipliers.
func (k *baseKernel) UpdateExtendedMetrics() {
	pending := k.queue.len()
	pm := k.PoolMetrics()

	k.mu.Lock()
	defer k.mu.Unlock()

	perf := k.currentMetrics
	ext := types.ExtendedKernelMetrics{
		Load:            perf.CPUUsage,
		Latency:         perf.Latency,
		CacheEfficiency: perf.CacheEfficiency,
		TunnelBandwidth: perf.TunnelBandwidth,
		ActiveTasks:     pending + pm.QueueDepth + pm.ActiveWorkers,

		CPUUsage:          perf.CPUUsage,
		MemoryUsage:       perf.MemoryUsage,
		NetworkBandwidth:  1000.0,
		DiskIO:            1000.0,
		EnergyConsumption: perf.PowerConsumption,
	}

	base := perf.EfficiencyScore
	ext.CPUTaskEfficiency = base * multiplier(k.ktype == types.KernelComputational, 1.2)
	ext.IOTaskEfficiency = base * multiplier(k.ktype == types.KernelMicro, 1.1)
	ext.MemoryTaskEfficiency = base * multiplier(k.ktype == types.KernelArchitectural, 1.15)
	ext.NetworkTaskEfficiency = base * multiplier(k.ktype == types.KernelOrchestration, 1.25)

	k.extendedMetrics = ext
}

func multiplier(applies bool, factor float64) float64 {
	if applies {
		return factor
	}
	return 1.0
}

// SetResourceLimit records a limit. "threads" resizes the worker pool
// and "cache" resizes the dynamic cache; other keys are recorded only.
func (k *baseKernel) SetResourceLimit(resource string, limit float64) {
	k.mu.Lock()
	k.resourceLimits[resource] = limit
	pool := k.pool
	dynCache := k.dynamicCache
	k.mu.Unlock()

	switch resource {
	case "threads":
		if pool != nil {
			cfg := pool.Configuration()
			cfg.MaxWorkers = int(limit)
			if cfg.MinWorkers > cfg.MaxWorkers {
				cfg.MinWorkers = cfg.MaxWorkers
			}
			if err := pool.SetConfiguration(cfg); err != nil {
				k.opts.Logger.Error("failed to apply thread limit", map[string]interface{}{
					"kernel": k.id, "error": err.Error(),
				})
			}
		}
	case "cache":
		if dynCache != nil {
			dynCache.Resize(int(limit))
		}
	default:
		k.opts.Logger.Warn("unknown resource", map[string]interface{}{
			"kernel": k.id, "resource": resource,
		})
	}
}

// GetResourceUsage reports current usage for "threads" and "cache";
// unknown keys read as zero.
func (k *baseKernel) GetResourceUsage(resource string) float64 {
	k.mu.RLock()
	pool := k.pool
	dynCache := k.dynamicCache
	k.mu.RUnlock()

	switch resource {
	case "threads":
		if pool != nil {
			return float64(pool.GetMetrics().ActiveWorkers)
		}
	case "cache":
		if dynCache != nil {
			return float64(dynCache.AllocatedSize())
		}
	default:
		k.opts.Logger.Warn("unknown resource", map[string]interface{}{
			"kernel": k.id, "resource": resource,
		})
	}
	return 0
}

// ScheduleTask pushes a closure onto the priority queue. When the
// kernel is not running the task is logged and dropped.
func (k *baseKernel) ScheduleTask(fn func(), priority int) {
	k.ScheduleTaskWithID("", fn, priority)
}

// ScheduleTaskWithID is ScheduleTask with a cancellation id.
func (k *baseKernel) ScheduleTaskWithID(id string, fn func(), priority int) {
	if fn == nil {
		return
	}

	k.mu.RLock()
	running := k.running
	k.mu.RUnlock()

	if !running {
		k.opts.Logger.Warn("task dropped: kernel not running", map[string]interface{}{
			"kernel": k.id, "priority": priority,
		})
		return
	}

	k.queue.push(id, fn, priority)
	k.opts.Logger.Debug("task scheduled", map[string]interface{}{
		"kernel": k.id, "priority": priority,
	})
}

// ScheduleTaskDescriptor schedules processing of a full descriptor at
// its own priority.
func (k *baseKernel) ScheduleTaskDescriptor(task types.TaskDescriptor) {
	id := taskKey(task)
	k.ScheduleTaskWithID(id, func() { k.ProcessTask(task) }, task.Priority)
}

// ProcessTask runs the task callback, stores the (possibly
// transformed) payload in the cache, refreshes extended metrics, and
// fires task_processed or task_failed.
func (k *baseKernel) ProcessTask(task types.TaskDescriptor) bool {
	k.mu.RLock()
	running := k.running
	callback := k.taskCallback
	dynCache := k.dynamicCache
	transform := k.transform
	k.mu.RUnlock()

	if !running {
		k.opts.Logger.Warn("task rejected: kernel not running", map[string]interface{}{"kernel": k.id})
		return false
	}

	if callback != nil {
		if err := k.invokeTaskCallback(callback, task); err != nil {
			k.failTask(task, err)
			return false
		}
	}

	data := task.Data
	if transform != nil {
		transformed, err := transform(task.Data)
		if err != nil {
			k.failTask(task, err)
			return false
		}
		data = transformed
	}

	if dynCache != nil {
		dynCache.Put(taskKey(task), data)
	}

	k.UpdateExtendedMetrics()
	k.TriggerEvent("task_processed", task)
	if k.opts.Collector != nil {
		k.opts.Collector.CountTaskProcessed(k.id)
	}

	k.opts.Logger.Debug("task processed", map[string]interface{}{
		"kernel": k.id, "type": task.Type.String(), "priority": task.Priority,
	})
	return true
}

func (k *baseKernel) failTask(task types.TaskDescriptor, err error) {
	k.opts.Logger.Error("task failed", map[string]interface{}{
		"kernel": k.id, "error": err.Error(),
	})
	k.TriggerEvent("task_failed", err.Error())
	if k.opts.Collector != nil {
		k.opts.Collector.CountTaskFailed(k.id)
	}
}

// invokeTaskCallback isolates panics from the user callback.
func (k *baseKernel) invokeTaskCallback(cb TaskCallback, task types.TaskDescriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fabricerrors.NewError(fabricerrors.ErrCodeCallbackFailure,
				fmt.Sprintf("task callback panicked: %v", r)).
				WithComponent("kernel").WithOperation("process_task")
		}
	}()
	cb(task)
	return nil
}

// CancelTask marks a task id so the dispatcher skips it.
func (k *baseKernel) CancelTask(id string) {
	k.queue.cancel(id)
	k.opts.Logger.Debug("task cancelled", map[string]interface{}{"kernel": k.id, "task": id})
}

// SetTaskCallback installs the per-task callback.
func (k *baseKernel) SetTaskCallback(cb TaskCallback) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.taskCallback = cb
}

// SetLoadBalancer shares a balancer with this kernel.
func (k *baseKernel) SetLoadBalancer(lb *balancer.LoadBalancer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.loadBalancer = lb
}

// GetLoadBalancer returns the shared balancer, if any.
func (k *baseKernel) GetLoadBalancer() *balancer.LoadBalancer {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.loadBalancer
}

// SetPreloadManager shares a preload manager with this kernel.
func (k *baseKernel) SetPreloadManager(pm *preload.Manager) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.preloadMgr = pm
}

// WarmupFromPreload copies every preload key's value into the cache.
// It never fails the caller; the outcome is reported through the
// warmup_completed / warmup_failed events.
func (k *baseKernel) WarmupFromPreload() {
	k.mu.RLock()
	pm := k.preloadMgr
	dynCache := k.dynamicCache
	k.mu.RUnlock()

	if pm == nil || dynCache == nil {
		k.opts.Logger.Warn("warm-up skipped: preload manager or cache unavailable", map[string]interface{}{"kernel": k.id})
		k.TriggerEvent("warmup_failed", "preload manager or cache unavailable")
		return
	}

	keys := pm.GetAllKeys()
	loaded := 0
	for _, key := range keys {
		if data, ok := pm.GetDataForKey(key); ok {
			dynCache.Put(key, data)
			loaded++
		}
	}

	k.opts.Logger.Info("warm-up completed", map[string]interface{}{
		"kernel": k.id, "keys": loaded,
	})
	k.TriggerEvent("warmup_completed", loaded)
}

// SetEventCallback binds the single callback for an event name.
func (k *baseKernel) SetEventCallback(event string, cb EventCallback) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.events[event] = cb
}

// RemoveEventCallback unbinds an event's callback.
func (k *baseKernel) RemoveEventCallback(event string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.events, event)
}

// TriggerEvent invokes the callback bound to event, isolating callback
// failures. The callback runs with no kernel locks held.
func (k *baseKernel) TriggerEvent(event string, payload interface{}) {
	k.mu.RLock()
	cb := k.events[event]
	k.mu.RUnlock()

	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			k.opts.Logger.Error("event callback panicked", map[string]interface{}{
				"kernel": k.id, "event": event, "panic": r,
			})
		}
	}()
	cb(k.id, payload)
}

// AddChild inserts a child kernel, rejecting self-links and cycles.
func (k *baseKernel) AddChild(child Kernel) error {
	if child == nil {
		return fabricerrors.NewError(fabricerrors.ErrCodeInvalidArgument, "nil child").
			WithComponent("kernel").WithOperation("add_child")
	}
	if child.GetID() == k.id || isDescendant(child, k.id) {
		return fabricerrors.NewError(fabricerrors.ErrCodeCycleDetected,
			"child would create a composition cycle").
			WithComponent("kernel").WithOperation("add_child").
			WithContext("child", child.GetID())
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.children[child.GetID()] = child
	return nil
}

// RemoveChild removes a child by id.
func (k *baseKernel) RemoveChild(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.children, id)
}

// GetChildren returns a snapshot of the child set.
func (k *baseKernel) GetChildren() []Kernel {
	k.mu.RLock()
	defer k.mu.RUnlock()

	children := make([]Kernel, 0, len(k.children))
	for _, child := range k.children {
		children = append(children, child)
	}
	return children
}

// Cache exposes the kernel's dynamic cache; nil before Initialize.
func (k *baseKernel) Cache() *cache.BytesCache {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.dynamicCache
}

// PoolMetrics returns the worker pool snapshot; zero before Initialize.
func (k *baseKernel) PoolMetrics() worker.Metrics {
	k.mu.RLock()
	pool := k.pool
	k.mu.RUnlock()

	if pool == nil {
		return worker.Metrics{}
	}
	return pool.GetMetrics()
}

// RecoveryManager exposes the kernel's checkpoint manager; nil before
// Initialize.
func (k *baseKernel) RecoveryManager() *recovery.Manager {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.recoveryMgr
}

// dispatch drains the priority queue into the FIFO pool in (priority
// desc, enqueue order), so pool workers observe priority order.
func (k *baseKernel) dispatch() {
	defer k.dispatcherWG.Done()

	for {
		task, ok := k.queue.pop()
		if !ok {
			return
		}

		for {
			k.mu.RLock()
			pool := k.pool
			k.mu.RUnlock()
			if pool == nil {
				return
			}

			err := pool.Enqueue(task.fn)
			if err == nil {
				break
			}
			fe, isFabric := err.(*fabricerrors.FabricError)
			if isFabric && fe.Code == fabricerrors.ErrCodeQueueFull {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			// Pool stopped mid-shutdown; drop the task.
			return
		}
	}
}

// captureState serializes the kernel's metric snapshots for the
// recovery manager.
func (k *baseKernel) captureState() ([]byte, error) {
	k.mu.RLock()
	snapshot := struct {
		ID       string                     `json:"id"`
		Type     string                     `json:"type"`
		Metrics  types.PerformanceMetrics   `json:"metrics"`
		Extended types.ExtendedKernelMetrics `json:"extended"`
	}{
		ID:       k.id,
		Type:     k.ktype.String(),
		Metrics:  k.currentMetrics,
		Extended: k.extendedMetrics,
	}
	k.mu.RUnlock()

	return json.Marshal(snapshot)
}

// restoreState applies a captured snapshot back onto the kernel.
func (k *baseKernel) restoreState(state []byte) bool {
	var snapshot struct {
		Metrics  types.PerformanceMetrics   `json:"metrics"`
		Extended types.ExtendedKernelMetrics `json:"extended"`
	}
	if err := json.Unmarshal(state, &snapshot); err != nil {
		k.opts.Logger.Error("state restore failed", map[string]interface{}{
			"kernel": k.id, "error": err.Error(),
		})
		return false
	}

	k.mu.Lock()
	k.currentMetrics = snapshot.Metrics
	k.extendedMetrics = snapshot.Extended
	k.mu.Unlock()
	return true
}

// isDescendant reports whether id appears anywhere under root.
func isDescendant(root Kernel, id string) bool {
	for _, child := range root.GetChildren() {
		if child.GetID() == id || isDescendant(child, id) {
			return true
		}
	}
	return false
}

// taskKey is the cache key a processed task's payload is stored under.
func taskKey(task types.TaskDescriptor) string {
	return fmt.Sprintf("task_%d_%d", task.Priority, task.EnqueueTime.UnixMilli())
}
