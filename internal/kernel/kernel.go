// Package kernel implements the polymorphic task-processing engines of
// the fabric: the shared execution core, the seven variants, and the
// orchestration surface that feeds the load balancer.
package kernel

import (
	"github.com/corefabric/corefabric/internal/balancer"
	"github.com/corefabric/corefabric/internal/cache"
	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/internal/hwaccel"
	"github.com/corefabric/corefabric/internal/metrics"
	"github.com/corefabric/corefabric/internal/preload"
	"github.com/corefabric/corefabric/internal/telemetry"
	"github.com/corefabric/corefabric/internal/worker"
	"github.com/corefabric/corefabric/pkg/recovery"
	"github.com/corefabric/corefabric/pkg/types"
	"github.com/corefabric/corefabric/pkg/utils"
)

// EventCallback receives kernel events: (kernel id, payload). Callback
// failures are isolated, never propagated.
type EventCallback func(kernelID string, payload interface{})

// TaskCallback is invoked for each processed task before its data is
// cached.
type TaskCallback func(task types.TaskDescriptor)

// Kernel is the capability set every variant implements.
type Kernel interface {
	Initialize() bool
	Shutdown()
	IsRunning() bool
	Pause()
	Resume()
	Reset() bool

	GetID() string
	GetType() types.KernelType
	GetSupportedFeatures() []string

	GetMetrics() types.PerformanceMetrics
	UpdateMetrics()
	GetExtendedMetrics() types.ExtendedKernelMetrics
	UpdateExtendedMetrics()

	SetResourceLimit(resource string, limit float64)
	GetResourceUsage(resource string) float64

	ScheduleTask(fn func(), priority int)
	ScheduleTaskWithID(id string, fn func(), priority int)
	ScheduleTaskDescriptor(task types.TaskDescriptor)
	ProcessTask(task types.TaskDescriptor) bool
	CancelTask(id string)
	SetTaskCallback(cb TaskCallback)

	SetLoadBalancer(lb *balancer.LoadBalancer)
	GetLoadBalancer() *balancer.LoadBalancer
	SetPreloadManager(pm *preload.Manager)
	WarmupFromPreload()

	SetEventCallback(event string, cb EventCallback)
	RemoveEventCallback(event string)
	TriggerEvent(event string, payload interface{})

	AddChild(child Kernel) error
	RemoveChild(id string)
	GetChildren() []Kernel

	Cache() *cache.BytesCache
	PoolMetrics() worker.Metrics
}

// Options carries the shared collaborators a kernel is wired with.
// Zero-value fields fall back to defaults (discard logger, fresh
// probe, in-memory checkpoint sink).
type Options struct {
	Config       *config.Configuration
	Logger       *utils.StructuredLogger
	Probe        *telemetry.Probe
	Accelerator  *hwaccel.Accelerator
	Collector    *metrics.Collector
	RecoverySink recovery.Sink
	SyncRegistry *cache.SyncRegistry
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfiguration()
	}
	if opts.Logger == nil {
		opts.Logger = utils.Discard("kernel")
	}
	if opts.Probe == nil {
		opts.Probe = telemetry.NewProbe(nil)
	}
	if opts.Accelerator == nil {
		opts.Accelerator = hwaccel.Detect()
	}
	return opts
}
