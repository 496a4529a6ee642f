package kernel

import (
	"sort"
	"sync"
	"time"

	"github.com/corefabric/corefabric/internal/balancer"
	"github.com/corefabric/corefabric/internal/tunnel"
	"github.com/corefabric/corefabric/pkg/types"
)

// OrchestrationKernel maintains a task backlog and drives the shared
// load balancer over a set of target kernels, assembling each target's
// metric snapshot from its telemetry, pool depth and tunnel bandwidth.
type OrchestrationKernel struct {
	*baseKernel

	backlogMu sync.Mutex
	backlog   []types.TaskDescriptor

	tunnels *tunnel.Manager
}

// NewOrchestrationKernel creates an orchestration kernel.
func NewOrchestrationKernel(id string, tunnels *tunnel.Manager, opts *Options) *OrchestrationKernel {
	k := &OrchestrationKernel{
		baseKernel: newBaseKernel(id, types.KernelOrchestration, opts),
		tunnels:    tunnels,
	}
	return k
}

// EnqueueTask appends a task to the backlog with a fresh enqueue
// timestamp. The payload is also cached as the most recent intake.
func (k *OrchestrationKernel) EnqueueTask(data []byte, priority int) {
	desc := types.TaskDescriptor{
		Data:        data,
		Priority:    priority,
		EnqueueTime: time.Now(),
		Type:        types.Mixed,
	}

	k.backlogMu.Lock()
	k.backlog = append(k.backlog, desc)
	depth := len(k.backlog)
	k.backlogMu.Unlock()

	if c := k.Cache(); c != nil {
		c.Put("last_enqueued_task", data)
	}

	k.opts.Logger.Debug("task enqueued", map[string]interface{}{
		"kernel": k.id, "priority": priority, "backlog": depth,
	})
}

// EnqueueTaskDescriptor appends a fully formed descriptor to the
// backlog.
func (k *OrchestrationKernel) EnqueueTaskDescriptor(task types.TaskDescriptor) {
	k.backlogMu.Lock()
	k.backlog = append(k.backlog, task)
	k.backlogMu.Unlock()
}

// BacklogDepth returns the number of tasks awaiting orchestration.
func (k *OrchestrationKernel) BacklogDepth() int {
	k.backlogMu.Lock()
	defer k.backlogMu.Unlock()
	return len(k.backlog)
}

// AssembleMetrics computes the balancer input for each kernel from its
// extended snapshot, its pool queue depth, and its tunnel bandwidth.
func (k *OrchestrationKernel) AssembleMetrics(kernels []Kernel) []types.KernelMetrics {
	metrics := make([]types.KernelMetrics, 0, len(kernels))
	for _, kern := range kernels {
		m := kern.GetExtendedMetrics()
		m.Load = kern.GetMetrics().CPUUsage
		m.ActiveTasks += kern.PoolMetrics().QueueDepth
		if k.tunnels != nil {
			m.TunnelBandwidth = k.tunnels.Bandwidth(kern.GetID())
		}
		metrics = append(metrics, m)
	}
	return metrics
}

// BalanceTasks drains the backlog greedily: tasks in priority order
// each go to the least-loaded kernel, emulating load growth of +0.1
// per assignment.
func (k *OrchestrationKernel) BalanceTasks(kernels []Kernel) {
	if len(kernels) == 0 {
		return
	}

	k.backlogMu.Lock()
	tasks := k.backlog
	k.backlog = nil
	k.backlogMu.Unlock()

	if len(tasks) == 0 {
		return
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority > tasks[j].Priority
	})

	loads := make([]float64, len(kernels))
	for i, kern := range kernels {
		loads[i] = kern.GetMetrics().CPUUsage
	}

	for _, task := range tasks {
		idx := 0
		for i := 1; i < len(loads); i++ {
			if loads[i] < loads[idx] {
				idx = i
			}
		}
		kernels[idx].ScheduleTaskDescriptor(task)
		loads[idx] += 0.1

		k.opts.Logger.Debug("backlog task assigned", map[string]interface{}{
			"kernel": kernels[idx].GetID(), "priority": task.Priority, "load": loads[idx],
		})
	}

	k.opts.Logger.Info("backlog balanced", map[string]interface{}{
		"kernel": k.id, "tasks": len(tasks),
	})
}

// Orchestrate hands the backlog to the shared load balancer with
// freshly assembled metrics, then clears the backlog. Without a
// balancer the call is a no-op.
func (k *OrchestrationKernel) Orchestrate(kernels []Kernel) {
	lb := k.GetLoadBalancer()
	if lb == nil || len(kernels) == 0 {
		return
	}

	k.backlogMu.Lock()
	tasks := k.backlog
	k.backlog = nil
	k.backlogMu.Unlock()

	if len(tasks) == 0 {
		return
	}

	targets := make([]balancer.Target, len(kernels))
	for i, kern := range kernels {
		targets[i] = kern
	}

	lb.Balance(targets, tasks, k.AssembleMetrics(kernels))

	k.opts.Logger.Info("orchestration cycle completed", map[string]interface{}{
		"kernel": k.id, "tasks": len(tasks), "targets": len(kernels),
	})
}

// AccelerateTunnels decays every tunnel's recorded bandwidth by 10%.
// It reads no kernel snapshot.
func (k *OrchestrationKernel) AccelerateTunnels() {
	if k.tunnels == nil {
		return
	}
	for _, t := range k.tunnels.Tunnels() {
		k.tunnels.SetBandwidth(t.From, t.To, t.Bandwidth*0.9)
	}
}
