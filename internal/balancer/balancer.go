// Package balancer implements strategy-driven task-to-kernel
// assignment: resource-aware and workload-specific scoring, a hybrid
// combination of the two, and online strategy switching under
// resource pressure.
package balancer

import (
	"sync"

	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/pkg/types"
	"github.com/corefabric/corefabric/pkg/utils"
)

// Strategy is the closed set of balancing policies.
type Strategy int

const (
	ResourceAware Strategy = iota
	WorkloadSpecific
	HybridAdaptive
	PriorityAdaptive
	LeastLoaded
	RoundRobin
)

// String returns the string representation of a strategy
func (s Strategy) String() string {
	switch s {
	case ResourceAware:
		return "resource_aware"
	case WorkloadSpecific:
		return "workload_specific"
	case HybridAdaptive:
		return "hybrid_adaptive"
	case LeastLoaded:
		return "least_loaded"
	case RoundRobin:
		return "round_robin"
	default:
		return "priority_adaptive"
	}
}

// ParseStrategy maps a strategy name to its enum; unknown names map to
// PriorityAdaptive.
func ParseStrategy(name string) Strategy {
	switch name {
	case "resource_aware":
		return ResourceAware
	case "workload_specific":
		return WorkloadSpecific
	case "hybrid_adaptive":
		return HybridAdaptive
	case "least_loaded":
		return LeastLoaded
	case "round_robin":
		return RoundRobin
	default:
		return PriorityAdaptive
	}
}

// Target is the scheduling surface the balancer dispatches to.
type Target interface {
	ScheduleTask(fn func(), priority int)
	ProcessTask(task types.TaskDescriptor) bool
}

// ResourceWeights are the four resource-score weights.
type ResourceWeights struct {
	CPU     float64
	Memory  float64
	Network float64
	Energy  float64
}

// HighPriorityFloor partitions tasks: priority at or above it is
// dispatched before everything below it.
const HighPriorityFloor = 7

// LoadBalancer assigns tasks to kernels. All state is guarded by one
// mutex; a Balance call is atomic with respect to concurrent calls.
type LoadBalancer struct {
	mu sync.Mutex

	strategy          Strategy
	weights           ResourceWeights
	resourceThreshold float64
	workloadThreshold float64

	rrCounter uint64

	resourceAwareDecisions    uint64
	workloadSpecificDecisions uint64
	totalDecisions            uint64
	strategySwitches          uint64

	logger *utils.StructuredLogger
}

// New creates a balancer with the default hybrid-adaptive strategy,
// weights 0.30/0.25/0.25/0.20 and thresholds 0.8/0.7.
func New(logger *utils.StructuredLogger) *LoadBalancer {
	if logger == nil {
		logger = utils.Discard("loadbalancer")
	}
	return &LoadBalancer{
		strategy: HybridAdaptive,
		weights: ResourceWeights{
			CPU:     0.30,
			Memory:  0.25,
			Network: 0.25,
			Energy:  0.20,
		},
		resourceThreshold: 0.8,
		workloadThreshold: 0.7,
		logger:            logger,
	}
}

// NewFromConfig builds a balancer from the configuration section.
func NewFromConfig(cfg config.BalancerConfig, logger *utils.StructuredLogger) *LoadBalancer {
	lb := New(logger)
	lb.SetStrategyName(cfg.Strategy)
	lb.SetResourceWeights(ResourceWeights{
		CPU:     cfg.CPUWeight,
		Memory:  cfg.MemoryWeight,
		Network: cfg.NetworkWeight,
		Energy:  cfg.EnergyWeight,
	})
	lb.SetAdaptiveThresholds(cfg.ResourceThreshold, cfg.WorkloadThreshold)
	return lb
}

// SetStrategy selects the balancing policy by enum.
func (lb *LoadBalancer) SetStrategy(s Strategy) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.strategy = s
	lb.logger.Debug("strategy set", map[string]interface{}{"strategy": s.String()})
}

// SetStrategyName selects the balancing policy by name; unknown names
// select PriorityAdaptive.
func (lb *LoadBalancer) SetStrategyName(name string) {
	lb.SetStrategy(ParseStrategy(name))
}

// GetStrategy returns the active strategy.
func (lb *LoadBalancer) GetStrategy() Strategy {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.strategy
}

// GetStrategyName returns the active strategy's name.
func (lb *LoadBalancer) GetStrategyName() string {
	return lb.GetStrategy().String()
}

// SetResourceWeights replaces the resource-score weights.
func (lb *LoadBalancer) SetResourceWeights(w ResourceWeights) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.weights = w
	lb.logger.Debug("resource weights updated", map[string]interface{}{
		"cpu": w.CPU, "memory": w.Memory, "network": w.Network, "energy": w.Energy,
	})
}

// SetAdaptiveThresholds replaces the hybrid gating thresholds.
func (lb *LoadBalancer) SetAdaptiveThresholds(resource, workload float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.resourceThreshold = resource
	lb.workloadThreshold = workload
}

// Balance assigns every task to exactly one kernel. High-priority
// tasks (priority >= 7) are dispatched before the rest. The call is a
// no-op when inputs are empty or kernels and metrics disagree.
func (lb *LoadBalancer) Balance(kernels []Target, tasks []types.TaskDescriptor, metrics []types.KernelMetrics) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(kernels) == 0 || len(tasks) == 0 || len(metrics) != len(kernels) {
		return
	}

	lb.logger.Debug("balancing", map[string]interface{}{
		"tasks": len(tasks), "kernels": len(kernels), "strategy": lb.strategy.String(),
	})

	if lb.shouldSwitchStrategy(metrics) {
		switch lb.strategy {
		case ResourceAware:
			lb.strategy = WorkloadSpecific
			lb.strategySwitches++
			lb.logger.Info("switched to workload-specific strategy")
		case WorkloadSpecific:
			lb.strategy = ResourceAware
			lb.strategySwitches++
			lb.logger.Info("switched to resource-aware strategy")
		}
	}

	var high, low []types.TaskDescriptor
	for _, t := range tasks {
		if t.Priority >= HighPriorityFloor {
			high = append(high, t)
		} else {
			low = append(low, t)
		}
	}

	for _, t := range high {
		lb.dispatch(kernels, metrics, t)
	}
	for _, t := range low {
		lb.dispatch(kernels, metrics, t)
	}

	if lb.totalDecisions > 0 {
		lb.logger.Debug("decision ratios", map[string]interface{}{
			"resource_aware":    float64(lb.resourceAwareDecisions) / float64(lb.totalDecisions),
			"workload_specific": float64(lb.workloadSpecificDecisions) / float64(lb.totalDecisions),
			"total":             lb.totalDecisions,
		})
	}
}

// Metrics returns decision counters for diagnostics.
func (lb *LoadBalancer) Metrics() (total, resourceAware, workloadSpecific, switches uint64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.totalDecisions, lb.resourceAwareDecisions, lb.workloadSpecificDecisions, lb.strategySwitches
}

func (lb *LoadBalancer) dispatch(kernels []Target, metrics []types.KernelMetrics, t types.TaskDescriptor) {
	var idx int
	switch lb.strategy {
	case ResourceAware:
		idx = lb.selectByResourceAware(metrics, t)
		lb.resourceAwareDecisions++
	case WorkloadSpecific:
		idx = lb.selectByWorkloadSpecific(metrics, t)
		lb.workloadSpecificDecisions++
	case HybridAdaptive:
		idx = lb.selectByHybridAdaptive(metrics, t)
	case LeastLoaded:
		idx = lb.selectByLeastLoaded(metrics)
	case RoundRobin:
		idx = int(lb.rrCounter % uint64(len(kernels)))
		lb.rrCounter++
	default: // PriorityAdaptive falls back to resource-aware selection
		idx = lb.selectByResourceAware(metrics, t)
		lb.resourceAwareDecisions++
	}
	lb.totalDecisions++

	target := kernels[idx]
	task := t
	target.ScheduleTask(func() { target.ProcessTask(task) }, t.Priority)

	lb.logger.Debug("task dispatched", map[string]interface{}{
		"type": t.Type.String(), "priority": t.Priority, "kernel": idx,
	})
}

func (lb *LoadBalancer) selectByResourceAware(metrics []types.KernelMetrics, t types.TaskDescriptor) int {
	best, bestScore := 0, resourceScore(metrics[0], t, lb.weights)
	for i := 1; i < len(metrics); i++ {
		if score := resourceScore(metrics[i], t, lb.weights); score < bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func (lb *LoadBalancer) selectByWorkloadSpecific(metrics []types.KernelMetrics, t types.TaskDescriptor) int {
	best, bestScore := 0, workloadScore(metrics[0], t)
	for i := 1; i < len(metrics); i++ {
		if score := workloadScore(metrics[i], t); score < bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// selectByHybridAdaptive gates on metrics[0] before combining the two
// scorers. The first-metric gate reproduces the reference behavior; see
// the design notes for the review flag.
func (lb *LoadBalancer) selectByHybridAdaptive(metrics []types.KernelMetrics, t types.TaskDescriptor) int {
	if resourceScore(metrics[0], t, lb.weights) > lb.resourceThreshold {
		idx := lb.selectByResourceAware(metrics, t)
		lb.resourceAwareDecisions++
		return idx
	}
	if t.Type != types.Mixed && workloadScore(metrics[0], t) > lb.workloadThreshold {
		idx := lb.selectByWorkloadSpecific(metrics, t)
		lb.workloadSpecificDecisions++
		return idx
	}

	best, bestScore := 0, lb.combinedScore(metrics[0], t)
	for i := 1; i < len(metrics); i++ {
		if score := lb.combinedScore(metrics[i], t); score < bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func (lb *LoadBalancer) selectByLeastLoaded(metrics []types.KernelMetrics) int {
	best, bestLoad := 0, metrics[0].Load
	for i := 1; i < len(metrics); i++ {
		if metrics[i].Load < bestLoad {
			best, bestLoad = i, metrics[i].Load
		}
	}
	return best
}

func (lb *LoadBalancer) combinedScore(m types.KernelMetrics, t types.TaskDescriptor) float64 {
	return 0.6*resourceScore(m, t, lb.weights) + 0.4*workloadScore(m, t)
}

// shouldSwitchStrategy reports resource pressure: average cpu or
// average memory above 0.9.
func (lb *LoadBalancer) shouldSwitchStrategy(metrics []types.KernelMetrics) bool {
	var cpu, mem float64
	for _, m := range metrics {
		cpu += m.CPUUsage
		mem += m.MemoryUsage
	}
	n := float64(len(metrics))
	return cpu/n > 0.9 || mem/n > 0.9
}

// resourceScore is lower-is-better. The network term scales raw
// bandwidth down by 1 GB/s; the memory term is discounted by the
// task's memory hint against 1 GB.
func resourceScore(m types.KernelMetrics, t types.TaskDescriptor, w ResourceWeights) float64 {
	cpuScore := (1.0 - m.CPUUsage) * w.CPU
	memScore := (1.0 - m.MemoryUsage) * w.Memory
	netScore := (m.NetworkBandwidth / 1000.0) * w.Network
	energyScore := (1.0 - m.EnergyConsumption/100.0) * w.Energy

	if t.EstimatedMemoryUsage > 0 {
		memScore *= 1.0 - float64(t.EstimatedMemoryUsage)/float64(1<<30)
	}

	return cpuScore + memScore + netScore + energyScore
}

// workloadScore is lower-is-better: one minus the kernel's efficiency
// on the task's workload type, averaging all four axes for Mixed.
func workloadScore(m types.KernelMetrics, t types.TaskDescriptor) float64 {
	var efficiency float64
	switch t.Type {
	case types.CPUIntensive:
		efficiency = m.CPUTaskEfficiency
	case types.IOIntensive:
		efficiency = m.IOTaskEfficiency
	case types.MemoryIntensive:
		efficiency = m.MemoryTaskEfficiency
	case types.NetworkIntensive:
		efficiency = m.NetworkTaskEfficiency
	case types.Mixed:
		efficiency = (m.CPUTaskEfficiency + m.IOTaskEfficiency +
			m.MemoryTaskEfficiency + m.NetworkTaskEfficiency) / 4.0
	}
	return 1.0 - efficiency
}
