package balancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefabric/corefabric/pkg/types"
)

// fakeTarget records the schedule calls it receives.
type fakeTarget struct {
	mu         sync.Mutex
	priorities []int
}

func (f *fakeTarget) ScheduleTask(fn func(), priority int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priorities = append(f.priorities, priority)
}

func (f *fakeTarget) ProcessTask(types.TaskDescriptor) bool { return true }

func (f *fakeTarget) scheduled() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.priorities...)
}

func targets(n int) ([]Target, []*fakeTarget) {
	fakes := make([]*fakeTarget, n)
	ts := make([]Target, n)
	for i := range fakes {
		fakes[i] = &fakeTarget{}
		ts[i] = fakes[i]
	}
	return ts, fakes
}

func task(priority int, taskType types.TaskType) types.TaskDescriptor {
	t := types.NewTaskDescriptor([]byte("payload"), taskType)
	t.Priority = priority
	return t
}

func TestStrategyNames(t *testing.T) {
	lb := New(nil)

	assert.Equal(t, "hybrid_adaptive", lb.GetStrategyName(), "default strategy")

	for _, name := range []string{
		"resource_aware", "workload_specific", "hybrid_adaptive", "least_loaded", "round_robin",
	} {
		lb.SetStrategyName(name)
		assert.Equal(t, name, lb.GetStrategyName())
	}

	lb.SetStrategyName("bogus")
	assert.Equal(t, "priority_adaptive", lb.GetStrategyName(), "unknown names map to priority_adaptive")
}

// Hybrid selection must pick the idle, efficient kernel for a
// CPU-intensive task.
func TestHybridSelectsEfficientKernel(t *testing.T) {
	lb := New(nil)
	ts, fakes := targets(2)

	metrics := []types.KernelMetrics{
		{CPUUsage: 0.9, CPUTaskEfficiency: 0.4},
		{CPUUsage: 0.2, CPUTaskEfficiency: 0.9},
	}

	lb.Balance(ts, []types.TaskDescriptor{task(5, types.CPUIntensive)}, metrics)

	assert.Empty(t, fakes[0].scheduled(), "loaded kernel must not receive the task")
	assert.Equal(t, []int{5}, fakes[1].scheduled(), "idle efficient kernel receives the task")
}

// Priority partition: every priority >= 7 task is scheduled before
// every lower-priority task.
func TestPriorityPartitionOrder(t *testing.T) {
	lb := New(nil)
	lb.SetStrategy(RoundRobin)

	recorder := &fakeTarget{}
	ts := []Target{recorder}

	tasks := []types.TaskDescriptor{
		task(3, types.Mixed),
		task(8, types.Mixed),
		task(5, types.Mixed),
	}
	lb.Balance(ts, tasks, make([]types.KernelMetrics, 1))

	assert.Equal(t, []int{8, 3, 5}, recorder.scheduled())
}

// Resource pressure flips resource-aware to workload-specific.
func TestStrategyAutoSwitch(t *testing.T) {
	lb := New(nil)
	lb.SetStrategy(ResourceAware)

	ts, _ := targets(2)
	metrics := []types.KernelMetrics{
		{CPUUsage: 0.95},
		{CPUUsage: 0.95},
	}

	lb.Balance(ts, []types.TaskDescriptor{task(5, types.CPUIntensive)}, metrics)
	assert.Equal(t, "workload_specific", lb.GetStrategyName())

	lb.Balance(ts, []types.TaskDescriptor{task(5, types.CPUIntensive)}, metrics)
	assert.Equal(t, "resource_aware", lb.GetStrategyName(), "second call toggles back")
}

// The hybrid strategy never auto-switches.
func TestHybridDoesNotAutoSwitch(t *testing.T) {
	lb := New(nil)

	ts, _ := targets(1)
	metrics := []types.KernelMetrics{{CPUUsage: 0.99, MemoryUsage: 0.99}}

	lb.Balance(ts, []types.TaskDescriptor{task(5, types.Mixed)}, metrics)
	assert.Equal(t, "hybrid_adaptive", lb.GetStrategyName())
}

// Every task lands on exactly one kernel.
func TestBalanceTotality(t *testing.T) {
	for _, strategy := range []Strategy{
		ResourceAware, WorkloadSpecific, HybridAdaptive, LeastLoaded, RoundRobin, PriorityAdaptive,
	} {
		lb := New(nil)
		lb.SetStrategy(strategy)
		ts, fakes := targets(3)

		var tasks []types.TaskDescriptor
		for i := 0; i < 12; i++ {
			tasks = append(tasks, task(i%11, types.TaskType(i%5)))
		}
		lb.Balance(ts, tasks, make([]types.KernelMetrics, 3))

		total := 0
		for _, f := range fakes {
			total += len(f.scheduled())
		}
		assert.Equalf(t, len(tasks), total, "strategy %s must schedule every task once", strategy)
	}
}

// Identical inputs produce identical per-task assignments for the
// stateless strategies.
func TestBalanceDeterminism(t *testing.T) {
	metrics := []types.KernelMetrics{
		{CPUUsage: 0.3, MemoryUsage: 0.5, Load: 0.4, CPUTaskEfficiency: 0.7, IOTaskEfficiency: 0.2},
		{CPUUsage: 0.6, MemoryUsage: 0.1, Load: 0.2, CPUTaskEfficiency: 0.3, IOTaskEfficiency: 0.9},
		{CPUUsage: 0.1, MemoryUsage: 0.8, Load: 0.7, CPUTaskEfficiency: 0.5, IOTaskEfficiency: 0.5},
	}
	var tasks []types.TaskDescriptor
	for i := 0; i < 9; i++ {
		tasks = append(tasks, task(i%11, types.TaskType(i%5)))
	}

	for _, strategy := range []Strategy{ResourceAware, WorkloadSpecific, HybridAdaptive, LeastLoaded} {
		run := func() [][]int {
			lb := New(nil)
			lb.SetStrategy(strategy)
			ts, fakes := targets(3)
			lb.Balance(ts, tasks, metrics)

			out := make([][]int, len(fakes))
			for i, f := range fakes {
				out[i] = f.scheduled()
			}
			return out
		}
		assert.Equalf(t, run(), run(), "strategy %s must be deterministic", strategy)
	}
}

func TestRoundRobinAdvances(t *testing.T) {
	lb := New(nil)
	lb.SetStrategy(RoundRobin)
	ts, fakes := targets(3)

	var tasks []types.TaskDescriptor
	for i := 0; i < 6; i++ {
		tasks = append(tasks, task(5, types.Mixed))
	}
	lb.Balance(ts, tasks, make([]types.KernelMetrics, 3))

	for i, f := range fakes {
		assert.Lenf(t, f.scheduled(), 2, "kernel %d should receive exactly 2 tasks", i)
	}
}

func TestLeastLoadedPicksLowestLoad(t *testing.T) {
	lb := New(nil)
	lb.SetStrategy(LeastLoaded)
	ts, fakes := targets(3)

	metrics := []types.KernelMetrics{{Load: 0.9}, {Load: 0.1}, {Load: 0.5}}
	lb.Balance(ts, []types.TaskDescriptor{task(5, types.Mixed)}, metrics)

	assert.Len(t, fakes[1].scheduled(), 1)
}

func TestBalanceEmptyInputs(t *testing.T) {
	lb := New(nil)
	ts, _ := targets(2)

	// None of these may panic or schedule anything.
	lb.Balance(nil, []types.TaskDescriptor{task(5, types.Mixed)}, nil)
	lb.Balance(ts, nil, make([]types.KernelMetrics, 2))
	lb.Balance(ts, []types.TaskDescriptor{task(5, types.Mixed)}, make([]types.KernelMetrics, 1))
}

func TestTieBreakByLowestIndex(t *testing.T) {
	lb := New(nil)
	lb.SetStrategy(ResourceAware)
	ts, fakes := targets(3)

	// Identical metrics: index 0 must win the tie.
	metrics := make([]types.KernelMetrics, 3)
	lb.Balance(ts, []types.TaskDescriptor{task(5, types.CPUIntensive)}, metrics)

	require.Len(t, fakes[0].scheduled(), 1)
	assert.Empty(t, fakes[1].scheduled())
	assert.Empty(t, fakes[2].scheduled())
}

func TestDecisionCounters(t *testing.T) {
	lb := New(nil)
	lb.SetStrategy(ResourceAware)
	ts, _ := targets(2)

	lb.Balance(ts, []types.TaskDescriptor{task(5, types.Mixed), task(8, types.Mixed)}, make([]types.KernelMetrics, 2))

	total, resourceAware, _, _ := lb.Metrics()
	assert.Equal(t, uint64(2), total)
	assert.Equal(t, uint64(2), resourceAware)
}
