package kernel

import (
	"bytes"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/internal/preload"
	"github.com/corefabric/corefabric/pkg/types"
)

func testKernelConfig() *config.Configuration {
	cfg := config.DefaultConfiguration()
	cfg.Cache.InitialCapacity = 8
	cfg.WorkerPool.MinWorkers = 1
	cfg.WorkerPool.MaxWorkers = 1
	cfg.WorkerPool.QueueSize = 32
	cfg.Recovery.Sink = "memory"
	cfg.Recovery.StoragePath = ""
	return cfg
}

func testOptions() *Options {
	return &Options{Config: testKernelConfig()}
}

func TestKernelLifecycle(t *testing.T) {
	k := NewMicroKernel("micro_test", testOptions())

	assert.False(t, k.IsRunning())
	require.True(t, k.Initialize())
	assert.True(t, k.IsRunning())

	assert.False(t, k.Initialize(), "second initialize must fail")

	k.Shutdown()
	assert.False(t, k.IsRunning())
	k.Shutdown() // idempotent
}

func TestScheduleAfterShutdownDrops(t *testing.T) {
	k := NewMicroKernel("micro_drop", testOptions())
	require.True(t, k.Initialize())
	k.Shutdown()

	ran := false
	k.ScheduleTask(func() { ran = true }, 5)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, ran, "tasks scheduled on a stopped kernel are dropped")
	assert.False(t, k.ProcessTask(types.NewTaskDescriptor([]byte("x"), types.Mixed)))
}

func TestProcessTaskStoresPayloadAndFiresEvent(t *testing.T) {
	k := NewMicroKernel("micro_proc", testOptions())

	var processedMu sync.Mutex
	var processed []types.TaskDescriptor
	k.SetEventCallback("task_processed", func(kernelID string, payload interface{}) {
		processedMu.Lock()
		defer processedMu.Unlock()
		processed = append(processed, payload.(types.TaskDescriptor))
	})

	require.True(t, k.Initialize())
	defer k.Shutdown()

	task := types.NewTaskDescriptor([]byte("payload"), types.IOIntensive)
	require.True(t, k.ProcessTask(task))

	got, ok := k.Cache().Get(taskKey(task))
	require.True(t, ok, "processed payload must land in the cache")
	assert.Equal(t, []byte("payload"), got)

	processedMu.Lock()
	defer processedMu.Unlock()
	require.Len(t, processed, 1)
	assert.Equal(t, task.Priority, processed[0].Priority)
}

func TestTaskCallbackPanicFiresTaskFailed(t *testing.T) {
	k := NewMicroKernel("micro_panic", testOptions())

	failed := make(chan interface{}, 1)
	k.SetEventCallback("task_failed", func(_ string, payload interface{}) {
		failed <- payload
	})
	k.SetTaskCallback(func(types.TaskDescriptor) { panic("callback boom") })

	require.True(t, k.Initialize())
	defer k.Shutdown()

	assert.False(t, k.ProcessTask(types.NewTaskDescriptor([]byte("x"), types.Mixed)))

	select {
	case payload := <-failed:
		assert.Contains(t, payload.(string), "panicked")
	case <-time.After(time.Second):
		t.Fatal("task_failed event not fired")
	}
}

// With the kernel paused, queued tasks drain in (priority desc,
// enqueue order) once resumed.
func TestPriorityOrdering(t *testing.T) {
	k := NewMicroKernel("micro_prio", testOptions())
	require.True(t, k.Initialize())
	defer k.Shutdown()

	k.Pause()

	var mu sync.Mutex
	var order []int
	record := func(p int) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, p)
		}
	}

	k.ScheduleTask(record(1), 1)
	k.ScheduleTask(record(9), 9)
	k.ScheduleTask(record(5), 5)
	k.ScheduleTask(record(9), 9) // equal priority keeps enqueue order

	k.Resume()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{9, 9, 5, 1}, order)
}

func TestCancelTaskSkipsDequeued(t *testing.T) {
	k := NewMicroKernel("micro_cancel", testOptions())
	require.True(t, k.Initialize())
	defer k.Shutdown()

	k.Pause()

	ran := make(map[string]bool)
	var mu sync.Mutex
	mark := func(id string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			ran[id] = true
		}
	}

	k.ScheduleTaskWithID("keep", mark("keep"), 5)
	k.ScheduleTaskWithID("drop", mark("drop"), 5)
	k.CancelTask("drop")

	k.Resume()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		kept := ran["keep"]
		mu.Unlock()
		if kept {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran["keep"])
	assert.False(t, ran["drop"], "cancelled task must be skipped")
}

// Warm-up copies every preload key into the cache and reports the
// count through warmup_completed.
func TestWarmupFromPreload(t *testing.T) {
	pm, err := preload.NewManager(config.PreloadConfig{
		MaxQueueSize:       16,
		MaxBatchSize:       1024,
		MaxConcurrentTasks: 2,
	}, nil)
	require.NoError(t, err)
	defer pm.Stop()

	for _, key := range []string{"k1", "k2", "k3"} {
		require.True(t, pm.PreloadData(key, []byte(key)))
	}

	k := NewMicroKernel("micro_warm", testOptions())
	k.SetPreloadManager(pm)

	completed := make(chan interface{}, 1)
	k.SetEventCallback("warmup_completed", func(_ string, payload interface{}) {
		completed <- payload
	})

	require.True(t, k.Initialize())
	defer k.Shutdown()

	select {
	case payload := <-completed:
		assert.Equal(t, 3, payload)
	case <-time.After(time.Second):
		t.Fatal("warmup_completed not fired")
	}

	for _, key := range []string{"k1", "k2", "k3"} {
		got, ok := k.Cache().Get(key)
		require.Truef(t, ok, "expected %s in cache after warm-up", key)
		assert.Equal(t, []byte(key), got)
	}
}

func TestWarmupWithoutPreloadFails(t *testing.T) {
	k := NewMicroKernel("micro_nowarm", testOptions())

	failed := make(chan interface{}, 1)
	k.SetEventCallback("warmup_failed", func(_ string, payload interface{}) {
		failed <- payload
	})

	require.True(t, k.Initialize())
	defer k.Shutdown()

	k.WarmupFromPreload()

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("warmup_failed not fired")
	}
}

func TestAddChildRejectsCycles(t *testing.T) {
	parent := NewParentKernel("parent", testOptions())
	child := NewMicroKernel("child", testOptions())
	grandchild := NewMicroKernel("grandchild", testOptions())

	require.NoError(t, parent.AddChild(child))
	require.NoError(t, child.AddChild(grandchild))

	assert.Error(t, child.AddChild(parent), "ancestor as child is a cycle")
	assert.Error(t, grandchild.AddChild(parent), "transitive cycle must be rejected")
	assert.Error(t, parent.AddChild(parent), "self-link is a cycle")

	assert.Len(t, parent.GetChildren(), 1)
	parent.RemoveChild("child")
	assert.Empty(t, parent.GetChildren())
}

func TestEventCallbackIsolation(t *testing.T) {
	k := NewMicroKernel("micro_event", testOptions())
	k.SetEventCallback("custom", func(string, interface{}) { panic("handler boom") })

	// Must not propagate the panic.
	k.TriggerEvent("custom", nil)

	k.RemoveEventCallback("custom")
	k.TriggerEvent("custom", nil)
}

func TestExtendedMetricsTypeMultipliers(t *testing.T) {
	cases := []struct {
		kernel Kernel
		check  func(m types.ExtendedKernelMetrics) float64
		want   float64
	}{
		{NewComputationalKernel("comp", testOptions()), func(m types.ExtendedKernelMetrics) float64 { return m.CPUTaskEfficiency }, 0.6},
		{NewMicroKernel("mic", testOptions()), func(m types.ExtendedKernelMetrics) float64 { return m.IOTaskEfficiency }, 0.55},
		{NewArchitecturalKernel("arch", testOptions()), func(m types.ExtendedKernelMetrics) float64 { return m.MemoryTaskEfficiency }, 0.575},
	}

	for _, tc := range cases {
		setEfficiency(t, tc.kernel, 0.5)
		tc.kernel.UpdateExtendedMetrics()
		assert.InDelta(t, tc.want, tc.check(tc.kernel.GetExtendedMetrics()), 1e-9)
	}
}

// setEfficiency plants a telemetry snapshot directly.
func setEfficiency(t *testing.T, k Kernel, score float64) {
	t.Helper()
	switch v := k.(type) {
	case *ComputationalKernel:
		v.baseKernel.currentMetrics.EfficiencyScore = score
	case *MicroKernel:
		v.baseKernel.currentMetrics.EfficiencyScore = score
	case *ArchitecturalKernel:
		v.baseKernel.currentMetrics.EfficiencyScore = score
	default:
		t.Fatalf("unsupported kernel type %T", k)
	}
}

func TestCryptoKernelDigestsPayload(t *testing.T) {
	k := NewCryptoKernel("crypto_test", testOptions())
	require.True(t, k.Initialize())
	defer k.Shutdown()

	payload := []byte("secret material")
	task := types.NewTaskDescriptor(payload, types.CPUIntensive)
	require.True(t, k.ProcessTask(task))

	want := sha256.Sum256(payload)
	got, ok := k.Cache().Get(taskKey(task))
	require.True(t, ok)
	assert.True(t, bytes.Equal(want[:], got), "crypto kernel caches the digest, not the payload")

	digest, ok := k.Execute(payload)
	require.True(t, ok)
	assert.Equal(t, want[:], digest)
}

func TestResourceLimitsAndUsage(t *testing.T) {
	k := NewParentKernel("parent_limits", testOptions())
	require.True(t, k.Initialize())
	defer k.Shutdown()

	k.SetResourceLimit("cache", 4)
	assert.Equal(t, 4.0, k.GetResourceUsage("cache"))

	k.SetResourceLimit("threads", 2)

	// Unknown keys log and no-op.
	k.SetResourceLimit("bandwidth", 1)
	assert.Equal(t, 0.0, k.GetResourceUsage("bandwidth"))
}

func TestMicroExecuteTask(t *testing.T) {
	k := NewMicroKernel("micro_exec", testOptions())
	require.True(t, k.Initialize())
	defer k.Shutdown()

	require.True(t, k.ExecuteTask([]byte("inline")))

	got, ok := k.Cache().Get("task")
	require.True(t, ok)
	assert.Equal(t, []byte("inline"), got)

	require.NotNil(t, k.RecoveryManager())
	assert.Equal(t, 1, k.RecoveryManager().GetMetrics().TotalPoints)
}

func TestKernelReset(t *testing.T) {
	k := NewMicroKernel("micro_reset", testOptions())
	require.True(t, k.Initialize())

	k.Cache().Put("stale", []byte("v"))
	require.True(t, k.Reset())
	defer k.Shutdown()

	assert.True(t, k.IsRunning())
	_, ok := k.Cache().Get("stale")
	assert.False(t, ok, "reset rebuilds the cache")
}
