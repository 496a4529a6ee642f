// Package metrics exports fabric runtime metrics through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corefabric/corefabric/pkg/types"
)

// Collector registers and updates the fabric's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	kernelLoad        *prometheus.GaugeVec
	kernelActiveTasks *prometheus.GaugeVec
	cacheHitRate      *prometheus.GaugeVec
	cacheSize         *prometheus.GaugeVec
	poolQueueDepth    *prometheus.GaugeVec
	poolActiveWorkers *prometheus.GaugeVec

	balancerDecisions *prometheus.CounterVec
	strategySwitches  prometheus.Counter
	recoveryPoints    prometheus.Gauge
	recoveryFailures  prometheus.Counter
	tasksProcessed    *prometheus.CounterVec
	tasksFailed       *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		kernelLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabric_kernel_load",
			Help: "Current load factor per kernel",
		}, []string{"kernel"}),
		kernelActiveTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabric_kernel_active_tasks",
			Help: "Pending plus executing tasks per kernel",
		}, []string{"kernel"}),
		cacheHitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabric_cache_hit_rate",
			Help: "Cache hit rate per kernel",
		}, []string{"kernel"}),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabric_cache_entries",
			Help: "Live cache entries per kernel",
		}, []string{"kernel"}),
		poolQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabric_pool_queue_depth",
			Help: "Worker pool queue depth per kernel",
		}, []string{"kernel"}),
		poolActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabric_pool_active_workers",
			Help: "Workers executing tasks per kernel",
		}, []string{"kernel"}),
		balancerDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fabric_balancer_decisions_total",
			Help: "Balancing decisions per strategy",
		}, []string{"strategy"}),
		strategySwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fabric_balancer_strategy_switches_total",
			Help: "Adaptive strategy switches",
		}),
		recoveryPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fabric_recovery_points",
			Help: "Retained recovery points",
		}),
		recoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fabric_recovery_failures_total",
			Help: "Failed recovery operations",
		}),
		tasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fabric_tasks_processed_total",
			Help: "Tasks processed per kernel",
		}, []string{"kernel"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fabric_tasks_failed_total",
			Help: "Tasks failed per kernel",
		}, []string{"kernel"}),
	}

	c.registry.MustRegister(
		c.kernelLoad, c.kernelActiveTasks,
		c.cacheHitRate, c.cacheSize,
		c.poolQueueDepth, c.poolActiveWorkers,
		c.balancerDecisions, c.strategySwitches,
		c.recoveryPoints, c.recoveryFailures,
		c.tasksProcessed, c.tasksFailed,
	)

	return c
}

// Handler serves the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveKernel records one kernel's extended snapshot.
func (c *Collector) ObserveKernel(kernelID string, m types.ExtendedKernelMetrics) {
	c.kernelLoad.WithLabelValues(kernelID).Set(m.Load)
	c.kernelActiveTasks.WithLabelValues(kernelID).Set(float64(m.ActiveTasks))
	c.cacheHitRate.WithLabelValues(kernelID).Set(m.CacheEfficiency)
}

// ObserveCache records a kernel's cache counters.
func (c *Collector) ObserveCache(kernelID string, hitRate float64, entries int) {
	c.cacheHitRate.WithLabelValues(kernelID).Set(hitRate)
	c.cacheSize.WithLabelValues(kernelID).Set(float64(entries))
}

// ObservePool records a kernel's worker pool state.
func (c *Collector) ObservePool(kernelID string, queueDepth, activeWorkers int) {
	c.poolQueueDepth.WithLabelValues(kernelID).Set(float64(queueDepth))
	c.poolActiveWorkers.WithLabelValues(kernelID).Set(float64(activeWorkers))
}

// CountDecision counts one balancing decision for a strategy.
func (c *Collector) CountDecision(strategy string) {
	c.balancerDecisions.WithLabelValues(strategy).Inc()
}

// CountStrategySwitch counts one adaptive strategy switch.
func (c *Collector) CountStrategySwitch() {
	c.strategySwitches.Inc()
}

// ObserveRecoveryPoints records the retained recovery point count.
func (c *Collector) ObserveRecoveryPoints(points int) {
	c.recoveryPoints.Set(float64(points))
}

// CountRecoveryFailure counts one failed recovery operation.
func (c *Collector) CountRecoveryFailure() {
	c.recoveryFailures.Inc()
}

// CountTaskProcessed counts one processed task for a kernel.
func (c *Collector) CountTaskProcessed(kernelID string) {
	c.tasksProcessed.WithLabelValues(kernelID).Inc()
}

// CountTaskFailed counts one failed task for a kernel.
func (c *Collector) CountTaskFailed(kernelID string) {
	c.tasksFailed.WithLabelValues(kernelID).Inc()
}
