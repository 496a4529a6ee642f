// Command fabricd runs the compute-fabric supervisor: it wires the
// shared components, hosts one core, four micro and one orchestration
// kernel, and drives the metric and checkpoint cycles until stopped.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/corefabric/corefabric/internal/balancer"
	"github.com/corefabric/corefabric/internal/cache"
	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/internal/energy"
	"github.com/corefabric/corefabric/internal/hwaccel"
	"github.com/corefabric/corefabric/internal/kernel"
	"github.com/corefabric/corefabric/internal/metrics"
	"github.com/corefabric/corefabric/internal/preload"
	"github.com/corefabric/corefabric/internal/security"
	"github.com/corefabric/corefabric/internal/telemetry"
	"github.com/corefabric/corefabric/internal/tunnel"
	"github.com/corefabric/corefabric/internal/worker"
	"github.com/corefabric/corefabric/pkg/recovery"
	"github.com/corefabric/corefabric/pkg/types"
	"github.com/corefabric/corefabric/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(configPath string) error {
	cfg := config.DefaultConfiguration()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	loggers, err := buildLoggers(cfg)
	if err != nil {
		return err
	}
	defer closeLoggers(loggers)

	log := loggers["kernel"]
	log.Info("=== fabric supervisor starting ===")

	// Shared components.
	pool, err := worker.NewPool(cfg.WorkerPool, loggers["threadpool"])
	if err != nil {
		return err
	}
	log.Info("worker pool initialized", map[string]interface{}{
		"workers": pool.GetMetrics().TotalWorkers,
	})

	securityMgr := security.NewManager(loggers["security"])
	if !securityMgr.Initialize() {
		return fmt.Errorf("failed to initialize security manager")
	}
	securityMgr.SetPolicy(cfg.Security.Policy)

	sink, err := buildSink(cfg, loggers["recovery"])
	if err != nil {
		return err
	}
	recoveryMgr, err := recovery.NewManager(cfg.Recovery, sink, loggers["recovery"])
	if err != nil {
		return err
	}

	preloadMgr, err := preload.NewManager(cfg.Preload, loggers["preloadmanager"])
	if err != nil {
		return err
	}

	lb := balancer.NewFromConfig(cfg.Balancer, loggers["loadbalancer"])
	log.Info("load balancer initialized", map[string]interface{}{
		"strategy": lb.GetStrategyName(),
	})

	probe := telemetry.NewProbe(loggers["telemetry"])
	accel := hwaccel.Detect()
	collector := metrics.NewCollector()
	syncRegistry := cache.NewSyncRegistry(loggers["cachemanager"])
	tunnels := tunnel.NewManager(loggers["kernel"])
	energyCtl := energy.NewController(cfg.Energy, loggers["kernel"])

	opts := &kernel.Options{
		Config:       cfg,
		Logger:       loggers["kernel"],
		Probe:        probe,
		Accelerator:  accel,
		Collector:    collector,
		SyncRegistry: syncRegistry,
	}

	// Kernels: one core, four micro, one orchestration.
	var kernels []kernel.Kernel

	coreKernel := kernel.NewCoreKernel("core_main", opts)
	coreKernel.SetPreloadManager(preloadMgr)
	coreKernel.SetLoadBalancer(lb)
	if !coreKernel.Initialize() {
		return fmt.Errorf("failed to initialize core kernel")
	}
	kernels = append(kernels, coreKernel)

	for i := 0; i < cfg.Global.MicroKernels; i++ {
		micro := kernel.NewMicroKernel(fmt.Sprintf("micro_%d", i), opts)
		micro.SetPreloadManager(preloadMgr)
		micro.SetLoadBalancer(lb)
		if !micro.Initialize() {
			return fmt.Errorf("failed to initialize micro kernel %d", i)
		}
		kernels = append(kernels, micro)
	}
	log.Info("micro kernels initialized", map[string]interface{}{"count": cfg.Global.MicroKernels})

	orchestrator := kernel.NewOrchestrationKernel("orchestration_main", tunnels, opts)
	orchestrator.SetLoadBalancer(lb)
	if !orchestrator.Initialize() {
		return fmt.Errorf("failed to initialize orchestration kernel")
	}
	kernels = append(kernels, orchestrator)

	// The supervisor checkpoint captures every kernel's snapshot.
	recoveryMgr.SetStateCapture(func() ([]byte, error) {
		snapshot := make(map[string]types.ExtendedKernelMetrics, len(kernels))
		for _, k := range kernels {
			snapshot[k.GetID()] = k.GetExtendedMetrics()
		}
		return json.Marshal(snapshot)
	})
	recoveryMgr.SetStateRestore(func(state []byte) bool {
		var snapshot map[string]types.ExtendedKernelMetrics
		return json.Unmarshal(state, &snapshot) == nil
	})

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Global.MetricsPort),
		Handler: collector.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	log.Info("all components initialized")

	// Service loop: metrics every cycle, checkpoints on their own cadence.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	metricsTicker := time.NewTicker(cfg.Global.MetricsInterval)
	checkpointTicker := time.NewTicker(cfg.Global.CheckpointInterval)
	defer metricsTicker.Stop()
	defer checkpointTicker.Stop()

	running := true
	for running {
		select {
		case sig := <-stop:
			log.Info("signal received, shutting down", map[string]interface{}{"signal": sig.String()})
			running = false

		case <-metricsTicker.C:
			for _, k := range kernels {
				k.UpdateMetrics()
			}
			preloadMgr.UpdateMetrics()
			pm := pool.GetMetrics()
			collector.ObservePool("supervisor", pm.QueueDepth, pm.ActiveWorkers)
			energyCtl.ObservePower(kernels[0].GetMetrics().PowerConsumption)
			log.Debug("metrics updated")

		case <-checkpointTicker.C:
			if id := recoveryMgr.CreateRecoveryPoint(); id != "" {
				collector.ObserveRecoveryPoints(len(recoveryMgr.Points()))
				log.Info("recovery checkpoint created", map[string]interface{}{"id": id})
			}
		}
	}

	// Graceful shutdown: final checkpoint, then components in reverse
	// dependency order.
	if id := recoveryMgr.CreateRecoveryPoint(); id != "" {
		log.Info("final recovery checkpoint created", map[string]interface{}{"id": id})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)

	for _, k := range kernels {
		k.Shutdown()
	}
	preloadMgr.Stop()
	securityMgr.Shutdown()
	tunnels.Shutdown()
	pool.Stop()

	log.Info("=== fabric supervisor shutdown complete ===")
	return nil
}

func buildLoggers(cfg *config.Configuration) (map[string]*utils.StructuredLogger, error) {
	level := utils.ParseLevel(cfg.Global.LogLevel)
	subsystems := []string{
		"kernel", "loadbalancer", "cachemanager", "threadpool",
		"preloadmanager", "recovery", "security", "telemetry",
	}

	loggers := make(map[string]*utils.StructuredLogger, len(subsystems))
	for _, name := range subsystems {
		logger, err := utils.NewStructuredLogger(name, &utils.LoggerConfig{
			Level:    level,
			Console:  os.Stdout,
			Rotation: utils.DefaultRotationConfig(filepath.Join(cfg.Global.LogDir, name+".log")),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s logger: %w", name, err)
		}
		loggers[name] = logger
	}
	return loggers, nil
}

func closeLoggers(loggers map[string]*utils.StructuredLogger) {
	for _, logger := range loggers {
		_ = logger.Sync()
		_ = logger.Close()
	}
}

func buildSink(cfg *config.Configuration, logger *utils.StructuredLogger) (recovery.Sink, error) {
	switch cfg.Recovery.Sink {
	case "", "memory":
		return recovery.NewMemorySink(), nil
	case "filesystem":
		return recovery.NewFilesystemSink(cfg.Recovery.StoragePath)
	case "s3":
		return recovery.NewS3Sink(context.Background(), cfg.Recovery.S3Bucket, cfg.Recovery.S3Prefix, logger)
	default:
		return nil, fmt.Errorf("unknown recovery sink %q", cfg.Recovery.Sink)
	}
}
