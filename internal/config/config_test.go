package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigurationIsValid(t *testing.T) {
	cfg := DefaultConfiguration()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero cache capacity", func(c *Configuration) { c.Cache.InitialCapacity = 0 }},
		{"bad auto-resize bounds", func(c *Configuration) {
			c.Cache.AutoResize = true
			c.Cache.MinCapacity = 100
			c.Cache.MaxCapacity = 10
		}},
		{"min workers above max", func(c *Configuration) {
			c.WorkerPool.MinWorkers = 64
			c.WorkerPool.MaxWorkers = 2
		}},
		{"zero queue size", func(c *Configuration) { c.WorkerPool.QueueSize = 0 }},
		{"perf cores enabled without count", func(c *Configuration) {
			c.WorkerPool.UsePerformanceCores = true
			c.WorkerPool.PerformanceCoreCount = 0
		}},
		{"logical below physical", func(c *Configuration) {
			c.WorkerPool.UseHyperthreading = true
			c.WorkerPool.PhysicalCoreCount = 8
			c.WorkerPool.LogicalCoreCount = 4
		}},
		{"zero recovery points", func(c *Configuration) { c.Recovery.MaxRecoveryPoints = 0 }},
		{"unknown sink", func(c *Configuration) { c.Recovery.Sink = "tape" }},
		{"s3 sink without bucket", func(c *Configuration) { c.Recovery.Sink = "s3"; c.Recovery.S3Bucket = "" }},
		{"zero preload queue", func(c *Configuration) { c.Preload.MaxQueueSize = 0 }},
		{"negative balancer weight", func(c *Configuration) { c.Balancer.CPUWeight = -1 }},
		{"zero metrics interval", func(c *Configuration) { c.Global.MetricsInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfiguration()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWorkerCountResolution(t *testing.T) {
	tests := []struct {
		name string
		cfg  WorkerPoolConfig
		want int
	}{
		{
			"asymmetric topology sums classes",
			WorkerPoolConfig{
				MinWorkers: 1, MaxWorkers: 16, QueueSize: 10, StackSize: 1,
				UsePerformanceCores: true, PerformanceCoreCount: 4,
				UseEfficiencyCores: true, EfficiencyCoreCount: 4,
			},
			8,
		},
		{
			"asymmetric capped at max",
			WorkerPoolConfig{
				MinWorkers: 1, MaxWorkers: 6, QueueSize: 10, StackSize: 1,
				UsePerformanceCores: true, PerformanceCoreCount: 8,
			},
			6,
		},
		{
			"hyperthreading uses logical cores",
			WorkerPoolConfig{
				MinWorkers: 1, MaxWorkers: 32, QueueSize: 10, StackSize: 1,
				UseHyperthreading: true, PhysicalCoreCount: 8, LogicalCoreCount: 16,
			},
			16,
		},
		{
			"no hyperthreading uses physical cores",
			WorkerPoolConfig{
				MinWorkers: 1, MaxWorkers: 32, QueueSize: 10, StackSize: 1,
				PhysicalCoreCount: 8, LogicalCoreCount: 16,
			},
			8,
		},
		{
			"no topology falls back to min workers",
			WorkerPoolConfig{MinWorkers: 3, MaxWorkers: 8, QueueSize: 10, StackSize: 1},
			3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.WorkerCount(); got != tt.want {
				t.Errorf("expected %d workers, got %d", tt.want, got)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabric.yaml")
	content := `
global:
  log_level: info
  metrics_port: 9191
cache:
  initial_capacity: 256
balancer:
  strategy: least_loaded
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Global.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9191 {
		t.Errorf("expected metrics port 9191, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Global.MetricsInterval != 5*time.Second {
		t.Errorf("expected default metrics interval, got %v", cfg.Global.MetricsInterval)
	}
	if cfg.Cache.InitialCapacity != 256 {
		t.Errorf("expected capacity 256, got %d", cfg.Cache.InitialCapacity)
	}
	if cfg.Balancer.Strategy != "least_loaded" {
		t.Errorf("expected least_loaded, got %s", cfg.Balancer.Strategy)
	}
	// Unset fields keep defaults.
	if cfg.Preload.MaxQueueSize != 1000 {
		t.Errorf("expected default preload queue, got %d", cfg.Preload.MaxQueueSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/fabric.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
