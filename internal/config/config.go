// Package config loads and validates the fabric runtime configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete runtime configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Preload    PreloadConfig    `yaml:"preload"`
	Balancer   BalancerConfig   `yaml:"balancer"`
	Security   SecurityConfig   `yaml:"security"`
	Energy     EnergyConfig     `yaml:"energy"`
}

// GlobalConfig represents process-wide settings
type GlobalConfig struct {
	LogLevel           string        `yaml:"log_level"`
	LogDir             string        `yaml:"log_dir"`
	MetricsPort        int           `yaml:"metrics_port"`
	MetricsInterval    time.Duration `yaml:"metrics_interval"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	MicroKernels       int           `yaml:"micro_kernels"`
}

// CacheConfig represents per-kernel dynamic cache settings
type CacheConfig struct {
	InitialCapacity int           `yaml:"initial_capacity"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	AutoResize      bool          `yaml:"auto_resize"`
	MinCapacity     int           `yaml:"min_capacity"`
	MaxCapacity     int           `yaml:"max_capacity"`
}

// WorkerPoolConfig represents worker pool settings. The topology fields
// describe the host core layout; on Go they size the pool but do not
// pin workers.
type WorkerPoolConfig struct {
	MinWorkers int `yaml:"min_workers"`
	MaxWorkers int `yaml:"max_workers"`
	QueueSize  int `yaml:"queue_size"`
	StackSize  int `yaml:"stack_size"`

	// Asymmetric topology (Apple-style).
	UsePerformanceCores  bool `yaml:"use_performance_cores"`
	UseEfficiencyCores   bool `yaml:"use_efficiency_cores"`
	PerformanceCoreCount int  `yaml:"performance_core_count"`
	EfficiencyCoreCount  int  `yaml:"efficiency_core_count"`

	// Symmetric topology (x86-style).
	UseHyperthreading bool `yaml:"use_hyperthreading"`
	PhysicalCoreCount int  `yaml:"physical_core_count"`
	LogicalCoreCount  int  `yaml:"logical_core_count"`
}

// RecoveryConfig represents checkpointing settings
type RecoveryConfig struct {
	MaxRecoveryPoints int           `yaml:"max_recovery_points"`
	MaxPointSize      int           `yaml:"max_point_size"`
	EnableCompression bool          `yaml:"enable_compression"`
	EnableValidation  bool          `yaml:"enable_validation"`
	Sink              string        `yaml:"sink"` // memory | filesystem | s3
	StoragePath       string        `yaml:"storage_path"`
	S3Bucket          string        `yaml:"s3_bucket"`
	S3Prefix          string        `yaml:"s3_prefix"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
}

// PreloadConfig represents predictive preload settings
type PreloadConfig struct {
	MaxQueueSize       int     `yaml:"max_queue_size"`
	MaxBatchSize       int     `yaml:"max_batch_size"`
	MaxConcurrentTasks int     `yaml:"max_concurrent_tasks"`
	PredictionWindow   float64 `yaml:"prediction_window"`
}

// BalancerConfig represents load balancer settings
type BalancerConfig struct {
	Strategy          string  `yaml:"strategy"`
	CPUWeight         float64 `yaml:"cpu_weight"`
	MemoryWeight      float64 `yaml:"memory_weight"`
	NetworkWeight     float64 `yaml:"network_weight"`
	EnergyWeight      float64 `yaml:"energy_weight"`
	ResourceThreshold float64 `yaml:"resource_threshold"`
	WorkloadThreshold float64 `yaml:"workload_threshold"`
}

// SecurityConfig represents the security manager policy
type SecurityConfig struct {
	Policy string `yaml:"policy"`
}

// EnergyConfig represents the energy controller settings
type EnergyConfig struct {
	PowerLimitWatts float64 `yaml:"power_limit_watts"`
	DynamicScaling  bool    `yaml:"dynamic_scaling"`
	Policy          string  `yaml:"policy"`
}

// DefaultConfiguration returns the configuration used when no file is given.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:           "debug",
			LogDir:             "logs",
			MetricsPort:        9090,
			MetricsInterval:    5 * time.Second,
			CheckpointInterval: 30 * time.Second,
			MicroKernels:       4,
		},
		Cache: CacheConfig{
			InitialCapacity: 128,
			DefaultTTL:      0,
			CleanupInterval: 10 * time.Second,
			AutoResize:      false,
			MinCapacity:     16,
			MaxCapacity:     4096,
		},
		WorkerPool: WorkerPoolConfig{
			MinWorkers: 4,
			MaxWorkers: max(4, runtime.NumCPU()),
			QueueSize:  1000,
			StackSize:  1 << 20,
		},
		Recovery: RecoveryConfig{
			MaxRecoveryPoints: 10,
			MaxPointSize:      100 << 20,
			EnableCompression: true,
			EnableValidation:  true,
			Sink:              "filesystem",
			StoragePath:       "recovery_points",
			RetentionPeriod:   24 * time.Hour,
		},
		Preload: PreloadConfig{
			MaxQueueSize:       1000,
			MaxBatchSize:       1 << 20,
			MaxConcurrentTasks: 10,
			PredictionWindow:   0.7,
		},
		Balancer: BalancerConfig{
			Strategy:          "hybrid_adaptive",
			CPUWeight:         0.30,
			MemoryWeight:      0.25,
			NetworkWeight:     0.25,
			EnergyWeight:      0.20,
			ResourceThreshold: 0.8,
			WorkloadThreshold: 0.7,
		},
		Security: SecurityConfig{Policy: "production"},
		Energy: EnergyConfig{
			PowerLimitWatts: 100,
			Policy:          "default",
		},
	}
}

// Load reads a YAML configuration file and fills unset fields from the
// defaults.
func Load(path string) (*Configuration, error) {
	cfg := DefaultConfiguration()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Configuration) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.WorkerPool.Validate(); err != nil {
		return err
	}
	if err := c.Recovery.Validate(); err != nil {
		return err
	}
	if err := c.Preload.Validate(); err != nil {
		return err
	}
	if err := c.Balancer.Validate(); err != nil {
		return err
	}
	if c.Global.MetricsInterval <= 0 {
		return fmt.Errorf("metrics_interval must be positive")
	}
	if c.Global.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpoint_interval must be positive")
	}
	return nil
}

// Validate checks cache settings
func (c *CacheConfig) Validate() error {
	if c.InitialCapacity <= 0 {
		return fmt.Errorf("cache initial_capacity must be positive")
	}
	if c.AutoResize {
		if c.MinCapacity <= 0 || c.MaxCapacity < c.MinCapacity {
			return fmt.Errorf("cache auto-resize bounds invalid: min=%d max=%d", c.MinCapacity, c.MaxCapacity)
		}
	}
	return nil
}

// Validate checks worker pool settings
func (c *WorkerPoolConfig) Validate() error {
	if c.MinWorkers <= 0 || c.MinWorkers > c.MaxWorkers {
		return fmt.Errorf("worker pool bounds invalid: min=%d max=%d", c.MinWorkers, c.MaxWorkers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("worker pool queue_size must be positive")
	}
	if c.StackSize <= 0 {
		return fmt.Errorf("worker pool stack_size must be positive")
	}
	if c.UsePerformanceCores && c.PerformanceCoreCount <= 0 {
		return fmt.Errorf("performance_core_count must be positive when performance cores are enabled")
	}
	if c.UseEfficiencyCores && c.EfficiencyCoreCount <= 0 {
		return fmt.Errorf("efficiency_core_count must be positive when efficiency cores are enabled")
	}
	if c.UseHyperthreading && c.LogicalCoreCount < c.PhysicalCoreCount {
		return fmt.Errorf("logical core count %d below physical core count %d", c.LogicalCoreCount, c.PhysicalCoreCount)
	}
	return nil
}

// WorkerCount resolves the number of workers the pool should run given
// the configured topology.
func (c *WorkerPoolConfig) WorkerCount() int {
	if c.UsePerformanceCores || c.UseEfficiencyCores {
		count := 0
		if c.UsePerformanceCores {
			count += c.PerformanceCoreCount
		}
		if c.UseEfficiencyCores {
			count += c.EfficiencyCoreCount
		}
		if count > 0 {
			return min(count, c.MaxWorkers)
		}
	}
	if c.PhysicalCoreCount > 0 {
		if c.UseHyperthreading {
			return min(c.LogicalCoreCount, c.MaxWorkers)
		}
		return min(c.PhysicalCoreCount, c.MaxWorkers)
	}
	return min(c.MinWorkers, c.MaxWorkers)
}

// Validate checks recovery settings
func (c *RecoveryConfig) Validate() error {
	if c.MaxRecoveryPoints <= 0 {
		return fmt.Errorf("max_recovery_points must be positive")
	}
	if c.MaxPointSize <= 0 {
		return fmt.Errorf("max_point_size must be positive")
	}
	switch c.Sink {
	case "", "memory", "filesystem", "s3":
	default:
		return fmt.Errorf("unknown recovery sink %q", c.Sink)
	}
	if c.Sink == "filesystem" && c.StoragePath == "" {
		return fmt.Errorf("storage_path required for filesystem sink")
	}
	if c.Sink == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("s3_bucket required for s3 sink")
	}
	return nil
}

// Validate checks preload settings
func (c *PreloadConfig) Validate() error {
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("preload max_queue_size must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("preload max_batch_size must be positive")
	}
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("preload max_concurrent_tasks must be positive")
	}
	return nil
}

// Validate checks balancer settings
func (c *BalancerConfig) Validate() error {
	for name, w := range map[string]float64{
		"cpu_weight":     c.CPUWeight,
		"memory_weight":  c.MemoryWeight,
		"network_weight": c.NetworkWeight,
		"energy_weight":  c.EnergyWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.ResourceThreshold <= 0 || c.WorkloadThreshold <= 0 {
		return fmt.Errorf("adaptive thresholds must be positive")
	}
	return nil
}
