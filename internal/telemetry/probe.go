// Package telemetry samples host resource usage for kernel metric
// updates. Probes are pull-model and best-effort: a missing source
// reads as zero, never as an error.
package telemetry

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/corefabric/corefabric/pkg/utils"
)

// Sample is one telemetry reading.
type Sample struct {
	CPUUsage    float64 // [0,1]
	MemoryUsage float64 // [0,1]
	PowerWatts  float64
	Temperature float64 // celsius

	// Per-core-class usages in [0,1]; zero when the class cannot be
	// distinguished on this host.
	PhysicalCoreUsage float64
	LogicalCoreUsage  float64
}

// Probe reads host telemetry through gopsutil.
type Probe struct {
	logger *utils.StructuredLogger
}

// NewProbe creates a telemetry probe.
func NewProbe(logger *utils.StructuredLogger) *Probe {
	if logger == nil {
		logger = utils.Discard("telemetry")
	}
	return &Probe{logger: logger}
}

// Read takes one sample. Each source that fails contributes zero.
func (p *Probe) Read() Sample {
	var s Sample

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUUsage = percents[0] / 100.0
	} else if err != nil {
		p.logger.Debug("cpu probe unavailable", map[string]interface{}{"error": err.Error()})
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsage = vm.UsedPercent / 100.0
	} else {
		p.logger.Debug("memory probe unavailable", map[string]interface{}{"error": err.Error()})
	}

	if temps, err := host.SensorsTemperatures(); err == nil && len(temps) > 0 {
		s.Temperature = temps[0].Temperature
	}

	s.LogicalCoreUsage = s.CPUUsage
	if physical, err := cpu.Counts(false); err == nil && physical > 0 {
		if logical, err := cpu.Counts(true); err == nil && logical > 0 {
			s.PhysicalCoreUsage = s.CPUUsage * float64(physical) / float64(logical)
		}
	}

	return s
}
