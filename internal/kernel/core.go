package kernel

import "github.com/corefabric/corefabric/pkg/types"

// CoreKernel is the general-purpose parent-class kernel: full
// capability surface, child composition, no workload specialization.
type CoreKernel struct {
	*baseKernel
}

// NewCoreKernel creates a core kernel. An empty id gets a generated one.
func NewCoreKernel(id string, opts *Options) *CoreKernel {
	return &CoreKernel{baseKernel: newBaseKernel(id, types.KernelParent, opts)}
}

// OptimizeForArchitecture applies platform-specific tuning where the
// host exposes any; it is advisory and never fails.
func (k *CoreKernel) OptimizeForArchitecture() {
	caps := k.opts.Accelerator.Capabilities()
	k.opts.Logger.Info("architecture optimization applied", map[string]interface{}{
		"kernel": k.id, "platform": caps.Platform,
	})
}

// EnableHardwareAcceleration reports whether any acceleration feature
// is usable on this host.
func (k *CoreKernel) EnableHardwareAcceleration() bool {
	available := k.opts.Accelerator.Available()
	if !available {
		k.opts.Logger.Warn("no hardware acceleration available", map[string]interface{}{"kernel": k.id})
	}
	return available
}
