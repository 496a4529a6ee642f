package kernel

import (
	"github.com/corefabric/corefabric/pkg/types"
)

// MicroKernel is a lightweight kernel tuned for I/O-heavy work; its
// workload multiplier favors the io efficiency axis.
type MicroKernel struct {
	*baseKernel
}

// NewMicroKernel creates a micro kernel. An empty id gets a generated one.
func NewMicroKernel(id string, opts *Options) *MicroKernel {
	return &MicroKernel{baseKernel: newBaseKernel(id, types.KernelMicro, opts)}
}

// ExecuteTask runs a raw payload through the kernel inline: the
// payload lands in the cache and a recovery point records the state
// before execution.
func (k *MicroKernel) ExecuteTask(data []byte) bool {
	k.mu.RLock()
	running := k.running
	dynCache := k.dynamicCache
	recoveryMgr := k.recoveryMgr
	k.mu.RUnlock()

	if !running {
		k.opts.Logger.Warn("execute rejected: kernel not running", map[string]interface{}{"kernel": k.id})
		return false
	}

	if recoveryMgr != nil {
		recoveryMgr.CreateRecoveryPoint()
	}
	if dynCache != nil {
		dynCache.Put("task", data)
	}

	k.opts.Logger.Debug("task executed", map[string]interface{}{
		"kernel": k.id, "size": len(data),
	})
	return true
}
