package kernel

import (
	"crypto/sha256"

	"github.com/corefabric/corefabric/pkg/types"
)

// ComputationalKernel favors CPU-bound work; processed payloads run
// through the element-wise multiply primitive before caching.
type ComputationalKernel struct {
	*baseKernel
}

// NewComputationalKernel creates a computational kernel.
func NewComputationalKernel(id string, opts *Options) *ComputationalKernel {
	k := &ComputationalKernel{baseKernel: newBaseKernel(id, types.KernelComputational, opts)}
	k.transform = func(data []byte) ([]byte, error) {
		return k.opts.Accelerator.AccelerateMul(data, data)
	}
	return k
}

// ArchitecturalKernel favors memory-bound work; processed payloads run
// through the accelerated copy primitive before caching.
type ArchitecturalKernel struct {
	*baseKernel
}

// NewArchitecturalKernel creates an architectural kernel.
func NewArchitecturalKernel(id string, opts *Options) *ArchitecturalKernel {
	k := &ArchitecturalKernel{baseKernel: newBaseKernel(id, types.KernelArchitectural, opts)}
	k.transform = func(data []byte) ([]byte, error) {
		return k.opts.Accelerator.AccelerateCopy(data), nil
	}
	return k
}

// CryptoKernel digests processed payloads before caching, so the
// cached working set holds content fingerprints rather than raw data.
type CryptoKernel struct {
	*baseKernel
}

// NewCryptoKernel creates a crypto kernel.
func NewCryptoKernel(id string, opts *Options) *CryptoKernel {
	k := &CryptoKernel{baseKernel: newBaseKernel(id, types.KernelCrypto, opts)}
	k.transform = func(data []byte) ([]byte, error) {
		sum := sha256.Sum256(data)
		return sum[:], nil
	}
	return k
}

// Execute digests a payload inline and stores it under the crypto key.
func (k *CryptoKernel) Execute(data []byte) ([]byte, bool) {
	k.mu.RLock()
	running := k.running
	dynCache := k.dynamicCache
	k.mu.RUnlock()

	if !running {
		return nil, false
	}

	sum := sha256.Sum256(data)
	if dynCache != nil {
		dynCache.Put("crypto", sum[:])
	}
	return sum[:], true
}
