// Package hwaccel discovers hardware acceleration capabilities and
// provides the three byte-buffer primitives used by compute kernels.
// Every primitive has a scalar implementation; acceleration is a
// capability report, never a requirement.
package hwaccel

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/corefabric/corefabric/pkg/errors"
)

// Capabilities reports which acceleration features the host exposes.
type Capabilities struct {
	NEON         bool   `json:"neon"`
	AMX          bool   `json:"amx"`
	SVE          bool   `json:"sve"`
	NeuralEngine bool   `json:"neural_engine"`
	AVX2         bool   `json:"avx2"`
	AVX512       bool   `json:"avx512"`
	Platform     string `json:"platform"`
}

// Accelerator exposes capability discovery and the acceleration
// primitives. On Go the primitives run their scalar paths; the
// capability report still drives kernel feature lists.
type Accelerator struct {
	caps Capabilities
}

// Detect probes the host CPU for acceleration features.
func Detect() *Accelerator {
	caps := Capabilities{Platform: runtime.GOOS + "/" + runtime.GOARCH}

	switch runtime.GOARCH {
	case "arm64":
		// NEON is baseline on arm64.
		caps.NEON = true
		if runtime.GOOS == "darwin" {
			caps.AMX = true
			caps.NeuralEngine = true
			caps.Platform = "Apple Silicon"
		} else {
			caps.Platform = "ARM64"
		}
	case "amd64":
		caps.Platform = "x86-64"
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			flags := strings.Join(infos[0].Flags, " ")
			caps.AVX2 = strings.Contains(flags, "avx2")
			caps.AVX512 = strings.Contains(flags, "avx512f")
		}
	}

	return &Accelerator{caps: caps}
}

// Capabilities returns the discovery report.
func (a *Accelerator) Capabilities() Capabilities {
	return a.caps
}

// Available reports whether any acceleration feature was discovered.
func (a *Accelerator) Available() bool {
	c := a.caps
	return c.NEON || c.AMX || c.SVE || c.NeuralEngine || c.AVX2 || c.AVX512
}

// Features lists the discovered features by name.
func (a *Accelerator) Features() []string {
	var features []string
	if a.caps.NEON {
		features = append(features, "neon")
	}
	if a.caps.AMX {
		features = append(features, "amx")
	}
	if a.caps.SVE {
		features = append(features, "sve")
	}
	if a.caps.NeuralEngine {
		features = append(features, "neural_engine")
	}
	if a.caps.AVX2 {
		features = append(features, "avx2")
	}
	if a.caps.AVX512 {
		features = append(features, "avx512")
	}
	return features
}

// AccelerateCopy copies input into a fresh buffer.
func (a *Accelerator) AccelerateCopy(input []byte) []byte {
	out := make([]byte, len(input))
	copy(out, input)
	return out
}

// AccelerateAdd returns the element-wise sum of two equal-length
// buffers (wrapping byte addition).
func (a *Accelerator) AccelerateAdd(x, y []byte) ([]byte, error) {
	if len(x) != len(y) {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "buffer lengths differ").
			WithComponent("hwaccel").WithOperation("accelerate_add")
	}
	out := make([]byte, len(x))
	for i := range x {
		out[i] = x[i] + y[i]
	}
	return out, nil
}

// AccelerateMul returns the element-wise product of two equal-length
// buffers (wrapping byte multiplication).
func (a *Accelerator) AccelerateMul(x, y []byte) ([]byte, error) {
	if len(x) != len(y) {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "buffer lengths differ").
			WithComponent("hwaccel").WithOperation("accelerate_mul")
	}
	out := make([]byte, len(x))
	for i := range x {
		out[i] = x[i] * y[i]
	}
	return out, nil
}
