package backend

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ciricc/render-energy-bench/internal/trial"
)

// Kind names a Cycles compute device type.
type Kind string

const (
	CPU    Kind = "CPU"
	CUDA   Kind = "CUDA"
	OptiX  Kind = "OPTIX"
	HIP    Kind = "HIP"
	Metal  Kind = "METAL"
	OneAPI Kind = "ONEAPI"
	OpenCL Kind = "OPENCL"

	// Auto picks the first detected GPU kind in Priority order. When nothing
	// is detected it is passed on and the render script picks the device.
	Auto Kind = "AUTO"
)

// Priority is the order Auto walks when several GPU kinds are available.
var Priority = []Kind{OptiX, CUDA, HIP, Metal, OneAPI, OpenCL}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if k == "" {
		return Auto, nil
	}
	if k == CPU || k == Auto || slices.Contains(Priority, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown compute backend %q", s)
}

// Backend is the resolved device a trial renders on. Fallback is set when an
// explicitly preferred GPU kind is not present.
type Backend struct {
	Kind     Kind
	Fallback bool
}

func (b Backend) IsGPU() bool { return b.Kind != CPU }

// Detected reports whether the kind was confirmed on the host rather than
// left to the render script.
func (b Backend) Detected() bool { return b.Kind != Auto }

func (b Backend) String() string {
	if b.Fallback {
		return string(b.Kind) + " (fallback)"
	}
	return string(b.Kind)
}

// Resolve picks the backend for mode. CPU mode always resolves to CPU.
// GPU mode resolves to preferred when available and falls back to CPU
// otherwise. Auto takes the best detected kind, or stays Auto when the host
// probe found none.
func Resolve(mode trial.Mode, preferred Kind, available []Kind) Backend {
	if mode == trial.ModeCPU || preferred == CPU {
		return Backend{Kind: CPU}
	}

	if preferred == Auto || preferred == "" {
		for _, k := range Priority {
			if slices.Contains(available, k) {
				return Backend{Kind: k}
			}
		}
		return Backend{Kind: Auto}
	}

	if slices.Contains(available, preferred) {
		return Backend{Kind: preferred}
	}
	return Backend{Kind: CPU, Fallback: true}
}

// ResolveAll resolves a backend for every mode.
func ResolveAll(modes []trial.Mode, preferred Kind, available []Kind) map[trial.Mode]Backend {
	out := make(map[trial.Mode]Backend, len(modes))
	for _, m := range modes {
		out[m] = Resolve(m, preferred, available)
	}
	return out
}
