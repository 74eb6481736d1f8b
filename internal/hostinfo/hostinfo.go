package hostinfo

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"golang.org/x/sync/errgroup"
)

// Host describes the machine a run executes on.
type Host struct {
	OS            string
	Arch          string
	CPUModel      string
	CPUNumLogical int
	GPU           GPUSample
	// Backends lists the GPU compute kinds the host appears to support.
	Backends []backend.Kind
}

const probeTimeout = 5 * time.Second

// Probe inspects the host. Detection failures leave fields empty rather
// than failing the run.
func Probe(ctx context.Context) (Host, error) {
	h := Host{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		CPUNumLogical: runtime.NumCPU(),
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.CPUModel = detectCPUModel(gctx)
		return nil
	})
	g.Go(func() error {
		h.GPU = detectGPU(gctx)
		return nil
	})
	g.Go(func() error {
		h.Backends = detectBackends(runtime.GOOS, hasTool)
		return nil
	})
	if err := g.Wait(); err != nil {
		return h, err
	}
	return h, ctx.Err()
}

func detectCPUModel(ctx context.Context) string {
	if runtime.GOOS == "darwin" {
		out, err := exec.CommandContext(ctx, "sysctl", "-n", "machdep.cpu.brand_string").Output()
		if err == nil {
			return strings.TrimSpace(string(out))
		}
	}
	if runtime.GOOS == "linux" {
		f, err := os.Open("/proc/cpuinfo")
		if err == nil {
			defer f.Close()
			if m := cpuModelFromCPUInfo(bufio.NewScanner(f)); m != "" {
				return m
			}
		}
	}
	return runtime.GOARCH + " CPU"
}

func cpuModelFromCPUInfo(sc *bufio.Scanner) string {
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}

func detectGPU(ctx context.Context) GPUSample {
	if hasTool("nvidia-smi") {
		if s, err := sampleNvidiaSMIXML(ctx, 0); err == nil {
			return s
		}
	}
	if runtime.GOOS == "darwin" {
		out, err := exec.CommandContext(ctx, "system_profiler", "SPDisplaysDataType").Output()
		if err == nil {
			if name := lineValue(string(out), "chipset model"); name != "" {
				return GPUSample{Name: name}
			}
		}
	}
	if hasTool("rocm-smi") {
		out, err := exec.CommandContext(ctx, "rocm-smi", "--showproductname").Output()
		if err == nil {
			if name := lineValue(string(out), "card series"); name != "" {
				return GPUSample{Name: name}
			}
		}
	}
	return GPUSample{}
}

// lineValue returns the text after the colon on the first line whose key
// contains key, case-insensitively.
func lineValue(out, key string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		k, v, ok := strings.Cut(line, ":")
		if ok && strings.Contains(strings.ToLower(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// detectBackends guesses the Cycles GPU kinds available from the vendor
// tools installed on the host.
func detectBackends(goos string, has func(string) bool) []backend.Kind {
	var out []backend.Kind
	if has("nvidia-smi") {
		out = append(out, backend.OptiX, backend.CUDA)
	}
	if has("rocm-smi") {
		out = append(out, backend.HIP)
	}
	if goos == "darwin" {
		out = append(out, backend.Metal)
	}
	if has("sycl-ls") {
		out = append(out, backend.OneAPI)
	}
	return out
}
