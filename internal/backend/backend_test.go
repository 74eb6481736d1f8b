package backend

import (
	"testing"

	"github.com/ciricc/render-energy-bench/internal/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		mode      trial.Mode
		preferred Kind
		available []Kind
		want      Backend
	}{
		{"cpu mode ignores gpus", trial.ModeCPU, OptiX, []Kind{OptiX}, Backend{Kind: CPU}},
		{"auto prefers optix", trial.ModeGPU, Auto, []Kind{CUDA, OptiX}, Backend{Kind: OptiX}},
		{"auto takes metal", trial.ModeGPU, Auto, []Kind{Metal}, Backend{Kind: Metal}},
		{"explicit available", trial.ModeGPU, CUDA, []Kind{CUDA, OptiX}, Backend{Kind: CUDA}},
		{"explicit missing falls back", trial.ModeGPU, HIP, []Kind{CUDA}, Backend{Kind: CPU, Fallback: true}},
		{"nothing detected defers to render script", trial.ModeGPU, Auto, nil, Backend{Kind: Auto}},
		{"empty preference behaves as auto", trial.ModeGPU, "", nil, Backend{Kind: Auto}},
		{"forced cpu", trial.ModeGPU, CPU, []Kind{CUDA}, Backend{Kind: CPU}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.mode, tt.preferred, tt.available))
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" optix ")
	require.NoError(t, err)
	assert.Equal(t, OptiX, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, Auto, k)

	_, err = ParseKind("vulkan")
	assert.Error(t, err)
}

func TestBackendString(t *testing.T) {
	assert.Equal(t, "CPU (fallback)", Backend{Kind: CPU, Fallback: true}.String())
	assert.False(t, Backend{Kind: CPU}.IsGPU())
	assert.True(t, Backend{Kind: Metal}.IsGPU())
	assert.True(t, Backend{Kind: Auto}.IsGPU())
	assert.False(t, Backend{Kind: Auto}.Detected())
	assert.True(t, Backend{Kind: CUDA}.Detected())
}
