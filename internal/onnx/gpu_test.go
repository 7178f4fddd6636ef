package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGPUConfig(t *testing.T) {
	c := DefaultGPUConfig()
	assert.False(t, c.UseGPU)
	assert.Equal(t, "kNextPowerOfTwo", c.ArenaExtendStrategy)
	assert.Equal(t, "DEFAULT", c.CUDNNConvAlgoSearch)
	assert.True(t, c.DoCopyInDefaultStream)
	require.NoError(t, c.Validate())
}

func TestGPUConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  GPUConfig
		wantErr bool
	}{
		{"cpu ignores junk", GPUConfig{DeviceID: -5, ArenaExtendStrategy: "x"}, false},
		{"valid gpu", GPUConfig{UseGPU: true, ArenaExtendStrategy: "kSameAsRequested", CUDNNConvAlgoSearch: "HEURISTIC"}, false},
		{"negative device", GPUConfig{UseGPU: true, DeviceID: -1}, true},
		{"bad arena", GPUConfig{UseGPU: true, ArenaExtendStrategy: "invalid"}, true},
		{"bad algo", GPUConfig{UseGPU: true, CUDNNConvAlgoSearch: "invalid"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCUDASettings(t *testing.T) {
	c := DefaultGPUConfig()
	c.UseGPU = true
	c.DeviceID = 2
	c.GPUMemLimit = 1 << 30
	s := c.cudaSettings()
	assert.Equal(t, "2", s["device_id"])
	assert.Equal(t, "1073741824", s["gpu_mem_limit"])
	assert.Equal(t, "1", s["do_copy_in_default_stream"])

	c.DoCopyInDefaultStream = false
	c.GPUMemLimit = 0
	s = c.cudaSettings()
	assert.Equal(t, "0", s["do_copy_in_default_stream"])
	assert.NotContains(t, s, "gpu_mem_limit")
}

func TestLibraryCandidatesHonourEnv(t *testing.T) {
	t.Setenv(EnvLibraryPath, "/custom/libonnxruntime.so")
	c := LibraryCandidates(false)
	require.NotEmpty(t, c)
	assert.Equal(t, "/custom/libonnxruntime.so", c[0])

	gpu := LibraryCandidates(true)
	assert.Greater(t, len(gpu), len(c))
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(SessionConfig{})
	require.Error(t, err)

	_, err = NewSession(SessionConfig{ModelPath: "/does/not/exist.onnx"})
	require.ErrorContains(t, err, "model file not found")
}

func TestClosedSession(t *testing.T) {
	s := &Session{}
	_, err := s.Run()
	require.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, s.Close())
}
