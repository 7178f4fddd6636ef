package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig holds configuration for CUDA acceleration.
type GPUConfig struct {
	UseGPU                bool   // Enable GPU acceleration
	DeviceID              int    // CUDA device ID
	GPUMemLimit           uint64 // GPU memory limit in bytes (0 = unlimited)
	ArenaExtendStrategy   string // "kNextPowerOfTwo" or "kSameAsRequested"
	CUDNNConvAlgoSearch   string // "EXHAUSTIVE", "HEURISTIC" or "DEFAULT"
	DoCopyInDefaultStream bool
}

// DefaultGPUConfig returns a CPU-only configuration with sane CUDA defaults.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

var (
	validArenaStrategies = map[string]bool{"kNextPowerOfTwo": true, "kSameAsRequested": true}
	validAlgoSearch      = map[string]bool{"EXHAUSTIVE": true, "HEURISTIC": true, "DEFAULT": true}
)

// Validate checks the configuration. CPU-only configurations are always valid.
func (c GPUConfig) Validate() error {
	if !c.UseGPU {
		return nil
	}
	if c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	if c.ArenaExtendStrategy != "" && !validArenaStrategies[c.ArenaExtendStrategy] {
		return fmt.Errorf("invalid arena extend strategy: %s", c.ArenaExtendStrategy)
	}
	if c.CUDNNConvAlgoSearch != "" && !validAlgoSearch[c.CUDNNConvAlgoSearch] {
		return fmt.Errorf("invalid CUDNN conv algo search: %s", c.CUDNNConvAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider option map for CUDA.
func (c GPUConfig) cudaSettings() map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(c.DeviceID),
		"do_copy_in_default_stream": "0",
	}
	if c.DoCopyInDefaultStream {
		settings["do_copy_in_default_stream"] = "1"
	}
	if c.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(c.GPUMemLimit, 10)
	}
	if c.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = c.ArenaExtendStrategy
	}
	if c.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = c.CUDNNConvAlgoSearch
	}
	return settings
}

// configureGPU appends the CUDA execution provider to the session options.
func configureGPU(opts *onnxruntime_go.SessionOptions, c GPUConfig) error {
	if !c.UseGPU {
		return nil
	}
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cudaOpts.Update(c.cudaSettings()); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
