package config

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/detector"
	"github.com/MeKo-Tech/retouch/internal/inpaint"
	"github.com/MeKo-Tech/retouch/internal/models"
	"github.com/MeKo-Tech/retouch/internal/onnx"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// Inpainter backends.
const (
	BackendONNX      = "onnx"
	BackendDiffusion = "diffusion"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Detector:  defaultDetectorConfig(),
		Segmenter: defaultSegmenterConfig(),
		Inpainter: defaultInpainterConfig(),
		Pipeline: PipelineConfig{
			ConfFloor:        0.25,
			ExpansionPx:      2,
			ProgressInterval: 200,
		},
		Loader: LoaderConfig{
			Workers:        4,
			NeighborRadius: 3,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

func defaultDetectorConfig() DetectorConfig {
	cfg := detector.DefaultConfig()
	return DetectorConfig{
		InputSize:    cfg.InputSize,
		Labels:       append([]string(nil), cfg.Labels...),
		NMSThreshold: cfg.NMSThreshold,
	}
}

func defaultSegmenterConfig() SegmenterConfig {
	cfg := detector.DefaultSegmenterConfig()
	return SegmenterConfig{
		InputSize:       cfg.InputSize,
		Labels:          append([]string(nil), cfg.Labels...),
		BinaryThreshold: cfg.BinaryThreshold,
		MinArea:         cfg.MinArea,
		SimplifyEpsilon: cfg.SimplifyEpsilon,
	}
}

func defaultInpainterConfig() InpainterConfig {
	cfg := inpaint.DefaultConfig()
	return InpainterConfig{
		Backend:     BackendDiffusion,
		PadMultiple: cfg.PadMultiple,
		CropMargin:  cfg.CropMargin,
		Output255:   cfg.Output255,
		Smoothing:   inpaint.NewDiffusion().Smoothing,
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := validateThreshold(c.Detector.NMSThreshold, "detector.nms_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(float64(c.Segmenter.BinaryThreshold), "segmenter.binary_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Pipeline.ConfFloor, "pipeline.conf_floor"); err != nil {
		return err
	}
	if c.Detector.InputSize <= 0 {
		return fmt.Errorf("invalid detector input size: %d (must be positive)", c.Detector.InputSize)
	}
	if c.Segmenter.InputSize <= 0 {
		return fmt.Errorf("invalid segmenter input size: %d (must be positive)", c.Segmenter.InputSize)
	}
	if c.Pipeline.ExpansionPx < 0 {
		return fmt.Errorf("invalid expansion: %.2f (must not be negative)", c.Pipeline.ExpansionPx)
	}
	if c.Pipeline.ProgressInterval < 0 {
		return fmt.Errorf("invalid progress interval: %d (must not be negative)", c.Pipeline.ProgressInterval)
	}

	validBackends := []string{BackendONNX, BackendDiffusion}
	if !contains(validBackends, c.Inpainter.Backend) {
		return fmt.Errorf("invalid inpainter backend: %s (must be one of: %s)", c.Inpainter.Backend, strings.Join(validBackends, ", "))
	}
	if c.Inpainter.PadMultiple <= 0 {
		return fmt.Errorf("invalid inpainter pad multiple: %d (must be positive)", c.Inpainter.PadMultiple)
	}

	if c.Loader.Workers <= 0 {
		return fmt.Errorf("invalid loader workers: %d (must be positive)", c.Loader.Workers)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	for name, o := range c.Classes.Overrides {
		if o.Threshold != nil {
			if err := validateThreshold(*o.Threshold, "classes."+name+".threshold"); err != nil {
				return err
			}
		}
		if o.Color != "" {
			if _, err := utils.ParseHexColor(o.Color); err != nil {
				return fmt.Errorf("invalid color for class %s: %w", name, err)
			}
		}
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}

	return nil
}

// ToGPUConfig converts to onnx.GPUConfig.
func (c *Config) ToGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPUMemLimit = limit
	}
	return cfg
}

// ToDetectorConfig converts to detector.Config, resolving the model path
// under the models directory when none is set.
func (c *Config) ToDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.Session = onnx.SessionConfig{
		ModelPath:  c.Detector.ModelPath,
		NumThreads: c.Detector.NumThreads,
		GPU:        c.ToGPUConfig(),
	}
	if cfg.Session.ModelPath == "" {
		cfg.Session.ModelPath = models.GetDetectorModelPath(c.ModelsDir)
	}
	if c.Detector.InputSize > 0 {
		cfg.InputSize = c.Detector.InputSize
	}
	if len(c.Detector.Labels) > 0 {
		cfg.Labels = append([]string(nil), c.Detector.Labels...)
	}
	cfg.NMSThreshold = c.Detector.NMSThreshold
	return cfg
}

// ToSegmenterConfig converts to detector.SegmenterConfig.
func (c *Config) ToSegmenterConfig() detector.SegmenterConfig {
	cfg := detector.DefaultSegmenterConfig()
	cfg.Session = onnx.SessionConfig{
		ModelPath:  c.Segmenter.ModelPath,
		NumThreads: c.Segmenter.NumThreads,
		GPU:        c.ToGPUConfig(),
	}
	if cfg.Session.ModelPath == "" {
		cfg.Session.ModelPath = models.GetSegmenterModelPath(c.ModelsDir)
	}
	if c.Segmenter.InputSize > 0 {
		cfg.InputSize = c.Segmenter.InputSize
	}
	if len(c.Segmenter.Labels) > 0 {
		cfg.Labels = append([]string(nil), c.Segmenter.Labels...)
	}
	cfg.BinaryThreshold = c.Segmenter.BinaryThreshold
	cfg.MinArea = c.Segmenter.MinArea
	cfg.SimplifyEpsilon = c.Segmenter.SimplifyEpsilon
	return cfg
}

// ToInpainterConfig converts to inpaint.Config for the ONNX backend.
func (c *Config) ToInpainterConfig() inpaint.Config {
	cfg := inpaint.DefaultConfig()
	cfg.Session = onnx.SessionConfig{
		ModelPath:  c.Inpainter.ModelPath,
		NumThreads: c.Inpainter.NumThreads,
		GPU:        c.ToGPUConfig(),
	}
	if cfg.Session.ModelPath == "" {
		cfg.Session.ModelPath = models.GetInpainterModelPath(c.ModelsDir)
	}
	cfg.PadMultiple = c.Inpainter.PadMultiple
	cfg.CropMargin = c.Inpainter.CropMargin
	cfg.Output255 = c.Inpainter.Output255
	return cfg
}

// ToDiffusion returns the local diffusion inpainter.
func (c *Config) ToDiffusion() *inpaint.Diffusion {
	d := inpaint.NewDiffusion()
	if c.Inpainter.Smoothing >= 0 {
		d.Smoothing = c.Inpainter.Smoothing
	}
	return d
}

// ToParams converts the pipeline section into whole-page batch parameters.
func (c *Config) ToParams() pipeline.Params {
	return pipeline.Params{
		ConfFloor:   c.Pipeline.ConfFloor,
		ExpansionPx: c.Pipeline.ExpansionPx,
	}
}

// ProgressInterval returns the minimum delay between progress updates.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Pipeline.ProgressInterval) * time.Millisecond
}

// ToClassConfig builds the class table: defaults, then the preset file,
// then per-class overrides.
func (c *Config) ToClassConfig() (*classes.Config, error) {
	table := classes.NewConfig()
	if c.Classes.PresetFile != "" {
		loaded, err := classes.LoadFile(c.Classes.PresetFile)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	for name, o := range c.Classes.Overrides {
		class := classes.Canonical(name)
		s, ok := table.Get(class)
		if !ok {
			s = classes.Setting{Threshold: 0.5, Color: color.NRGBA{R: 255, A: 255}}
		}
		if o.Enabled != nil {
			s.Enabled = *o.Enabled
		}
		if o.Threshold != nil {
			s.Threshold = *o.Threshold
		}
		if o.Color != "" {
			col, err := utils.ParseHexColor(o.Color)
			if err != nil {
				return nil, fmt.Errorf("class %s: %w", name, err)
			}
			s.Color = col
		}
		if err := table.Set(class, s); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
	}
	return table, nil
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit parses a GPU memory limit such as "1GB" or "512MB" into
// bytes. "auto" and the empty string mean unlimited (0).
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
