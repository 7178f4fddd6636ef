//nolint:lll
package config

// Config represents the complete configuration for the retouch application.
// It covers the run, serve and classes commands and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Detector  DetectorConfig  `mapstructure:"detector" yaml:"detector" json:"detector"`
	Segmenter SegmenterConfig `mapstructure:"segmenter" yaml:"segmenter" json:"segmenter"`
	Inpainter InpainterConfig `mapstructure:"inpainter" yaml:"inpainter" json:"inpainter"`

	// Batch pipeline
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Image load scheduler
	Loader LoaderConfig `mapstructure:"loader" yaml:"loader" json:"loader"`

	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`

	// Per-class overrides on top of the built-in class table.
	Classes ClassesConfig `mapstructure:"classes" yaml:"classes" json:"classes"`
}

// DetectorConfig contains box detector settings.
type DetectorConfig struct {
	ModelPath    string   `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputSize    int      `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	Labels       []string `mapstructure:"labels" yaml:"labels" json:"labels"`
	NMSThreshold float64  `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	NumThreads   int      `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// SegmenterConfig contains polygon segmenter settings.
type SegmenterConfig struct {
	ModelPath       string   `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputSize       int      `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	Labels          []string `mapstructure:"labels" yaml:"labels" json:"labels"`
	BinaryThreshold float32  `mapstructure:"binary_threshold" yaml:"binary_threshold" json:"binary_threshold"`
	MinArea         int      `mapstructure:"min_area" yaml:"min_area" json:"min_area"`
	SimplifyEpsilon float64  `mapstructure:"simplify_epsilon" yaml:"simplify_epsilon" json:"simplify_epsilon"`
	NumThreads      int      `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// InpainterConfig selects and tunes the restoration backend.
type InpainterConfig struct {
	// Backend is "onnx" or "diffusion".
	Backend     string `mapstructure:"backend" yaml:"backend" json:"backend"`
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	PadMultiple int    `mapstructure:"pad_multiple" yaml:"pad_multiple" json:"pad_multiple"`
	CropMargin  int    `mapstructure:"crop_margin" yaml:"crop_margin" json:"crop_margin"`
	Output255   bool   `mapstructure:"output_255" yaml:"output_255" json:"output_255"`
	Smoothing   int    `mapstructure:"smoothing" yaml:"smoothing" json:"smoothing"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// PipelineConfig contains batch run parameters.
type PipelineConfig struct {
	ConfFloor        float64 `mapstructure:"conf_floor" yaml:"conf_floor" json:"conf_floor"`
	ExpansionPx      float64 `mapstructure:"expansion_px" yaml:"expansion_px" json:"expansion_px"`
	ProgressInterval int     `mapstructure:"progress_interval_ms" yaml:"progress_interval_ms" json:"progress_interval_ms"`
}

// LoaderConfig contains image load scheduler settings.
type LoaderConfig struct {
	Workers        int `mapstructure:"workers" yaml:"workers" json:"workers"`
	NeighborRadius int `mapstructure:"neighbor_radius" yaml:"neighbor_radius" json:"neighbor_radius"`
}

// OutputConfig contains result writing settings.
type OutputConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir" json:"dir"`
	OverlayDir string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// ClassesConfig holds the class table overrides.
type ClassesConfig struct {
	// PresetFile is a YAML class preset loaded before Overrides apply.
	PresetFile string                   `mapstructure:"preset_file" yaml:"preset_file" json:"preset_file"`
	Overrides  map[string]ClassOverride `mapstructure:"overrides" yaml:"overrides" json:"overrides"`
}

// ClassOverride changes one class. Nil fields keep the current value.
type ClassOverride struct {
	Enabled   *bool    `mapstructure:"enabled" yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Threshold *float64 `mapstructure:"threshold" yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Color     string   `mapstructure:"color" yaml:"color,omitempty" json:"color,omitempty"`
}
