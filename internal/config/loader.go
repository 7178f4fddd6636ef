package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "retouch"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RETOUCH"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader over the global viper instance so flag
// bindings made by the root command are honoured.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader over a private viper instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from the search paths, environment variables
// and defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without the Validate step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path. An empty
// path falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads a specific file without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// RETOUCH_PIPELINE_CONF_FLOOR -> pipeline.conf_floor
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so env overrides work without a file.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("models_dir", defaults.ModelsDir)
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	l.v.SetDefault("detector.model_path", defaults.Detector.ModelPath)
	l.v.SetDefault("detector.input_size", defaults.Detector.InputSize)
	l.v.SetDefault("detector.labels", defaults.Detector.Labels)
	l.v.SetDefault("detector.nms_threshold", defaults.Detector.NMSThreshold)
	l.v.SetDefault("detector.num_threads", defaults.Detector.NumThreads)

	l.v.SetDefault("segmenter.model_path", defaults.Segmenter.ModelPath)
	l.v.SetDefault("segmenter.input_size", defaults.Segmenter.InputSize)
	l.v.SetDefault("segmenter.labels", defaults.Segmenter.Labels)
	l.v.SetDefault("segmenter.binary_threshold", defaults.Segmenter.BinaryThreshold)
	l.v.SetDefault("segmenter.min_area", defaults.Segmenter.MinArea)
	l.v.SetDefault("segmenter.simplify_epsilon", defaults.Segmenter.SimplifyEpsilon)
	l.v.SetDefault("segmenter.num_threads", defaults.Segmenter.NumThreads)

	l.v.SetDefault("inpainter.backend", defaults.Inpainter.Backend)
	l.v.SetDefault("inpainter.model_path", defaults.Inpainter.ModelPath)
	l.v.SetDefault("inpainter.pad_multiple", defaults.Inpainter.PadMultiple)
	l.v.SetDefault("inpainter.crop_margin", defaults.Inpainter.CropMargin)
	l.v.SetDefault("inpainter.output_255", defaults.Inpainter.Output255)
	l.v.SetDefault("inpainter.smoothing", defaults.Inpainter.Smoothing)
	l.v.SetDefault("inpainter.num_threads", defaults.Inpainter.NumThreads)

	l.v.SetDefault("pipeline.conf_floor", defaults.Pipeline.ConfFloor)
	l.v.SetDefault("pipeline.expansion_px", defaults.Pipeline.ExpansionPx)
	l.v.SetDefault("pipeline.progress_interval_ms", defaults.Pipeline.ProgressInterval)

	l.v.SetDefault("loader.workers", defaults.Loader.Workers)
	l.v.SetDefault("loader.neighbor_radius", defaults.Loader.NeighborRadius)

	l.v.SetDefault("output.dir", defaults.Output.Dir)
	l.v.SetDefault("output.overlay_dir", defaults.Output.OverlayDir)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	l.v.SetDefault("gpu.enabled", defaults.GPU.Enabled)
	l.v.SetDefault("gpu.device", defaults.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", defaults.GPU.MemoryLimit)

	l.v.SetDefault("classes.preset_file", defaults.Classes.PresetFile)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the defaults to filename (retouch.yaml
// when empty).
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWith(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo() {
	fmt.Printf("Configuration file used: %s\n", l.GetConfigFileUsed())
	fmt.Printf("Configuration search paths: %v\n", GetConfigSearchPaths())
	fmt.Printf("Environment prefix: %s\n", EnvPrefix)
}
