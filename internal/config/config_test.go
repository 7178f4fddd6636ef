package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, models.DefaultModelsDir, cfg.ModelsDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 640, cfg.Detector.InputSize)
	assert.Equal(t, 1024, cfg.Segmenter.InputSize)
	assert.Equal(t, BackendDiffusion, cfg.Inpainter.Backend)
	assert.Equal(t, 8, cfg.Inpainter.PadMultiple)
	assert.Equal(t, 4, cfg.Loader.Workers)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "auto", cfg.GPU.MemoryLimit)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"nms above one", func(c *Config) { c.Detector.NMSThreshold = 1.5 }, "detector.nms_threshold"},
		{"negative conf floor", func(c *Config) { c.Pipeline.ConfFloor = -0.1 }, "pipeline.conf_floor"},
		{"zero detector input", func(c *Config) { c.Detector.InputSize = 0 }, "detector input size"},
		{"zero segmenter input", func(c *Config) { c.Segmenter.InputSize = 0 }, "segmenter input size"},
		{"negative expansion", func(c *Config) { c.Pipeline.ExpansionPx = -1 }, "invalid expansion"},
		{"unknown backend", func(c *Config) { c.Inpainter.Backend = "opencv" }, "inpainter backend"},
		{"zero pad multiple", func(c *Config) { c.Inpainter.PadMultiple = 0 }, "pad multiple"},
		{"zero loader workers", func(c *Config) { c.Loader.Workers = 0 }, "loader workers"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"zero upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload"},
		{"bad memory limit", func(c *Config) { c.GPU.MemoryLimit = "lots" }, "GPU memory limit"},
		{"class threshold", func(c *Config) {
			v := 2.0
			c.Classes.Overrides = map[string]ClassOverride{"text": {Threshold: &v}}
		}, "classes.text.threshold"},
		{"class color", func(c *Config) {
			c.Classes.Overrides = map[string]ClassOverride{"logo": {Color: "#zz0000"}}
		}, "invalid color for class logo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"512MB", 512 << 20, false},
		{"2gb", 2 << 30, false},
		{"1.5KB", 1536, false},
		{"100B", 100, false},
		{"GB", 0, true},
		{"12", 0, true},
		{"-1MB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMemoryLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToDetectorConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = "/opt/models"
	cfg.Detector.InputSize = 1280
	cfg.Detector.NMSThreshold = 0.3
	cfg.Detector.NumThreads = 2
	cfg.GPU.Enabled = true
	cfg.GPU.Device = 1
	cfg.GPU.MemoryLimit = "1GB"

	dc := cfg.ToDetectorConfig()
	assert.Equal(t, filepath.Join("/opt/models", models.DetectorModel), dc.Session.ModelPath)
	assert.Equal(t, 1280, dc.InputSize)
	assert.InDelta(t, 0.3, dc.NMSThreshold, 1e-9)
	assert.Equal(t, 2, dc.Session.NumThreads)
	assert.True(t, dc.Session.GPU.UseGPU)
	assert.Equal(t, 1, dc.Session.GPU.DeviceID)
	assert.Equal(t, uint64(1<<30), dc.Session.GPU.GPUMemLimit)

	cfg.Detector.ModelPath = "/tmp/custom.onnx"
	assert.Equal(t, "/tmp/custom.onnx", cfg.ToDetectorConfig().Session.ModelPath)
}

func TestToSegmenterConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Segmenter.Labels = []string{"text", "sfx"}
	cfg.Segmenter.MinArea = 64

	sc := cfg.ToSegmenterConfig()
	assert.Equal(t, []string{"text", "sfx"}, sc.Labels)
	assert.Equal(t, 64, sc.MinArea)
	assert.InDelta(t, 0.5, float64(sc.BinaryThreshold), 1e-6)
	assert.Contains(t, sc.Session.ModelPath, models.SegmenterModel)
}

func TestToInpainterConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inpainter.CropMargin = 0
	cfg.Inpainter.Output255 = false

	ic := cfg.ToInpainterConfig()
	assert.Equal(t, 8, ic.PadMultiple)
	assert.Equal(t, 0, ic.CropMargin)
	assert.False(t, ic.Output255)
	assert.Contains(t, ic.Session.ModelPath, models.InpainterModel)

	cfg.Inpainter.Smoothing = 3
	assert.Equal(t, 3, cfg.ToDiffusion().Smoothing)
}

func TestToParamsAndInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.ConfFloor = 0.4
	cfg.Pipeline.ExpansionPx = 6

	p := cfg.ToParams()
	assert.InDelta(t, 0.4, p.ConfFloor, 1e-9)
	assert.InDelta(t, 6.0, p.ExpansionPx, 1e-9)
	assert.True(t, p.ROI.Empty())
	assert.Equal(t, 200*time.Millisecond, cfg.ProgressInterval())
}

func TestToClassConfig(t *testing.T) {
	enabled := true
	threshold := 0.95
	cfg := DefaultConfig()
	cfg.Classes.Overrides = map[string]ClassOverride{
		"Fon":    {Threshold: &threshold},
		"bubble": {Enabled: &enabled, Color: "#00ff00"},
	}

	table, err := cfg.ToClassConfig()
	require.NoError(t, err)

	fon, ok := table.Get(classes.FonText)
	require.True(t, ok)
	assert.InDelta(t, 0.95, fon.Threshold, 1e-9)
	assert.False(t, table.Accepts(classes.FonText, 0.9))

	bubble, ok := table.Get(classes.Bubble)
	require.True(t, ok)
	assert.True(t, bubble.Enabled)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, bubble.Color)

	// untouched classes keep their defaults
	text, _ := table.Get(classes.Text)
	assert.Equal(t, classes.DefaultSettings()[classes.Text], text)
}

func TestToClassConfigPresetFile(t *testing.T) {
	dir := t.TempDir()
	preset := filepath.Join(dir, "classes.yaml")
	require.NoError(t, os.WriteFile(preset, []byte(`
watermark:
  enabled: false
  threshold: 0.7
  color: "#112233"
`), 0o600))

	cfg := DefaultConfig()
	cfg.Classes.PresetFile = preset
	table, err := cfg.ToClassConfig()
	require.NoError(t, err)

	wm, _ := table.Get(classes.Watermark)
	assert.False(t, wm.Enabled)
	assert.InDelta(t, 0.7, wm.Threshold, 1e-9)

	cfg.Classes.PresetFile = filepath.Join(dir, "missing.yaml")
	_, err = cfg.ToClassConfig()
	assert.Error(t, err)
}
