package classes

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/retouch/internal/utils"
)

// ErrUnknownClass is returned when a mutation names a class that is not configured.
var ErrUnknownClass = errors.New("unknown class")

// Setting is the configuration of one canonical class.
type Setting struct {
	Enabled   bool
	Threshold float64
	Color     color.NRGBA
}

// Validate checks that the threshold lies in [0, 1].
func (s Setting) Validate() error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0, 1], got %v", s.Threshold)
	}
	return nil
}

// DefaultSettings returns the built-in class table.
func DefaultSettings() map[string]Setting {
	return map[string]Setting{
		Text:      {Enabled: true, Threshold: 0.5, Color: color.NRGBA{R: 255, A: 255}},
		FonText:   {Enabled: true, Threshold: 0.5, Color: color.NRGBA{R: 255, G: 140, A: 255}},
		Bubble:    {Enabled: false, Threshold: 0.5, Color: color.NRGBA{G: 160, B: 255, A: 255}},
		Watermark: {Enabled: true, Threshold: 0.6, Color: color.NRGBA{R: 200, B: 200, A: 255}},
		Logo:      {Enabled: false, Threshold: 0.6, Color: color.NRGBA{G: 200, A: 255}},
	}
}

// Config is the shared, mutable class table. Changes apply to the next
// normalization; regions that already exist keep their stored data.
type Config struct {
	mu       sync.RWMutex
	settings map[string]Setting
}

// NewConfig returns a Config populated with DefaultSettings.
func NewConfig() *Config {
	return &Config{settings: DefaultSettings()}
}

// NewConfigFrom builds a Config from explicit settings.
func NewConfigFrom(settings map[string]Setting) (*Config, error) {
	c := &Config{settings: make(map[string]Setting, len(settings))}
	for name, s := range settings {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		c.settings[name] = s
	}
	return c, nil
}

// Get returns the setting for class and whether it is configured.
func (c *Config) Get(class string) (Setting, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.settings[class]
	return s, ok
}

// Set replaces (or adds) the setting for class.
func (c *Config) Set(class string, s Setting) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("class %s: %w", class, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[class] = s
	return nil
}

func (c *Config) update(class string, fn func(*Setting) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.settings[class]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	if err := fn(&s); err != nil {
		return fmt.Errorf("class %s: %w", class, err)
	}
	c.settings[class] = s
	return nil
}

// SetEnabled toggles a configured class.
func (c *Config) SetEnabled(class string, enabled bool) error {
	return c.update(class, func(s *Setting) error {
		s.Enabled = enabled
		return nil
	})
}

// SetThreshold changes the confidence threshold of a configured class.
func (c *Config) SetThreshold(class string, threshold float64) error {
	return c.update(class, func(s *Setting) error {
		s.Threshold = threshold
		return s.Validate()
	})
}

// SetColor changes the display color of a configured class.
func (c *Config) SetColor(class string, col color.NRGBA) error {
	return c.update(class, func(s *Setting) error {
		s.Color = col
		return nil
	})
}

// Accepts reports whether a detection of class with the given confidence
// passes the table: the class must be configured, enabled and at or above
// its threshold.
func (c *Config) Accepts(class string, confidence float64) bool {
	s, ok := c.Get(class)
	return ok && s.Enabled && confidence >= s.Threshold
}

// Visible reports whether regions of class should be displayed. Classes
// that are not configured (manual labels) are always visible.
func (c *Config) Visible(class string) bool {
	s, ok := c.Get(class)
	return !ok || s.Enabled
}

// ColorFor returns the display color of class, or fallback when unknown.
func (c *Config) ColorFor(class string, fallback color.NRGBA) color.NRGBA {
	if s, ok := c.Get(class); ok {
		return s.Color
	}
	return fallback
}

// Names returns the configured class names in sorted order.
func (c *Config) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.settings))
	for n := range c.settings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the table.
func (c *Config) Snapshot() map[string]Setting {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Setting, len(c.settings))
	for k, v := range c.settings {
		out[k] = v
	}
	return out
}

// settingYAML is the on-disk form of a Setting.
type settingYAML struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	Color     string  `yaml:"color"`
}

// MarshalYAML implements yaml.Marshaler.
func (c *Config) MarshalYAML() (any, error) {
	out := make(map[string]settingYAML)
	for name, s := range c.Snapshot() {
		out[name] = settingYAML{Enabled: s.Enabled, Threshold: s.Threshold, Color: utils.HexColor(s.Color)}
	}
	return out, nil
}

// ParseYAML decodes a class preset. Missing classes keep their defaults.
func ParseYAML(data []byte) (*Config, error) {
	var raw map[string]settingYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse class preset: %w", err)
	}
	settings := DefaultSettings()
	for name, r := range raw {
		col, err := utils.ParseHexColor(r.Color)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		settings[name] = Setting{Enabled: r.Enabled, Threshold: r.Threshold, Color: col}
	}
	return NewConfigFrom(settings)
}

// LoadFile reads a YAML class preset from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: preset path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("read class preset: %w", err)
	}
	return ParseYAML(data)
}

// SaveFile writes the table as a YAML preset.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode class preset: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write class preset: %w", err)
	}
	return nil
}
