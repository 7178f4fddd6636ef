package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/retouch/internal/detector"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// FixtureDetection is the stored form of a detector result.
type FixtureDetection struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	X          float64      `json:"x"`
	Y          float64      `json:"y"`
	W          float64      `json:"w"`
	H          float64      `json:"h"`
	Polygon    [][2]float64 `json:"polygon,omitempty"`
}

// PageFixture is a synthetic page together with the detections a model is
// expected to report on it.
type PageFixture struct {
	Name       string             `json:"name"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Lines      []TextLine         `json:"lines"`
	Detections []FixtureDetection `json:"detections"`
}

// TextFixture returns a fixture whose detections cover each text line of
// DefaultPageSpec with a small margin.
func TextFixture() PageFixture {
	spec := DefaultPageSpec()
	f := PageFixture{Name: "text", Width: spec.Width, Height: spec.Height, Lines: spec.Lines}
	for _, line := range spec.Lines {
		r := TextBounds(line).Inset(-2)
		f.Detections = append(f.Detections, FixtureDetection{
			Label:      "text",
			Confidence: 0.9,
			X:          float64(r.Min.X),
			Y:          float64(r.Min.Y),
			W:          float64(r.Dx()),
			H:          float64(r.Dy()),
		})
	}
	return f
}

// Image renders the fixture page.
func (f PageFixture) Image() *image.NRGBA {
	spec := DefaultPageSpec()
	spec.Width, spec.Height, spec.Lines = f.Width, f.Height, f.Lines
	return GeneratePage(spec)
}

// Raw converts the stored detections into detector results.
func (f PageFixture) Raw() []detector.RawDetection {
	out := make([]detector.RawDetection, 0, len(f.Detections))
	for _, d := range f.Detections {
		raw := detector.RawDetection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        utils.NewBox(d.X, d.Y, d.X+d.W, d.Y+d.H),
		}
		for _, p := range d.Polygon {
			raw.Polygon = append(raw.Polygon, utils.Point{X: p[0], Y: p[1]})
		}
		out = append(out, raw)
	}
	return out
}

// FixtureDetector answers every call with the fixture's detections, dropping
// those below the confidence floor. It counts its calls.
type FixtureDetector struct {
	Fixture PageFixture

	mu    sync.Mutex
	calls int
}

// Detect implements detector.Detector.
func (d *FixtureDetector) Detect(ctx context.Context, _ image.Image, confFloor float64) ([]detector.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	var out []detector.RawDetection
	for _, r := range d.Fixture.Raw() {
		if r.Confidence >= confFloor {
			out = append(out, r)
		}
	}
	return out, nil
}

// Segment implements detector.Segmenter with the same answers.
func (d *FixtureDetector) Segment(ctx context.Context, img image.Image, confFloor float64) ([]detector.RawDetection, error) {
	return d.Detect(ctx, img, confFloor)
}

// Calls returns how many times the detector ran.
func (d *FixtureDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// SaveFixture writes a fixture as JSON to dir/<name>.json.
func SaveFixture(dir string, f PageFixture) (string, error) {
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal fixture %s: %w", f.Name, err)
	}
	path := filepath.Join(dir, f.Name+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write fixture: %w", err)
	}
	return path, nil
}

// LoadFixture reads a fixture written by SaveFixture.
func LoadFixture(path string) (PageFixture, error) {
	var f PageFixture
	data, err := os.ReadFile(path) //nolint:gosec // test fixture path
	if err != nil {
		return f, fmt.Errorf("failed to read fixture: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return f, nil
}

var (
	_ detector.Detector  = (*FixtureDetector)(nil)
	_ detector.Segmenter = (*FixtureDetector)(nil)
)
