package detector

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/retouch/internal/utils"
)

// RawDetection is one unnormalized result from a detector or segmenter.
// Segmenter results carry a Polygon; detector results only a Box.
type RawDetection struct {
	Label      string
	Confidence float64
	Box        utils.Box
	Polygon    []utils.Point
}

// IsPolygon reports whether the detection carries polygon geometry.
func (d RawDetection) IsPolygon() bool { return len(d.Polygon) >= 3 }

// Detector proposes labelled boxes on a page image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error)
}

// Segmenter proposes labelled polygons on a page image.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error)
}

// ErrModelUnavailable is wrapped by InferenceError when no model session exists.
var ErrModelUnavailable = errors.New("model unavailable")

// InferenceError reports a failed detector or segmenter call.
type InferenceError struct {
	Op  string // "detect" or "segment"
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error) {
	return f(ctx, img, confFloor)
}

// SegmenterFunc adapts a function to the Segmenter interface.
type SegmenterFunc func(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error)

// Segment calls f.
func (f SegmenterFunc) Segment(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error) {
	return f(ctx, img, confFloor)
}
