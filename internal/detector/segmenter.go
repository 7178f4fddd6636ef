package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/retouch/internal/onnx"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// SegmenterConfig holds the ONNX segmenter settings.
type SegmenterConfig struct {
	Session         onnx.SessionConfig
	InputSize       int
	Labels          []string
	BinaryThreshold float32 // pixel probability that counts as foreground
	MinArea         int     // components smaller than this (map pixels) are dropped
	SimplifyEpsilon float64 // Douglas-Peucker tolerance in map pixels
}

// DefaultSegmenterConfig returns defaults for a 1024px per-class map model.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Session:         onnx.SessionConfig{GPU: onnx.DefaultGPUConfig()},
		InputSize:       1024,
		Labels:          []string{"text", "fon_text", "bubble", "watermark", "logo"},
		BinaryThreshold: 0.5,
		MinArea:         16,
		SimplifyEpsilon: 1.5,
	}
}

func (c SegmenterConfig) validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if len(c.Labels) == 0 {
		return errors.New("labels cannot be empty")
	}
	if c.BinaryThreshold <= 0 || c.BinaryThreshold >= 1 {
		return fmt.Errorf("binary threshold must be in (0,1), got %f", c.BinaryThreshold)
	}
	return nil
}

// ONNXSegmenter decodes per-class probability maps [1, C, H, W] into polygons.
type ONNXSegmenter struct {
	cfg     SegmenterConfig
	session runner
}

// NewONNXSegmenter opens the segmentation model.
func NewONNXSegmenter(cfg SegmenterConfig) (*ONNXSegmenter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sess, err := onnx.NewSession(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to open segmenter model: %w", err)
	}
	slog.Debug("Segmenter initialized", "model", cfg.Session.ModelPath, "input_size", cfg.InputSize)
	return &ONNXSegmenter{cfg: cfg, session: sess}, nil
}

// Segment runs the model on img and returns polygons in image pixels.
func (s *ONNXSegmenter) Segment(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.session == nil {
		return nil, &InferenceError{Op: "segment", Err: ErrModelUnavailable}
	}
	start := time.Now()
	input, lb, err := prepareInput(img, s.cfg.InputSize)
	if err != nil {
		return nil, &InferenceError{Op: "segment", Err: err}
	}
	defer input.Release()
	outs, err := s.session.Run(input)
	if err != nil {
		return nil, &InferenceError{Op: "segment", Err: err}
	}
	if len(outs) == 0 {
		return nil, &InferenceError{Op: "segment", Err: errors.New("model returned no outputs")}
	}
	b := img.Bounds()
	dets, err := decodeSegmentation(outs[0], s.cfg, confFloor, lb, b.Dx(), b.Dy())
	if err != nil {
		return nil, &InferenceError{Op: "segment", Err: err}
	}
	slog.Debug("Segmentation finished", "polygons", len(dets), "duration", time.Since(start))
	return dets, nil
}

// Close releases the model session.
func (s *ONNXSegmenter) Close() error {
	if s == nil || s.session == nil {
		return nil
	}
	return s.session.Close()
}

// decodeSegmentation thresholds every class map, labels its components and
// traces one polygon per component. The component's mean probability is its
// confidence.
func decodeSegmentation(out onnx.Output, cfg SegmenterConfig, confFloor float64, lb utils.Letterbox,
	imgW, imgH int,
) ([]RawDetection, error) {
	if err := onnx.ValidateNCHW(out.Shape); err != nil {
		return nil, fmt.Errorf("unexpected segmenter output: %w", err)
	}
	nc, mh, mw := int(out.Shape[1]), int(out.Shape[2]), int(out.Shape[3])
	if len(out.Data) != nc*mh*mw {
		return nil, fmt.Errorf("segmenter output length %d != %d", len(out.Data), nc*mh*mw)
	}
	// Maps may be predicted at a lower resolution than the input.
	sx := float64(cfg.InputSize) / float64(mw)
	sy := float64(cfg.InputSize) / float64(mh)
	canvas := utils.CanvasBox(imgW, imgH)
	minArea := max(cfg.MinArea, 1)

	var dets []RawDetection
	plane := mh * mw
	for c := range nc {
		prob := out.Data[c*plane : (c+1)*plane]
		comps, labels := connectedComponents(binarize(prob, mw, mh, cfg.BinaryThreshold), prob)
		for _, comp := range comps {
			if comp.count < minArea || comp.mean() < confFloor {
				continue
			}
			pts := traceContour(labels, mw, mh, comp)
			pts = utils.SimplifyPolygon(pts, cfg.SimplifyEpsilon)
			if len(pts) < 3 {
				pts = utils.Box{
					MinX: float64(comp.minX), MinY: float64(comp.minY),
					MaxX: float64(comp.maxX + 1), MaxY: float64(comp.maxY + 1),
				}.Polygon()
			} else {
				pts = utils.OffsetPoints(pts, 0.5, 0.5)
			}
			for i, p := range pts {
				pts[i] = lb.ToOriginal(utils.Point{X: p.X * sx, Y: p.Y * sy})
			}
			pts = utils.ClipPolygon(pts, canvas)
			if len(pts) < 3 {
				continue
			}
			dets = append(dets, RawDetection{
				Label:      labelFor(cfg.Labels, c),
				Confidence: comp.mean(),
				Box:        utils.BoundingBox(pts),
				Polygon:    pts,
			})
		}
	}
	return dets, nil
}
