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

// runner is the subset of *onnx.Session used by the ONNX models.
type runner interface {
	Run(inputs ...onnx.Tensor) ([]onnx.Output, error)
	Close() error
}

// Config holds the ONNX box detector settings.
type Config struct {
	Session      onnx.SessionConfig
	InputSize    int      // square model input edge
	Labels       []string // model class index -> label
	NMSThreshold float64
}

// DefaultConfig returns a detector config for a 640px YOLO-style model.
func DefaultConfig() Config {
	return Config{
		Session:      onnx.SessionConfig{NumThreads: 0, GPU: onnx.DefaultGPUConfig()},
		InputSize:    640,
		Labels:       []string{"text", "fon_text", "bubble", "watermark", "logo"},
		NMSThreshold: 0.45,
	}
}

func (c Config) validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if len(c.Labels) == 0 {
		return errors.New("labels cannot be empty")
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("NMS threshold must be in [0,1], got %f", c.NMSThreshold)
	}
	return nil
}

// ONNXDetector decodes a [1, 4+C, N] box model (centre x, centre y, width,
// height, then one score row per class).
type ONNXDetector struct {
	cfg     Config
	session runner
}

// NewONNXDetector opens the detector model.
func NewONNXDetector(cfg Config) (*ONNXDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sess, err := onnx.NewSession(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to open detector model: %w", err)
	}
	slog.Debug("Detector initialized", "model", cfg.Session.ModelPath, "input_size", cfg.InputSize,
		"labels", len(cfg.Labels))
	return &ONNXDetector{cfg: cfg, session: sess}, nil
}

// Detect runs the model on img and returns boxes in image pixels with a
// confidence of at least confFloor.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image, confFloor float64) ([]RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d == nil || d.session == nil {
		return nil, &InferenceError{Op: "detect", Err: ErrModelUnavailable}
	}
	start := time.Now()
	input, lb, err := prepareInput(img, d.cfg.InputSize)
	if err != nil {
		return nil, &InferenceError{Op: "detect", Err: err}
	}
	defer input.Release()
	outs, err := d.session.Run(input)
	if err != nil {
		return nil, &InferenceError{Op: "detect", Err: err}
	}
	if len(outs) == 0 {
		return nil, &InferenceError{Op: "detect", Err: errors.New("model returned no outputs")}
	}
	b := img.Bounds()
	dets, err := decodeDetections(outs[0], d.cfg.Labels, confFloor, lb, b.Dx(), b.Dy())
	if err != nil {
		return nil, &InferenceError{Op: "detect", Err: err}
	}
	dets = NonMaxSuppression(dets, d.cfg.NMSThreshold)
	slog.Debug("Detection finished", "detections", len(dets), "duration", time.Since(start))
	return dets, nil
}

// Close releases the model session.
func (d *ONNXDetector) Close() error {
	if d == nil || d.session == nil {
		return nil
	}
	return d.session.Close()
}

// prepareInput letterboxes img to size x size and returns the NCHW tensor.
func prepareInput(img image.Image, size int) (onnx.Tensor, utils.Letterbox, error) {
	boxed, lb, err := utils.LetterboxImage(img, size)
	if err != nil {
		return onnx.Tensor{}, lb, err
	}
	data, w, h, err := utils.NormalizeImage(boxed)
	if err != nil {
		return onnx.Tensor{}, lb, err
	}
	t, err := onnx.NewImageTensor(data, 3, h, w)
	return t, lb, err
}

func labelFor(labels []string, i int) string {
	if i >= 0 && i < len(labels) {
		return labels[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// decodeDetections turns a [1, 4+C, N] (or transposed [1, N, 4+C]) output
// into boxes in original image coordinates.
func decodeDetections(out onnx.Output, labels []string, confFloor float64, lb utils.Letterbox,
	imgW, imgH int,
) ([]RawDetection, error) {
	if len(out.Shape) != 3 || out.Shape[0] != 1 {
		return nil, fmt.Errorf("unexpected detector output shape %v", out.Shape)
	}
	rows, n := int(out.Shape[1]), int(out.Shape[2])
	transposed := false
	if rows > n && n >= 5 {
		rows, n = n, rows
		transposed = true
	}
	if rows < 5 {
		return nil, fmt.Errorf("detector output needs at least 5 rows, got %d", rows)
	}
	if len(out.Data) != rows*n {
		return nil, fmt.Errorf("detector output length %d != %d", len(out.Data), rows*n)
	}
	at := func(r, i int) float64 {
		if transposed {
			return float64(out.Data[i*rows+r])
		}
		return float64(out.Data[r*n+i])
	}

	canvas := utils.CanvasBox(imgW, imgH)
	var dets []RawDetection
	for i := range n {
		best, score := -1, 0.0
		for c := 0; c < rows-4; c++ {
			if s := at(4+c, i); s > score {
				best, score = c, s
			}
		}
		if best < 0 || score < confFloor {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		p1 := lb.ToOriginal(utils.Point{X: cx - w/2, Y: cy - h/2})
		p2 := lb.ToOriginal(utils.Point{X: cx + w/2, Y: cy + h/2})
		box := utils.NewBox(p1.X, p1.Y, p2.X, p2.Y).Intersect(canvas)
		if box.Area() <= 0 {
			continue
		}
		dets = append(dets, RawDetection{Label: labelFor(labels, best), Confidence: score, Box: box})
	}
	return dets, nil
}
