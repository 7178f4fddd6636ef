package inpaint

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/retouch/internal/bitmap"
	"github.com/MeKo-Tech/retouch/internal/onnx"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

type runner interface {
	Run(inputs ...onnx.Tensor) ([]onnx.Output, error)
	Close() error
}

// Config holds the ONNX inpainter settings.
type Config struct {
	Session     onnx.SessionConfig
	PadMultiple int  // input sides are padded to a multiple of this
	CropMargin  int  // >0 restricts inference to the mask bounds plus margin
	Output255   bool // model emits 0..255 instead of 0..1
}

// DefaultConfig returns settings for a LaMa-style model.
func DefaultConfig() Config {
	return Config{
		Session:     onnx.SessionConfig{GPU: onnx.DefaultGPUConfig()},
		PadMultiple: 8,
		CropMargin:  64,
		Output255:   true,
	}
}

// ONNXInpainter runs an image+mask model ([1,3,H,W] and [1,1,H,W] in,
// [1,3,H,W] out).
type ONNXInpainter struct {
	cfg     Config
	session runner
}

// NewONNXInpainter opens the inpainting model.
func NewONNXInpainter(cfg Config) (*ONNXInpainter, error) {
	if cfg.PadMultiple < 1 {
		return nil, fmt.Errorf("pad multiple must be >= 1, got %d", cfg.PadMultiple)
	}
	sess, err := onnx.NewSession(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to open inpainter model: %w", err)
	}
	return &ONNXInpainter{cfg: cfg, session: sess}, nil
}

// Inpaint implements Inpainter.
func (p *ONNXInpainter) Inpaint(ctx context.Context, img image.Image, mask *bitmap.Mask) (image.Image, error) {
	if err := CheckMask(img, mask); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p == nil || p.session == nil {
		return nil, errors.New("inpainter model unavailable")
	}
	start := time.Now()
	src := utils.ToNRGBA(img)

	work := src.Bounds()
	if p.cfg.CropMargin > 0 {
		work = mask.BoundingRect().Inset(-p.cfg.CropMargin).Intersect(work)
	}
	crop := utils.CropImageRect(src, work)
	cropMask := bitmap.New(work.Dx(), work.Dy())
	for y := range cropMask.Height {
		for x := range cropMask.Width {
			cropMask.Set(x, y, mask.At(work.Min.X+x, work.Min.Y+y))
		}
	}

	padded := utils.PadToMultiple(crop, p.cfg.PadMultiple)
	pw, ph := padded.Bounds().Dx(), padded.Bounds().Dy()
	data, _, _, err := utils.NormalizeImage(padded)
	if err != nil {
		return nil, err
	}
	imgTensor, err := onnx.NewImageTensor(data, 3, ph, pw)
	if err != nil {
		return nil, err
	}
	defer imgTensor.Release()
	padMask := bitmap.New(pw, ph)
	for y := range cropMask.Height {
		copy(padMask.Pix[y*pw:y*pw+cropMask.Width], cropMask.Pix[y*cropMask.Width:(y+1)*cropMask.Width])
	}
	maskTensor, err := onnx.NewMaskTensor(padMask.Pix, ph, pw)
	if err != nil {
		return nil, err
	}
	defer maskTensor.Release()

	outs, err := p.session.Run(imgTensor, maskTensor)
	if err != nil {
		return nil, fmt.Errorf("inpainting failed: %w", err)
	}
	if len(outs) == 0 {
		return nil, errors.New("inpainter returned no outputs")
	}
	out := outs[0]
	if err := onnx.ValidateNCHW(out.Shape); err != nil || out.Shape[1] != 3 {
		return nil, fmt.Errorf("unexpected inpainter output shape %v", out.Shape)
	}
	oh, ow := int(out.Shape[2]), int(out.Shape[3])
	filled, err := utils.TensorToImage(out.Data, ow, oh, p.cfg.Output255)
	if err != nil {
		return nil, err
	}
	if ow < cropMask.Width || oh < cropMask.Height {
		return nil, fmt.Errorf("inpainter output %dx%d smaller than input %dx%d", ow, oh, cropMask.Width, cropMask.Height)
	}

	patch := Composite(crop, filled, cropMask)
	result := utils.ToNRGBA(src)
	for y := range cropMask.Height {
		si := patch.PixOffset(0, y)
		di := result.PixOffset(work.Min.X, work.Min.Y+y)
		copy(result.Pix[di:di+4*cropMask.Width], patch.Pix[si:si+4*cropMask.Width])
	}
	slog.Debug("ONNX inpaint finished", "region", work, "duration", time.Since(start))
	return result, nil
}

// Close releases the model session.
func (p *ONNXInpainter) Close() error {
	if p == nil || p.session == nil {
		return nil
	}
	return p.session.Close()
}
